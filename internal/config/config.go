// Package config loads the YAML scene and tuning file for a simulation run
// and converts it into the parameter structs the other packages consume.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/schedule"
	"github.com/talgya/townsfolk/internal/world"
)

// Environment keys that override the file.
const (
	EnvAdminKeyHash = "TOWNSIM_ADMIN_KEY_HASH"
	EnvJournalDSN   = "TOWNSIM_JOURNAL_DSN"
	EnvLLMKey       = "ANTHROPIC_API_KEY"
)

// Config is the complete configuration for a simulation run.
type Config struct {
	Sim        SimConfig        `yaml:"sim" json:"sim"`
	Grid       GridConfig       `yaml:"grid" json:"grid"`
	Agent      AgentConfig      `yaml:"agent" json:"agent"`
	Need       NeedConfig       `yaml:"need" json:"need"`
	Social     SocialConfig     `yaml:"social" json:"social"`
	Zones      []ZoneConfig     `yaml:"zones" json:"zones" jsonschema:"description=Roaming regions and fixed paths"`
	Resources  []ResourceConfig `yaml:"resources" json:"resources" jsonschema:"description=Shared resources registered at startup"`
	Population []GroupConfig    `yaml:"population" json:"population" jsonschema:"description=Agent groups spawned at startup"`
	Journal    JournalConfig    `yaml:"journal" json:"journal"`
	API        APIConfig        `yaml:"api" json:"api"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
}

// SimConfig controls the tick loop and the clock.
type SimConfig struct {
	TickSeconds     float64       `yaml:"tickSeconds" json:"tickSeconds" jsonschema:"title=Tick length,description=Sim time units advanced per tick"`
	Interval        time.Duration `yaml:"interval" json:"interval" jsonschema:"description=Wall-clock time between ticks at speed 1"`
	Seed            int64         `yaml:"seed" json:"seed"`
	DayLength       float64       `yaml:"dayLength" json:"dayLength" jsonschema:"description=Sim time units per 24 hour day"`
	StartHour       float64       `yaml:"startHour" json:"startHour" jsonschema:"minimum=0,maximum=24"`
	CheckInvariants bool          `yaml:"checkInvariants" json:"checkInvariants" jsonschema:"description=Verify queue and occupancy invariants after every tick"`
}

// GridConfig shapes the reference walkability grid.
type GridConfig struct {
	Width    float64 `yaml:"width" json:"width"`
	Height   float64 `yaml:"height" json:"height"`
	CellSize float64 `yaml:"cellSize" json:"cellSize"`
	Clutter  float64 `yaml:"clutter" json:"clutter" jsonschema:"minimum=0,maximum=1,description=Fraction of floor carved out as obstacles"`
	Scale    float64 `yaml:"scale" json:"scale"`
}

// AgentConfig holds locomotion and behavior tuning.
type AgentConfig struct {
	Speed         float64 `yaml:"speed" json:"speed"`
	SlowFactor    float64 `yaml:"slowFactor" json:"slowFactor"`
	RestRadius    float64 `yaml:"restRadius" json:"restRadius"`
	ContactRadius float64 `yaml:"contactRadius" json:"contactRadius"`
	RoamRecheck   float64 `yaml:"roamRecheck" json:"roamRecheck"`
	IdleRetry     float64 `yaml:"idleRetry" json:"idleRetry"`
	IdleExitRatio float64 `yaml:"idleExitRatio" json:"idleExitRatio"`
	ResearchDelay float64 `yaml:"researchDelay" json:"researchDelay"`
	ExitDistance  float64 `yaml:"exitDistance" json:"exitDistance"`
	SlotSpacing   float64 `yaml:"slotSpacing" json:"slotSpacing"`
	LaneOffset    float64 `yaml:"laneOffset" json:"laneOffset"`
	StallTimeout  float64 `yaml:"stallTimeout" json:"stallTimeout"`
}

// NeedConfig holds the stamina model.
type NeedConfig struct {
	Max           float64        `yaml:"max" json:"max"`
	Initial       float64        `yaml:"initial" json:"initial"`
	Depletion     float64        `yaml:"depletion" json:"depletion"`
	Recovery      float64        `yaml:"recovery" json:"recovery"`
	IdleRecovery  float64        `yaml:"idleRecovery" json:"idleRecovery"`
	Threshold     float64        `yaml:"threshold" json:"threshold" jsonschema:"minimum=0,maximum=1"`
	MealThreshold float64        `yaml:"mealThreshold" json:"mealThreshold" jsonschema:"minimum=0,maximum=1"`
	AdequateRatio float64        `yaml:"adequateRatio" json:"adequateRatio" jsonschema:"minimum=0,maximum=1"`
	Blacklist     float64        `yaml:"blacklist" json:"blacklist"`
	Grace         float64        `yaml:"grace" json:"grace"`
	RestStart     float64        `yaml:"restStart" json:"restStart" jsonschema:"minimum=0,maximum=24"`
	RestEnd       float64        `yaml:"restEnd" json:"restEnd" jsonschema:"minimum=0,maximum=24"`
	Meals         []WindowConfig `yaml:"meals" json:"meals" jsonschema:"description=Meal windows during which food is sought"`
}

// SocialConfig holds the conversation handshake tuning.
type SocialConfig struct {
	Range     float64 `yaml:"range" json:"range" jsonschema:"description=Zero disables conversations"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Cost      float64 `yaml:"cost" json:"cost"`
	Duration  float64 `yaml:"duration" json:"duration"`
	Cooldown  float64 `yaml:"cooldown" json:"cooldown"`
}

// WindowConfig is a recurring time-of-day window.
type WindowConfig struct {
	Cron string        `yaml:"cron" json:"cron" jsonschema:"title=Cron expression,description=Five-field expression; only minute and hour matter"`
	Span time.Duration `yaml:"span" json:"span"`
}

// Point is a world position.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

func (p Point) vec() world.Vec2 { return world.Vec2{X: p.X, Y: p.Y} }

// ZoneConfig is a roaming region, optionally with a fixed path.
type ZoneConfig struct {
	ID   uint32  `yaml:"id" json:"id" jsonschema:"minimum=1"`
	Min  Point   `yaml:"min" json:"min"`
	Max  Point   `yaml:"max" json:"max"`
	Path []Point `yaml:"path,omitempty" json:"path,omitempty" jsonschema:"description=Polyline traversed by fixed-path agents"`
}

// ResourceConfig is one shared resource.
type ResourceConfig struct {
	Name           string  `yaml:"name" json:"name"`
	Category       string  `yaml:"category" json:"category" jsonschema:"enum=food,enum=rest,enum=seating"`
	Kind           string  `yaml:"kind" json:"kind" jsonschema:"enum=seat,enum=stand,enum=consumable"`
	Position       Point   `yaml:"position" json:"position"`
	Facing         Point   `yaml:"facing" json:"facing"`
	Zone           uint32  `yaml:"zone" json:"zone" jsonschema:"description=Zero makes the resource visible from every zone"`
	QueueLimit     int     `yaml:"queueLimit" json:"queueLimit" jsonschema:"minimum=0"`
	Duration       float64 `yaml:"duration" json:"duration"`
	Recovery       float64 `yaml:"recovery" json:"recovery"`
	RespawnDelay   float64 `yaml:"respawnDelay" json:"respawnDelay"`
	OverstayFactor float64 `yaml:"overstayFactor" json:"overstayFactor"`
}

// GroupConfig is a batch of agents spawned together.
type GroupConfig struct {
	Count       int           `yaml:"count" json:"count" jsonschema:"minimum=0"`
	Mode        string        `yaml:"mode" json:"mode" jsonschema:"enum=free_roam,enum=fixed_path"`
	Zone        uint32        `yaml:"zone" json:"zone"`
	Trading     float64       `yaml:"trading" json:"trading" jsonschema:"minimum=0,maximum=1,description=Fraction of the group able to trade"`
	ActiveHours *WindowConfig `yaml:"activeHours,omitempty" json:"activeHours,omitempty"`
	MinNeed     float64       `yaml:"minNeed" json:"minNeed"`
	MaxNeed     float64       `yaml:"maxNeed" json:"maxNeed"`
}

// JournalConfig selects the event journal store.
type JournalConfig struct {
	Driver     string `yaml:"driver" json:"driver" jsonschema:"enum=sqlite,enum=postgres,enum=none"`
	DSN        string `yaml:"dsn" json:"dsn"`
	FlushEvery uint64 `yaml:"flushEvery" json:"flushEvery" jsonschema:"description=Ticks between journal writes"`
}

// APIConfig configures the observation server.
type APIConfig struct {
	Port         int     `yaml:"port" json:"port" jsonschema:"description=Zero disables the server"`
	AdminKeyHash string  `yaml:"adminKeyHash" json:"adminKeyHash" jsonschema:"description=bcrypt hash of the admin bearer key"`
	StreamRate   float64 `yaml:"streamRate" json:"streamRate" jsonschema:"description=Stream connections per second allowed per client"`
	StreamBurst  int     `yaml:"streamBurst" json:"streamBurst"`
}

// LLMConfig configures the optional dialogue adapter.
type LLMConfig struct {
	Model             string `yaml:"model" json:"model"`
	BaseURL           string `yaml:"baseURL" json:"baseURL"`
	CacheSize         int    `yaml:"cacheSize" json:"cacheSize"`
	RequestsPerMinute int    `yaml:"requestsPerMinute" json:"requestsPerMinute"`
	APIKey            string `yaml:"-" json:"-"`
}

// Load reads path over Default, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, applies environment overrides and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays the environment variables onto cfg.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAdminKeyHash); v != "" {
		c.API.AdminKeyHash = v
	}
	if v := os.Getenv(EnvJournalDSN); v != "" {
		c.Journal.DSN = v
	}
	if v := os.Getenv(EnvLLMKey); v != "" {
		c.LLM.APIKey = v
	}
}

// Validate checks the configuration for values the simulation cannot run with.
func (c *Config) Validate() error {
	if c.Sim.TickSeconds <= 0 {
		return fmt.Errorf("sim.tickSeconds must be greater than 0")
	}
	if c.Sim.Interval <= 0 {
		return fmt.Errorf("sim.interval must be greater than 0")
	}
	if c.Sim.DayLength <= 0 {
		return fmt.Errorf("sim.dayLength must be greater than 0")
	}
	if c.Sim.StartHour < 0 || c.Sim.StartHour >= 24 {
		return fmt.Errorf("sim.startHour must be in [0,24)")
	}
	if c.Need.Max <= 0 {
		return fmt.Errorf("need.max must be greater than 0")
	}
	for _, r := range []struct {
		name string
		v    float64
	}{
		{"need.threshold", c.Need.Threshold},
		{"need.mealThreshold", c.Need.MealThreshold},
		{"need.adequateRatio", c.Need.AdequateRatio},
		{"grid.clutter", c.Grid.Clutter},
	} {
		if r.v < 0 || r.v > 1 {
			return fmt.Errorf("%s must be in [0,1]", r.name)
		}
	}
	if c.Agent.Speed <= 0 {
		return fmt.Errorf("agent.speed must be greater than 0")
	}

	zones := make(map[uint32]bool, len(c.Zones))
	for i, z := range c.Zones {
		if z.ID == 0 {
			return fmt.Errorf("zone %d: id must be greater than 0", i)
		}
		if zones[z.ID] {
			return fmt.Errorf("zone %d: duplicate id", z.ID)
		}
		zones[z.ID] = true
		if z.Max.X < z.Min.X || z.Max.Y < z.Min.Y {
			return fmt.Errorf("zone %d: max must not be below min", z.ID)
		}
	}

	for i, r := range c.Resources {
		if r.Name == "" {
			return fmt.Errorf("resource %d: name is required", i)
		}
		if _, err := agents.ParseCategory(r.Category); err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		if _, err := agents.ParseKind(r.Kind); err != nil {
			return fmt.Errorf("resource %s: %w", r.Name, err)
		}
		if r.Duration <= 0 {
			return fmt.Errorf("resource %s: duration must be greater than 0", r.Name)
		}
		if r.QueueLimit < 0 {
			return fmt.Errorf("resource %s: queueLimit must not be negative", r.Name)
		}
		if r.Zone != 0 && !zones[r.Zone] {
			return fmt.Errorf("resource %s: unknown zone %d", r.Name, r.Zone)
		}
	}

	for i, g := range c.Population {
		mode, err := agents.ParseMode(g.Mode)
		if err != nil {
			return fmt.Errorf("population %d: %w", i, err)
		}
		if !zones[g.Zone] {
			return fmt.Errorf("population %d: unknown zone %d", i, g.Zone)
		}
		if mode == agents.ModeFixedPath && !c.zoneHasPath(g.Zone) {
			return fmt.Errorf("population %d: zone %d has no path for fixed_path agents", i, g.Zone)
		}
		if g.MaxNeed < g.MinNeed {
			return fmt.Errorf("population %d: maxNeed must not be below minNeed", i)
		}
		if g.ActiveHours != nil {
			if _, err := schedule.Parse(g.ActiveHours.Cron, g.ActiveHours.Span); err != nil {
				return fmt.Errorf("population %d: %w", i, err)
			}
		}
	}

	for i, m := range c.Need.Meals {
		if _, err := schedule.Parse(m.Cron, m.Span); err != nil {
			return fmt.Errorf("meal %d: %w", i, err)
		}
	}

	switch c.Journal.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		return fmt.Errorf("journal.driver must be one of sqlite, postgres or none")
	}
	return nil
}

func (c *Config) zoneHasPath(id uint32) bool {
	for _, z := range c.Zones {
		if z.ID == id {
			return len(z.Path) >= 2
		}
	}
	return false
}

// Params converts the agent, need and social sections.
func (c *Config) Params() (agents.Params, error) {
	p := agents.Params{
		Speed:         c.Agent.Speed,
		SlowFactor:    c.Agent.SlowFactor,
		RestRadius:    c.Agent.RestRadius,
		ContactRadius: c.Agent.ContactRadius,
		RoamRecheck:   c.Agent.RoamRecheck,
		IdleRetry:     c.Agent.IdleRetry,
		IdleExitRatio: c.Agent.IdleExitRatio,
		ResearchDelay: c.Agent.ResearchDelay,
		ExitDistance:  c.Agent.ExitDistance,
		SlotSpacing:   c.Agent.SlotSpacing,
		LaneOffset:    c.Agent.LaneOffset,
		StallTimeout:  c.Agent.StallTimeout,
		Need: agents.NeedParams{
			Max:           c.Need.Max,
			Initial:       c.Need.Initial,
			Depletion:     c.Need.Depletion,
			Recovery:      c.Need.Recovery,
			IdleRecovery:  c.Need.IdleRecovery,
			Threshold:     c.Need.Threshold,
			MealThreshold: c.Need.MealThreshold,
			AdequateRatio: c.Need.AdequateRatio,
			Blacklist:     c.Need.Blacklist,
			Grace:         c.Need.Grace,
			RestStart:     c.Need.RestStart,
			RestEnd:       c.Need.RestEnd,
		},
		Social: agents.SocialParams{
			Range:     c.Social.Range,
			Threshold: c.Social.Threshold,
			Cost:      c.Social.Cost,
			Duration:  c.Social.Duration,
			Cooldown:  c.Social.Cooldown,
		},
	}
	for i, m := range c.Need.Meals {
		w, err := schedule.Parse(m.Cron, m.Span)
		if err != nil {
			return p, fmt.Errorf("meal %d: %w", i, err)
		}
		p.Need.MealWindows = append(p.Need.MealWindows, w)
	}
	return p, nil
}

// World builds the walkability grid and zones. The grid uses the sim seed.
func (c *Config) World() (*world.Grid, []world.Zone, error) {
	grid := world.NewGrid(world.GridConfig{
		Width:    c.Grid.Width,
		Height:   c.Grid.Height,
		CellSize: c.Grid.CellSize,
		Seed:     c.Sim.Seed,
		Clutter:  c.Grid.Clutter,
		Scale:    c.Grid.Scale,
	})
	zones := make([]world.Zone, 0, len(c.Zones))
	for _, zc := range c.Zones {
		z := world.Zone{ID: world.ZoneID(zc.ID), Min: zc.Min.vec(), Max: zc.Max.vec()}
		if len(zc.Path) > 0 {
			points := make([]world.Vec2, len(zc.Path))
			for i, p := range zc.Path {
				points[i] = p.vec()
			}
			path, err := world.NewPath(points)
			if err != nil {
				return nil, nil, fmt.Errorf("zone %d: %w", zc.ID, err)
			}
			z.Path = path
		}
		zones = append(zones, z)
	}
	return grid, zones, nil
}

// ResourceSpecs converts the resources section.
func (c *Config) ResourceSpecs() ([]agents.ResourceSpec, error) {
	out := make([]agents.ResourceSpec, 0, len(c.Resources))
	for _, r := range c.Resources {
		cat, err := agents.ParseCategory(r.Category)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", r.Name, err)
		}
		kind, err := agents.ParseKind(r.Kind)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", r.Name, err)
		}
		out = append(out, agents.ResourceSpec{
			Name:           r.Name,
			Category:       cat,
			Kind:           kind,
			Position:       r.Position.vec(),
			Facing:         r.Facing.vec(),
			Zone:           world.ZoneID(r.Zone),
			QueueLimit:     r.QueueLimit,
			Duration:       r.Duration,
			Recovery:       r.Recovery,
			RespawnDelay:   r.RespawnDelay,
			OverstayFactor: r.OverstayFactor,
		})
	}
	return out, nil
}

// Groups converts the population section.
func (c *Config) Groups() ([]engine.Group, error) {
	out := make([]engine.Group, 0, len(c.Population))
	for i, g := range c.Population {
		mode, err := agents.ParseMode(g.Mode)
		if err != nil {
			return nil, fmt.Errorf("population %d: %w", i, err)
		}
		group := engine.Group{
			Count:   g.Count,
			Mode:    mode,
			Zone:    world.ZoneID(g.Zone),
			Trading: g.Trading,
			MinNeed: g.MinNeed,
			MaxNeed: g.MaxNeed,
		}
		if g.ActiveHours != nil {
			w, err := schedule.Parse(g.ActiveHours.Cron, g.ActiveHours.Span)
			if err != nil {
				return nil, fmt.Errorf("population %d: %w", i, err)
			}
			group.ActiveHours = w
		}
		out = append(out, group)
	}
	return out, nil
}
