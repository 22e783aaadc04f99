package config

import (
	"time"

	"github.com/talgya/townsfolk/internal/agents"
	"github.com/talgya/townsfolk/internal/world"
)

// Default returns a small tavern scene: a common room with stools, beds and a
// food stand, and a street patrolled along a fixed path.
func Default() *Config {
	p := agents.DefaultParams()
	g := world.DefaultGridConfig()
	return &Config{
		Sim: SimConfig{
			TickSeconds: 1,
			Interval:    100 * time.Millisecond,
			Seed:        42,
			DayLength:   1440,
			StartHour:   7,
		},
		Grid: GridConfig{
			Width:    40,
			Height:   30,
			CellSize: g.CellSize,
			Clutter:  g.Clutter,
			Scale:    g.Scale,
		},
		Agent: AgentConfig{
			Speed:         p.Speed,
			SlowFactor:    p.SlowFactor,
			RestRadius:    p.RestRadius,
			ContactRadius: p.ContactRadius,
			RoamRecheck:   p.RoamRecheck,
			IdleRetry:     p.IdleRetry,
			IdleExitRatio: p.IdleExitRatio,
			ResearchDelay: p.ResearchDelay,
			ExitDistance:  p.ExitDistance,
			SlotSpacing:   p.SlotSpacing,
			LaneOffset:    p.LaneOffset,
			StallTimeout:  p.StallTimeout,
		},
		Need: NeedConfig{
			Max:           p.Need.Max,
			Initial:       p.Need.Initial,
			Depletion:     p.Need.Depletion,
			Recovery:      p.Need.Recovery,
			IdleRecovery:  p.Need.IdleRecovery,
			Threshold:     p.Need.Threshold,
			MealThreshold: p.Need.MealThreshold,
			AdequateRatio: p.Need.AdequateRatio,
			Blacklist:     p.Need.Blacklist,
			Grace:         p.Need.Grace,
			RestStart:     p.Need.RestStart,
			RestEnd:       p.Need.RestEnd,
			Meals: []WindowConfig{
				{Cron: "30 7 * * *", Span: time.Hour},
				{Cron: "0 12 * * *", Span: time.Hour},
				{Cron: "0 19 * * *", Span: 90 * time.Minute},
			},
		},
		Social: SocialConfig{
			Range:     p.Social.Range,
			Threshold: p.Social.Threshold,
			Cost:      p.Social.Cost,
			Duration:  p.Social.Duration,
			Cooldown:  p.Social.Cooldown,
		},
		Zones: []ZoneConfig{
			{ID: 1, Min: Point{2, 2}, Max: Point{24, 18}},
			{
				ID:  2,
				Min: Point{2, 22},
				Max: Point{38, 28},
				Path: []Point{
					{4, 25}, {20, 25}, {36, 25},
				},
			},
		},
		Resources: []ResourceConfig{
			{Name: "stool-1", Category: "seating", Kind: "seat", Position: Point{6, 6}, Facing: Point{0, 1}, Zone: 1, QueueLimit: 2, Duration: 20, OverstayFactor: 3},
			{Name: "stool-2", Category: "seating", Kind: "seat", Position: Point{10, 6}, Facing: Point{0, 1}, Zone: 1, QueueLimit: 2, Duration: 20, OverstayFactor: 3},
			{Name: "bench", Category: "seating", Kind: "seat", Position: Point{28, 24}, Facing: Point{0, 1}, QueueLimit: 3, Duration: 15, OverstayFactor: 3},
			{Name: "bed-1", Category: "rest", Kind: "seat", Position: Point{20, 14}, Facing: Point{-1, 0}, Zone: 1, QueueLimit: 1, Duration: 120, Recovery: 40},
			{Name: "bed-2", Category: "rest", Kind: "seat", Position: Point{20, 16}, Facing: Point{-1, 0}, Zone: 1, QueueLimit: 1, Duration: 120, Recovery: 40},
			{Name: "stew-pot", Category: "food", Kind: "stand", Position: Point{14, 10}, Facing: Point{1, 0}, Zone: 1, QueueLimit: 4, Duration: 10, Recovery: 30, OverstayFactor: 2},
			{Name: "apple", Category: "food", Kind: "consumable", Position: Point{32, 23}, Facing: Point{0, 1}, QueueLimit: 1, Duration: 4, Recovery: 15, RespawnDelay: 60},
		},
		Population: []GroupConfig{
			{Count: 8, Mode: "free_roam", Zone: 1, Trading: 0.25, MinNeed: 35, MaxNeed: 100},
			{Count: 3, Mode: "fixed_path", Zone: 2, MinNeed: 50, MaxNeed: 100,
				ActiveHours: &WindowConfig{Cron: "0 6 * * *", Span: 16 * time.Hour}},
		},
		Journal: JournalConfig{
			Driver:     "sqlite",
			DSN:        "townsim.db",
			FlushEvery: 60,
		},
		API: APIConfig{
			Port:        8080,
			StreamRate:  1,
			StreamBurst: 5,
		},
		LLM: LLMConfig{
			Model:             "claude-haiku-4-5-20251001",
			CacheSize:         256,
			RequestsPerMinute: 20,
		},
	}
}
