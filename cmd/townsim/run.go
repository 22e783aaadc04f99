package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/townsfolk/internal/api"
	"github.com/talgya/townsfolk/internal/config"
	"github.com/talgya/townsfolk/internal/engine"
	"github.com/talgya/townsfolk/internal/journal"
	"github.com/talgya/townsfolk/internal/llm"
	"github.com/talgya/townsfolk/internal/world"
)

var (
	configFile string
	maxTicks   uint64
	portFlag   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation",
	RunE:  runSimulation,
}

func init() {
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (default: built-in tavern scene)")
	runCmd.Flags().Uint64Var(&maxTicks, "ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	runCmd.Flags().IntVar(&portFlag, "port", -1, "Override api.port (0 disables the HTTP API)")
}

// scene is a fully wired simulation and its optional collaborators.
type scene struct {
	cfg      *config.Config
	sim      *engine.Simulation
	clock    *engine.SimClock
	nav      *world.Navigator
	hub      *api.Hub
	dialogue *llm.Dialogue
	client   *llm.Client
}

// buildScene creates the world, the simulation, its resources and population.
func buildScene(ctx context.Context, cfg *config.Config) (*scene, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	grid, zones, err := cfg.World()
	if err != nil {
		return nil, err
	}
	specs, err := cfg.ResourceSpecs()
	if err != nil {
		return nil, err
	}
	groups, err := cfg.Groups()
	if err != nil {
		return nil, err
	}

	// Keep resource approaches and paths clear of clutter.
	for _, s := range specs {
		grid.Clear(s.Position, float64(s.QueueLimit+2)*params.SlotSpacing+params.ExitDistance)
	}
	for _, z := range zones {
		if z.Path == nil {
			continue
		}
		steps := int(math.Ceil(z.Path.Length()))
		for i := 0; i <= steps; i++ {
			p, _ := z.Path.Evaluate(float64(i) / float64(max(steps, 1)))
			grid.Clear(p, params.LaneOffset+1)
		}
	}
	slog.Info("floor generated",
		"cells", humanize.Comma(int64(grid.CellCount())),
		"walkable", humanize.Comma(int64(grid.WalkableCount())),
		"zones", len(zones),
	)

	sc := &scene{cfg: cfg}
	sc.nav = world.NewNavigator(grid, zones, cfg.Sim.Seed)
	sc.clock = engine.NewSimClock(cfg.Sim.StartHour, cfg.Sim.DayLength)

	opts := engine.Options{
		Params:          params,
		TickSeconds:     cfg.Sim.TickSeconds,
		Area:            sc.nav,
		Loco:            sc.nav,
		Stepper:         sc.nav,
		Clock:           sc.clock,
		CheckInvariants: cfg.Sim.CheckInvariants,
	}
	if cfg.API.Port > 0 {
		sc.hub = api.NewHub()
		opts.Sink = sc.hub
	}
	sc.client = llm.NewClient(llm.Options{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	if sc.client.Enabled() {
		sc.dialogue, err = llm.NewDialogue(ctx, sc.client, cfg.LLM.CacheSize)
		if err != nil {
			return nil, err
		}
		opts.Dialogue = sc.dialogue
	}

	sc.sim, err = engine.NewSimulation(opts)
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		if _, err := sc.sim.RegisterResource(s); err != nil {
			return nil, fmt.Errorf("resource %s: %w", s.Name, err)
		}
	}
	spawner := engine.NewSpawner(cfg.Sim.Seed, sc.nav)
	for _, g := range groups {
		spawner.Populate(sc.sim, g)
	}
	slog.Info("scene ready",
		"agents", len(sc.sim.Agents()),
		"resources", len(specs),
		"sim_time", sc.clock.String(),
	)
	return sc, nil
}

// ticksPerHour is how many ticks make one sim hour.
func ticksPerHour(cfg *config.Config) uint64 {
	n := math.Round(cfg.Sim.DayLength / 24 / cfg.Sim.TickSeconds)
	return uint64(math.Max(n, 1))
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
		slog.Info("configuration loaded", "path", configFile)
	} else {
		cfg.ApplyEnv()
	}
	if portFlag >= 0 {
		cfg.API.Port = portFlag
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sc, err := buildScene(ctx, cfg)
	if err != nil {
		return err
	}

	// ── Journal ───────────────────────────────────────────────────────
	var recorder *journal.Recorder
	var jrnl *journal.Journal
	if cfg.Journal.Driver != "" && cfg.Journal.Driver != "none" {
		jrnl, err = journal.Open(ctx, cfg.Journal.Driver, cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer jrnl.Close()
		sceneName := configFile
		if sceneName == "" {
			sceneName = "default"
		}
		if _, err := jrnl.BeginRun(ctx, cfg.Sim.Seed, sceneName); err != nil {
			return err
		}
		recorder = &journal.Recorder{Journal: jrnl, Sim: sc.sim, FlushEvery: cfg.Journal.FlushEvery}
	} else {
		slog.Warn("journal disabled")
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(cfg.Sim.Interval)
	eng.TicksPerHour = ticksPerHour(cfg)
	eng.OnTick = func(tick uint64) {
		sc.sim.Step(tick)
		if recorder != nil {
			recorder.OnTick(ctx, tick)
		}
		if maxTicks > 0 && tick >= maxTicks {
			eng.Stop()
		}
	}
	var lastHour uint64
	eng.OnHour = func(tick uint64) {
		logHourSummary(sc, tick)
		if sc.client.Enabled() {
			var hour []engine.Event
			for _, e := range sc.sim.RecentEvents(200, "") {
				if e.Tick > lastHour {
					hour = append(hour, e)
				}
			}
			simTime := sc.clock.String()
			go func() {
				text, err := llm.Narrate(ctx, sc.client, simTime, hour)
				if err != nil {
					slog.Debug("narration skipped", "error", err)
					return
				}
				if text != "" {
					slog.Info("chronicle", "sim_time", simTime, "text", text)
				}
			}()
		}
		lastHour = tick
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		go sc.hub.Run(ctx)
		server := &api.Server{
			Sim:          sc.sim,
			Eng:          eng,
			Hub:          sc.hub,
			Journal:      jrnl,
			Port:         cfg.API.Port,
			AdminKeyHash: cfg.API.AdminKeyHash,
			Limiter:      api.NewRateLimiter(cfg.API.StreamRate, cfg.API.StreamBurst),
		}
		srv := server.Start()
		defer api.Shutdown(srv)
	}

	// ── Signal handling ───────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			eng.Stop()
		case <-ctx.Done():
		}
	}()

	eng.Run(ctx)

	if recorder != nil {
		recorder.Flush(context.Background(), eng.CurrentTick())
	}
	if sc.dialogue != nil {
		sc.dialogue.Wait()
	}
	logHourSummary(sc, eng.CurrentTick())
	slog.Info("simulation stopped")
	return nil
}

func logHourSummary(sc *scene, tick uint64) {
	st := sc.sim.Stats()
	slog.Info("hourly summary",
		"sim_time", sc.clock.String(),
		"tick", humanize.Comma(int64(tick)),
		"agents", st.Agents,
		"occupied", st.Occupied,
		"queued", st.Queued,
		"talking", st.Conversations,
		"avg_need", fmt.Sprintf("%.0f%%", st.AvgNeedRatio*100),
		"rejections", humanize.Comma(int64(st.Rejections)),
		"placement_failures", humanize.Comma(int64(st.Placements)),
		"talks", humanize.Comma(int64(st.TalksFinished)),
	)
}
