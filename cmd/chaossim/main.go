// Command chaossim runs the world chaos simulation kernel.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/talgya/chaos-world/internal/api"
	"github.com/talgya/chaos-world/internal/cascade"
	"github.com/talgya/chaos-world/internal/chaos"
	"github.com/talgya/chaos-world/internal/drift"
	"github.com/talgya/chaos-world/internal/entropy"
	"github.com/talgya/chaos-world/internal/manager"
	"github.com/talgya/chaos-world/internal/narrative"
	"github.com/talgya/chaos-world/internal/persistence"
	"github.com/talgya/chaos-world/internal/pressure"
	"github.com/talgya/chaos-world/internal/textgen"
	"github.com/talgya/chaos-world/internal/warning"
)

type config struct {
	Seed          int64         `env:"CHAOS_SEED" envDefault:"42"`
	Deterministic bool          `env:"CHAOS_DETERMINISTIC" envDefault:"false"`
	DBPath        string        `env:"CHAOS_DB_PATH" envDefault:"data/chaos.db"`
	APIPort       int           `env:"CHAOS_API_PORT" envDefault:"8080"`
	AdminKey      string        `env:"CHAOS_ADMIN_KEY"`
	AnthropicKey  string        `env:"ANTHROPIC_API_KEY"`
	RandomOrgKey  string        `env:"RANDOM_ORG_KEY"`
	HourScale     time.Duration `env:"CHAOS_HOUR_SCALE" envDefault:"1m"`
	Regions       []string      `env:"CHAOS_REGIONS" envSeparator:"," envDefault:"northreach,ironvale,saltmere,duskfen,emberwild"`

	DriftInterval     time.Duration `env:"CHAOS_DRIFT_INTERVAL" envDefault:"15s"`
	TriggerInterval   time.Duration `env:"CHAOS_TRIGGER_INTERVAL" envDefault:"30s"`
	WarningInterval   time.Duration `env:"CHAOS_WARNING_INTERVAL" envDefault:"10s"`
	CascadeInterval   time.Duration `env:"CHAOS_CASCADE_INTERVAL" envDefault:"10s"`
	NarrativeInterval time.Duration `env:"CHAOS_NARRATIVE_INTERVAL" envDefault:"1m"`
	ResolveInterval   time.Duration `env:"CHAOS_RESOLVE_INTERVAL" envDefault:"20s"`
	HealthInterval    time.Duration `env:"CHAOS_HEALTH_INTERVAL" envDefault:"30s"`
	SnapshotInterval  time.Duration `env:"CHAOS_SNAPSHOT_INTERVAL" envDefault:"5m"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("config parse failed", "error", err)
		os.Exit(1)
	}

	slog.Info("world chaos kernel",
		"seed", cfg.Seed,
		"deterministic", cfg.Deterministic,
		"regions", len(cfg.Regions),
		"hour_scale", cfg.HourScale,
	)

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.DBPath), 0755)
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// ── Randomness ────────────────────────────────────────────────────
	var rng entropy.Source
	switch {
	case cfg.Deterministic:
		rng = entropy.Seeded(cfg.Seed)
		slog.Info("deterministic RNG", "seed", cfg.Seed)
	case cfg.RandomOrgKey != "":
		rng = entropy.NewClient(cfg.RandomOrgKey)
		slog.Info("true randomness enabled (random.org)")
	default:
		rng = entropy.Crypto()
	}

	// ── Text generation ───────────────────────────────────────────────
	texter := textgen.NewClient(cfg.AnthropicKey)
	if texter.Enabled() {
		slog.Info("text generation enabled (Haiku)")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set — descriptions will use deterministic templates")
	}

	// ── Kernel ────────────────────────────────────────────────────────
	store := pressure.NewStore()
	warnings := warning.NewSystem(rng, texter, cfg.HourScale)
	cascades := cascade.NewEngine(cascade.DefaultRules(), rng, texter, cfg.HourScale)
	moderator := narrative.NewModerator()
	engine := chaos.NewEngine(store, warnings, cascades, moderator, chaos.NewDefaultPolicy(), rng, cfg.HourScale)
	engine.SetConnectedRegions(ringAdjacency(cfg.Regions))
	engine.RegisterSink(db)

	// Restore saved state if present.
	if snap, ok, err := db.LoadSnapshot(); err != nil {
		slog.Error("snapshot load failed", "error", err)
		os.Exit(1)
	} else if ok {
		if err := engine.Import(snap); err != nil {
			slog.Error("snapshot restore failed", "error", err)
			os.Exit(1)
		}
		slog.Info("kernel state restored",
			"saved_at", snap.SavedAt,
			"regions", len(snap.Regions),
			"events", len(snap.Events),
			"warnings", len(snap.Warnings),
		)
	} else {
		// Fresh world: seed every region with calm pressure so rollups exist.
		for _, region := range cfg.Regions {
			calm := map[pressure.Category]float64{}
			for _, c := range pressure.Categories() {
				calm[c] = 0.05
			}
			if err := engine.UpdatePressure(region, calm); err != nil {
				slog.Error("region seeding failed", "region", region, "error", err)
				os.Exit(1)
			}
		}
		slog.Info("fresh world seeded", "regions", len(cfg.Regions))
	}

	driftGen := drift.New(cfg.Seed, cfg.Regions, cfg.HourScale)

	// ── Supervisor ────────────────────────────────────────────────────
	mgr := manager.New(engine, moderator, driftGen, store, db, manager.Intervals{
		Drift:     cfg.DriftInterval,
		Triggers:  cfg.TriggerInterval,
		Warnings:  cfg.WarningInterval,
		Cascades:  cfg.CascadeInterval,
		Narrative: cfg.NarrativeInterval,
		Resolve:   cfg.ResolveInterval,
		Health:    cfg.HealthInterval,
		Snapshot:  cfg.SnapshotInterval,
	})

	if cfg.AdminKey == "" {
		slog.Warn("CHAOS_ADMIN_KEY not set — admin POST endpoints will be disabled")
	}

	apiServer := &api.Server{
		Engine:    engine,
		Manager:   mgr,
		Warnings:  warnings,
		Moderator: moderator,
		Cascades:  cascades,
		Store:     store,
		DB:        db,
		Port:      cfg.APIPort,
		AdminKey:  cfg.AdminKey,
	}
	apiServer.Start()

	// ── Start ─────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		slog.Error("manager start failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\nThe world holds its breath: %d regions under watch.\n", len(cfg.Regions))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.APIPort)
	fmt.Println("Simulation running... (Ctrl+C to stop)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	mgr.Stop()

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveSnapshot(engine.Export()); err != nil {
		slog.Error("final save failed", "error", err)
	}

	fmt.Println("Simulation stopped. Kernel state saved.")
}

// ringAdjacency links each region to its neighbors in list order. The
// hosting game replaces this with real geography via the API.
func ringAdjacency(regions []string) map[string][]string {
	out := make(map[string][]string, len(regions))
	n := len(regions)
	if n < 2 {
		return out
	}
	for i, r := range regions {
		out[r] = []string{regions[(i+n-1)%n], regions[(i+1)%n]}
	}
	return out
}
