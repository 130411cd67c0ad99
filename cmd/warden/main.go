// Command warden runs the autonomous chaos steward. It observes kernel
// state over the HTTP API, decides on interventions via Claude Haiku,
// and acts via the admin control endpoints.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/talgya/chaos-world/internal/textgen"
	"github.com/talgya/chaos-world/internal/warden"
)

type config struct {
	APIURL       string        `env:"CHAOS_API_URL" envDefault:"http://localhost:8080"`
	AdminKey     string        `env:"CHAOS_ADMIN_KEY"`
	AnthropicKey string        `env:"ANTHROPIC_API_KEY"`
	Interval     time.Duration `env:"WARDEN_INTERVAL" envDefault:"10m"`
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
	if cfg.AdminKey == "" {
		slog.Error("CHAOS_ADMIN_KEY is required")
		os.Exit(1)
	}
	if cfg.AnthropicKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}

	slog.Info("chaos warden starting",
		"api_url", cfg.APIURL,
		"interval", cfg.Interval,
	)

	observer := warden.NewObserver(cfg.APIURL)
	actor := warden.NewActor(cfg.APIURL, cfg.AdminKey)
	texter := textgen.NewClient(cfg.AnthropicKey)
	memory := warden.LoadMemory()

	// Wait for the kernel API before the first cycle. Process supervision
	// only guarantees process start, not HTTP readiness.
	slog.Info("waiting for kernel API...")
	waitForAPI(cfg.APIURL)

	runCycle(observer, actor, texter, memory)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runCycle(observer, actor, texter, memory)
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			memory.Save()
			fmt.Println("Warden stopped.")
			return
		}
	}
}

// runCycle executes one observe → triage → decide → act cycle.
func runCycle(observer *warden.Observer, actor *warden.Actor, texter *textgen.Client, memory *warden.CycleMemory) {
	slog.Info("warden cycle starting")

	snap, err := observer.Observe()
	if err != nil {
		slog.Error("observation failed", "error", err)
		return
	}

	health := warden.Triage(snap)
	slog.Info("observation complete",
		"global_score", fmt.Sprintf("%.2f", snap.Status.GlobalScore),
		"regions", len(snap.Regions),
		"warnings", len(snap.Warnings),
		"cascades", len(snap.Cascades),
		"crisis", health.CrisisLevel,
	)

	// A healthy kernel needs no Haiku call at all.
	if health.CrisisLevel == "HEALTHY" {
		slog.Info("warden cycle complete — kernel healthy, no intervention")
		record(memory, snap, health, "none", "")
		return
	}

	decision, err := warden.Decide(texter, snap, health, memory.FormatForPrompt())
	if err != nil {
		slog.Error("decision failed", "error", err)
		return
	}
	slog.Info("decision made",
		"action", decision.Action,
		"rationale", decision.Rationale,
	)

	if decision.Action == "none" || decision.Intervention == nil {
		slog.Info("warden cycle complete — no intervention")
		record(memory, snap, health, "none", decision.Rationale)
		return
	}

	result, err := actor.Act(decision)
	if err != nil {
		slog.Error("intervention failed", "error", err)
		return
	}

	slog.Info("intervention executed",
		"action", decision.Action,
		"region", decision.Intervention.Region,
		"success", result.Success,
	)
	record(memory, snap, health, decision.Action, decision.Rationale)
	if decision.Intervention != nil {
		memory.Records[len(memory.Records)-1].Region = decision.Intervention.Region
	}
	memory.Save()
}

func record(memory *warden.CycleMemory, snap *warden.KernelSnapshot, health *warden.KernelHealth, action, rationale string) {
	memory.Record(warden.CycleRecord{
		At:          time.Now(),
		Action:      action,
		GlobalScore: snap.Status.GlobalScore,
		CrisisLevel: health.CrisisLevel,
		Rationale:   rationale,
	})
}

// waitForAPI polls the kernel status endpoint with exponential backoff
// until it responds. Exits after 5 minutes if the API never becomes ready.
func waitForAPI(apiURL string) {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second
	deadline := time.Now().Add(5 * time.Minute)

	for {
		resp, err := http.Get(apiURL + "/api/v1/status")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				slog.Info("kernel API is ready")
				return
			}
		}
		if time.Now().After(deadline) {
			slog.Error("kernel API did not become ready within 5 minutes")
			os.Exit(1)
		}
		slog.Info("kernel not ready, retrying...", "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
