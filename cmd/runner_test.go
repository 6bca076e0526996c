package main

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
	_ "github.com/mattn/go-sqlite3"
)

func testConfig() *shared.Config {
	return &shared.Config{
		Database: shared.DatabaseConfig{Path: ":memory:"},
		Engine:   shared.EngineConfig{MaxAttempts: 3, BackoffBaseMS: 500, BackoffCapMS: 30000, JobTimeoutMS: 600000, ExpirySkewMS: 30000},
		Backends: map[string]shared.BackendConfig{
			"vault": {
				Delivery:     shared.DeliveryStream,
				BaseURL:      "https://vault.example.com",
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				ChunkSize:    65536,
			},
			"mesh": {
				Delivery:       shared.DeliveryPeer,
				BaseURL:        "https://hub.example.net",
				PollIntervalMS: 1000,
				PollBudget:     60,
			},
		},
	}
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner Applies Defaults", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})

		if runner.config == nil {
			t.Error("expected default config")
		}
		if runner.logger == nil {
			t.Error("expected default logger")
		}
		if runner.output == nil {
			t.Error("expected default output writer")
		}
	})

	t.Run("Registers Commands", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Config: testConfig()})

		commands := runner.register()
		names := make(map[string]bool, len(commands))
		for _, command := range commands {
			names[command.Name] = true
		}

		for _, want := range []string{"setup", "auth", "fetch", "meta", "jobs", "status", "cancel"} {
			if !names[want] {
				t.Errorf("expected command %s to be registered", want)
			}
		}
	})

	t.Run("BuildAdapters", func(t *testing.T) {
		t.Run("Builds One Per Backend", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: testConfig()})

			adapters, err := runner.buildAdapters()
			if err != nil {
				t.Fatalf("failed to build adapters: %v", err)
			}
			if len(adapters) != 2 {
				t.Fatalf("expected 2 adapters, got %d", len(adapters))
			}
			if adapters["vault"].Name() != "vault" || adapters["mesh"].Name() != "mesh" {
				t.Error("adapters not keyed by backend id")
			}
		})

		t.Run("Skips Backend Without Client Credentials", func(t *testing.T) {
			config := testConfig()
			vault := config.Backends["vault"]
			vault.ClientID = ""
			config.Backends["vault"] = vault

			runner := NewRunner(RunnerOpts{Config: config})

			adapters, err := runner.buildAdapters()
			if err != nil {
				t.Fatalf("expected unconfigured backend to be skipped, got %v", err)
			}
			if _, ok := adapters["vault"]; ok {
				t.Error("expected vault to be skipped")
			}
			if _, ok := adapters["mesh"]; !ok {
				t.Error("expected mesh to remain available")
			}
		})

		t.Run("Rejects Unknown Delivery", func(t *testing.T) {
			config := testConfig()
			config.Backends["odd"] = shared.BackendConfig{Delivery: "fax", BaseURL: "https://odd.example.com"}

			runner := NewRunner(RunnerOpts{Config: config})

			if _, err := runner.buildAdapters(); err == nil {
				t.Error("expected error for unknown delivery mode")
			}
		})
	})

	t.Run("BuildEngine", func(t *testing.T) {
		db, err := sql.Open("sqlite3", ":memory:")
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		if err := shared.RunMigrations(db); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		config := testConfig()
		vault := config.Backends["vault"]
		vault.MinIntervalMS = 20
		vault.Burst = 1
		config.Backends["vault"] = vault

		runner := NewRunner(RunnerOpts{Config: config})

		orchestrator, store, err := runner.buildEngine(db, nil)
		if err != nil {
			t.Fatalf("failed to build engine: %v", err)
		}
		if orchestrator == nil || store == nil {
			t.Error("expected orchestrator and credential store")
		}

		// The runner's own governor carries the configured budgets, so
		// metadata calls share admission with the engine's jobs.
		start := time.Now()
		for i := 0; i < 2; i++ {
			if err := runner.governor.Admit(context.Background(), "vault"); err != nil {
				t.Fatalf("failed to admit: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
			t.Errorf("expected the shared governor to be configured from the backend budget, spacing was %v", elapsed)
		}
	})

	t.Run("JobRow Conversion", func(t *testing.T) {
		job := models.NewArchivedJob(3, "vault", "track-1", "failed", "transport", 3)
		job.SetID("job-abc")
		job.SetLastError("chunk 1 failed")
		job.SetFinishedAt(time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC))

		row := newJobRow(job)
		if row.ID != "job-abc" || row.Backend != "vault" || row.State != "failed" || row.Reason != "transport" {
			t.Errorf("unexpected row: %+v", row)
		}
		if row.Attempts != 3 || row.LastError != "chunk 1 failed" {
			t.Errorf("unexpected attempt accounting: %+v", row)
		}
		if row.Finished != "2026-08-01 12:30:00" {
			t.Errorf("unexpected finished timestamp: %s", row.Finished)
		}
	})

	t.Run("WriteJSON", func(t *testing.T) {
		var out bytes.Buffer
		runner := NewRunner(RunnerOpts{Config: testConfig(), Output: &out})

		payload := map[string]string{"state": "completed"}

		if err := runner.writeJSON(payload, false); err != nil {
			t.Fatalf("failed to write JSON: %v", err)
		}
		if !strings.Contains(out.String(), `"state":"completed"`) {
			t.Errorf("unexpected compact output: %s", out.String())
		}

		out.Reset()
		if err := runner.writeJSON(payload, true); err != nil {
			t.Fatalf("failed to write pretty JSON: %v", err)
		}
		if !strings.Contains(out.String(), "\n  \"state\": \"completed\"") {
			t.Errorf("unexpected pretty output: %s", out.String())
		}
	})
}
