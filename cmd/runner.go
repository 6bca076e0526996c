package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/engine"
	"github.com/desertthunder/trax/internal/repositories"
	"github.com/desertthunder/trax/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The rate governor is process-wide so every outgoing call, fetch or metadata,
// charges the same per-backend admission budget.
type Runner struct {
	config   *shared.Config
	logger   *log.Logger
	output   io.Writer
	governor *engine.RateGovernor
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:   opts.Config,
		logger:   opts.Logger,
		output:   opts.Output,
		governor: engine.NewRateGovernor(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, fetchCommand, metaCommand, jobsCommand, statusCommand, cancelCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig reads the config file named by the command's --config flag,
// falling back to defaults when it does not exist.
func (r *Runner) loadConfig(cmd *cli.Command) *shared.Config {
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); err == nil {
		if config, err := shared.LoadConfig(configPath); err == nil {
			r.config = config
		} else {
			r.logger.Warn("failed to load config, using defaults", "error", err)
		}
	}
	return r.config
}

// openDatabase opens the configured SQLite database and runs pending migrations.
func (r *Runner) openDatabase() (*sql.DB, error) {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, err
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// buildAdapters constructs one transport adapter per configured backend.
//
// Backends whose client credentials are not filled in yet are skipped with a
// warning rather than blocking operations on the backends that are.
func (r *Runner) buildAdapters() (map[string]backends.Adapter, error) {
	adapters := make(map[string]backends.Adapter, len(r.config.Backends))

	for id, cfg := range r.config.Backends {
		switch cfg.Delivery {
		case shared.DeliveryStream:
			adapter, err := backends.NewVaultAdapter(id, cfg)
			if errors.Is(err, shared.ErrMissingCredentials) {
				r.logger.Warn("skipping backend without client credentials", "backend", id)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("backend %s: %w", id, err)
			}
			adapters[id] = adapter
		case shared.DeliveryPeer:
			adapters[id] = backends.NewMeshAdapter(id, cfg)
		default:
			return nil, fmt.Errorf("%w: backend %s delivery %q", shared.ErrInvalidConfig, id, cfg.Delivery)
		}
	}

	return adapters, nil
}

// buildEngine wires the credential store, governor, and orchestrator over the
// given database connection.
func (r *Runner) buildEngine(db *sql.DB, progress chan engine.ProgressUpdate) (*engine.Orchestrator, *engine.CredentialStore, error) {
	adapters, err := r.buildAdapters()
	if err != nil {
		return nil, nil, err
	}

	// Only backends that produced an adapter participate in the engine.
	backendCfgs := make(map[string]shared.BackendConfig, len(adapters))
	for id := range adapters {
		backendCfgs[id] = r.config.Backends[id]
	}

	credRepo := repositories.NewCredentialRepository(db)
	store := engine.NewCredentialStore(credRepo, adapters, r.config.Engine.ExpirySkew(), r.logger)

	orchestrator, err := engine.NewOrchestrator(engine.OrchestratorOpts{
		Engine:      r.config.Engine,
		Backends:    backendCfgs,
		Adapters:    adapters,
		Credentials: store,
		Governor:    r.governor,
		Archive:     repositories.NewJobRepository(db),
		Logger:      r.logger,
		Progress:    progress,
	})
	if err != nil {
		return nil, nil, err
	}

	return orchestrator, store, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var out []byte
	var err error

	if pretty {
		out, err = json.MarshalIndent(data, "", "  ")
	} else {
		out, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	fmt.Fprintln(r.output, string(out))
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) {
	fmt.Fprintf(r.output, format+"\n", args...)
}
