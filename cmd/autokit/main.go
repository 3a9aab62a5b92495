// Package main implements the autokit CLI: the task queue commands,
// rule management, and the blocking run-engine loop.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/autokit/config"
	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/lock"
	"github.com/vinayprograms/autokit/logging"
	"github.com/vinayprograms/autokit/results"
	"github.com/vinayprograms/autokit/rules"
	"github.com/vinayprograms/autokit/store"
	"github.com/vinayprograms/autokit/tasks"
)

var (
	// configPath is the TOML config file; missing file means defaults.
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "autokit",
	Short: "Durable task queue and automation engine over plain JSON files",
	Long: `autokit queues tasks, watches JSON stores for changes, and fires
automation rules. All durable state lives in human-editable JSON files;
every command prints a single JSON envelope.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "autokit.toml", "config file path")
}

// app is the wired object graph every command runs against.
type app struct {
	cfg    *config.Config
	locks  *lock.Manager
	ledger *results.Ledger
	coord  *tasks.Coordinator
	engine *rules.Engine
	log    *logging.Logger
}

// newApp loads config and wires stores, locks, queue, and engine.
func newApp() (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	log := logging.New()
	locks := lock.NewManager(
		lock.WithStaleness(cfg.LockStaleness),
		lock.WithTimeout(cfg.LockTimeout),
		lock.WithLogger(log.WithComponent("lock")),
	)

	tasksStore := store.NewFileStore(cfg.TaskStorePath(), "tasks", store.WithLocker(locks))
	resultsStore := store.NewFileStore(cfg.ResultsPath(), "results", store.WithLocker(locks))
	rulesStore := store.NewFileStore(cfg.RulesPath(), "rules", store.WithLocker(locks))
	stateStore := store.NewFileStore(cfg.EngineStatePath(), "engine_state", store.WithLocker(locks))

	ledger := results.NewLedger(resultsStore, cfg.ArchivePath(), cfg.LedgerCap)
	coord := tasks.NewCoordinator(tasksStore, ledger,
		tasks.WithLogger(log.WithComponent("queue")),
		tasks.WithLockManager(locks),
		tasks.WithLockDir(filepath.Join(cfg.DataDir, "locks")),
		tasks.WithDedupWindow(cfg.DedupWindow),
		tasks.WithStaleness(cfg.LockStaleness),
	)

	engine := rules.NewEngine(rulesStore, stateStore,
		rules.WithEngineLogger(log.WithComponent("engine")),
		rules.WithPollInterval(cfg.PollInterval),
		rules.WithDedupBound(cfg.DedupSetBound),
	)
	registerTools(engine.Registry(), coord)

	return &app{
		cfg:    cfg,
		locks:  locks,
		ledger: ledger,
		coord:  coord,
		engine: engine,
		log:    log,
	}, nil
}

// registerTools binds the built-in queue tool and the exec fallback so
// rule actions can enqueue work or shell out to external scripts.
func registerTools(r *rules.Registry, coord *tasks.Coordinator) {
	r.Register("queue", queueTool(coord))
	r.SetFallback(rules.ExecFallback())
}

// searchIndexPath is where the results search index lives.
func (a *app) searchIndexPath() string {
	return filepath.Join(a.cfg.DataDir, "results.bleve")
}

// emit prints the single JSON envelope every non-loop command ends with.
func emit(payload interface{}) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// emitOK wraps a payload map with status ok.
func emitOK(fields map[string]interface{}) error {
	out := map[string]interface{}{"status": "ok"}
	for k, v := range fields {
		out[k] = v
	}
	return emit(out)
}

// fail prints an error envelope and returns the error so cobra exits 1.
func fail(err error) error {
	envelope := map[string]interface{}{"status": "error"}
	if core := errors.AsCoreError(err); core != nil {
		envelope["error"] = core
	} else {
		envelope["error"] = map[string]string{"message": err.Error()}
	}
	emit(envelope)
	return err
}
