package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/autokit/errors"
	"github.com/vinayprograms/autokit/results"
	"github.com/vinayprograms/autokit/shutdown"
	"github.com/vinayprograms/autokit/spawn"
)

var (
	searchLimit   int
	engineNoSpawn bool
)

func init() {
	rootCmd.AddCommand(runEngineCmd)
	rootCmd.AddCommand(spawnWorkerCmd)
	rootCmd.AddCommand(searchResultsCmd)

	runEngineCmd.Flags().BoolVar(&engineNoSpawn, "no-spawn", false, "never launch the worker command")
	searchResultsCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum hits")
}

var runEngineCmd = &cobra.Command{
	Use:   "run-engine",
	Short: "Run the automation loop until interrupted",
	Long: `Run the polling loop: diff watched stores, fire matching rules,
recover orphaned tasks, and launch the worker command when eligible
tasks are waiting. Blocks until SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runEngine,
}

func runEngine(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return fail(err)
	}

	ctx, stop := shutdown.NotifyContext(cmd.Context())
	defer stop()

	// One engine per data dir. The claim is lease-refreshed so a long
	// run never trips the staleness bound, and released on shutdown.
	engineClaim, err := a.locks.Acquire(ctx, filepath.Join(a.cfg.DataDir, "engine"), 0)
	if err != nil {
		return fail(err)
	}
	engineClaim.HoldWithLease(ctx, a.cfg.LeaseInterval)

	coordinator := shutdown.NewCoordinator(shutdown.WithLogger(a.log.WithComponent("shutdown")))
	coordinator.Register("engine_claim", func(ctx context.Context) error {
		return engineClaim.Release()
	})

	var spawner *spawn.Manager
	if !engineNoSpawn && len(a.cfg.WorkerCommand) > 0 {
		spawner = spawn.NewManager(
			&spawn.ExecSpawner{Command: a.cfg.WorkerCommand, GuardVar: a.cfg.WorkerEnvGuard},
			filepath.Join(a.cfg.DataDir, "execute_queue"),
			a.cfg.WorkerEnvGuard,
			spawn.WithLockManager(a.locks),
			spawn.WithLogger(a.log.WithComponent("spawn")),
		)
	}

	log := a.log.WithComponent("engine")
	log.Info("engine_started", map[string]interface{}{
		"poll":  a.cfg.PollInterval.String(),
		"rules": a.cfg.RulesPath(),
	})

	for {
		if _, err := a.engine.Cycle(ctx); err != nil {
			log.StoreError(a.cfg.RulesPath(), err)
		}
		if _, err := a.coord.RecoverOrphans(ctx); err != nil {
			log.StoreError(a.cfg.TaskStorePath(), err)
		}
		if spawner != nil {
			maybeSpawn(ctx, a, spawner)
		}

		select {
		case <-ctx.Done():
			log.Info("engine_stopping")
			return coordinator.Shutdown()
		case <-time.After(a.cfg.PollInterval):
		}
	}
}

// maybeSpawn launches the worker when eligible tasks are waiting and no
// claim is live. The worker claim is not released here: its sentinel
// names the worker's pid, so the next attempt clears it once that
// process is gone. A refusal while the worker runs is the normal case.
func maybeSpawn(ctx context.Context, a *app, spawner *spawn.Manager) {
	pending, err := a.coord.ListPending(ctx)
	if err != nil || len(pending) == 0 {
		return
	}
	if _, err := spawner.Launch(ctx, len(pending)); err != nil {
		if !errors.Is(err, errors.ErrCodeSpawnBlocked) {
			a.log.WithComponent("spawn").StoreError("worker", err)
		}
	}
}

var spawnWorkerCmd = &cobra.Command{
	Use:   "spawn-worker",
	Short: "Launch the worker command once",
	Long: `Launch the configured worker command for the currently eligible
tasks. Refused when a worker claim is already live or when this process
is itself the worker.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		if len(a.cfg.WorkerCommand) == 0 {
			return fail(errors.InvalidInput("no worker_command configured"))
		}

		pending, err := a.coord.ListPending(cmd.Context())
		if err != nil {
			return fail(err)
		}
		if len(pending) == 0 {
			return emitOK(map[string]interface{}{"spawned": false, "reason": "no eligible tasks"})
		}

		mgr := spawn.NewManager(
			&spawn.ExecSpawner{Command: a.cfg.WorkerCommand, GuardVar: a.cfg.WorkerEnvGuard},
			filepath.Join(a.cfg.DataDir, "execute_queue"),
			a.cfg.WorkerEnvGuard,
			spawn.WithLockManager(a.locks),
		)
		handle, err := mgr.Launch(cmd.Context(), len(pending))
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{
			"spawned":    true,
			"pid":        handle.PID,
			"task_count": handle.TaskCount,
		})
	},
}

var searchResultsCmd = &cobra.Command{
	Use:   "search-results <query>",
	Short: "Full-text search over completed task results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return fail(err)
		}
		idx, err := results.OpenSearchIndex(a.searchIndexPath())
		if err != nil {
			return fail(err)
		}
		defer idx.Close()

		hits, err := idx.Search(args[0], searchLimit)
		if err != nil {
			return fail(err)
		}
		return emitOK(map[string]interface{}{"hits": hits, "count": len(hits)})
	},
}

// indexResult adds a completed record to the search index. Indexing is
// best effort; a failure never undoes the completion.
func indexResult(a *app, taskID string, rec *results.Record) {
	idx, err := results.OpenSearchIndex(a.searchIndexPath())
	if err != nil {
		a.log.StoreError(a.searchIndexPath(), err)
		return
	}
	defer idx.Close()
	if err := idx.Index(taskID, rec); err != nil {
		a.log.StoreError(a.searchIndexPath(), err)
	}
}
