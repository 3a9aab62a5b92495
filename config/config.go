// Package config loads autokit configuration from TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all tunables for the queue, locks, and the engine.
type Config struct {
	// DataDir is the directory holding all store files.
	DataDir string

	// TaskStoreFile, ResultsFile, RulesFile, EngineStateFile are
	// file names relative to DataDir.
	TaskStoreFile   string
	ResultsFile     string
	RulesFile       string
	EngineStateFile string

	// ArchiveDir receives spilled result records, relative to DataDir.
	ArchiveDir string

	// PollInterval is the engine cycle sleep.
	PollInterval time.Duration

	// LockTimeout bounds lock acquisition spin-wait.
	LockTimeout time.Duration

	// LockStaleness is the age past which a sentinel is abandoned.
	LockStaleness time.Duration

	// LeaseInterval is how often a held lock refreshes its sentinel.
	LeaseInterval time.Duration

	// DedupWindow is the recency window for duplicate detection against
	// completed results.
	DedupWindow time.Duration

	// LedgerCap bounds the live results map before spilling to archive.
	LedgerCap int

	// DedupSetBound clears the engine's fired-signature set once exceeded.
	DedupSetBound int

	// WorkerCommand is the external command spawned to drain the queue.
	WorkerCommand []string

	// WorkerEnvGuard is the env var that marks a process as the worker
	// itself; when set, spawning is refused to prevent self-nesting.
	WorkerEnvGuard string
}

// tomlConfig is the TOML representation.
type tomlConfig struct {
	DataDir         string   `toml:"data_dir"`
	TaskStoreFile   string   `toml:"task_store_file"`
	ResultsFile     string   `toml:"results_file"`
	RulesFile       string   `toml:"rules_file"`
	EngineStateFile string   `toml:"engine_state_file"`
	ArchiveDir      string   `toml:"archive_dir"`
	PollSeconds     int      `toml:"poll_seconds"`
	LockTimeoutSecs int      `toml:"lock_timeout_seconds"`
	LockStaleMins   int      `toml:"lock_staleness_minutes"`
	LeaseSeconds    int      `toml:"lease_seconds"`
	DedupWindowMins int      `toml:"dedup_window_minutes"`
	LedgerCap       int      `toml:"ledger_cap"`
	DedupSetBound   int      `toml:"dedup_set_bound"`
	WorkerCommand   []string `toml:"worker_command"`
	WorkerEnvGuard  string   `toml:"worker_env_guard"`
}

// Default returns a config with the stock values.
func Default() *Config {
	return &Config{
		DataDir:         "data",
		TaskStoreFile:   "task_queue.json",
		ResultsFile:     "task_results.json",
		RulesFile:       "automation_rules.json",
		EngineStateFile: "engine_state.json",
		ArchiveDir:      "task_archive",
		PollInterval:    5 * time.Second,
		LockTimeout:     30 * time.Second,
		LockStaleness:   30 * time.Minute,
		LeaseInterval:   60 * time.Second,
		DedupWindow:     60 * time.Minute,
		LedgerCap:       50,
		DedupSetBound:   10000,
		WorkerEnvGuard:  "AUTOKIT_WORKER",
	}
}

// LoadFile loads configuration from a TOML file.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse parses configuration from TOML content, layering it over defaults.
func Parse(content string) (*Config, error) {
	var raw tomlConfig
	if _, err := toml.Decode(content, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}
	if raw.TaskStoreFile != "" {
		cfg.TaskStoreFile = raw.TaskStoreFile
	}
	if raw.ResultsFile != "" {
		cfg.ResultsFile = raw.ResultsFile
	}
	if raw.RulesFile != "" {
		cfg.RulesFile = raw.RulesFile
	}
	if raw.EngineStateFile != "" {
		cfg.EngineStateFile = raw.EngineStateFile
	}
	if raw.ArchiveDir != "" {
		cfg.ArchiveDir = raw.ArchiveDir
	}
	if raw.PollSeconds > 0 {
		cfg.PollInterval = time.Duration(raw.PollSeconds) * time.Second
	}
	if raw.LockTimeoutSecs > 0 {
		cfg.LockTimeout = time.Duration(raw.LockTimeoutSecs) * time.Second
	}
	if raw.LockStaleMins > 0 {
		cfg.LockStaleness = time.Duration(raw.LockStaleMins) * time.Minute
	}
	if raw.LeaseSeconds > 0 {
		cfg.LeaseInterval = time.Duration(raw.LeaseSeconds) * time.Second
	}
	if raw.DedupWindowMins > 0 {
		cfg.DedupWindow = time.Duration(raw.DedupWindowMins) * time.Minute
	}
	if raw.LedgerCap > 0 {
		cfg.LedgerCap = raw.LedgerCap
	}
	if raw.DedupSetBound > 0 {
		cfg.DedupSetBound = raw.DedupSetBound
	}
	if len(raw.WorkerCommand) > 0 {
		cfg.WorkerCommand = raw.WorkerCommand
	}
	if raw.WorkerEnvGuard != "" {
		cfg.WorkerEnvGuard = raw.WorkerEnvGuard
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("lock timeout must be positive")
	}
	if c.LedgerCap <= 0 {
		return fmt.Errorf("ledger cap must be positive")
	}
	return nil
}

// TaskStorePath returns the absolute-ish path of the task store.
func (c *Config) TaskStorePath() string {
	return filepath.Join(c.DataDir, c.TaskStoreFile)
}

// ResultsPath returns the path of the results ledger.
func (c *Config) ResultsPath() string {
	return filepath.Join(c.DataDir, c.ResultsFile)
}

// RulesPath returns the path of the rules store.
func (c *Config) RulesPath() string {
	return filepath.Join(c.DataDir, c.RulesFile)
}

// EngineStatePath returns the path of the engine bookkeeping store.
func (c *Config) EngineStatePath() string {
	return filepath.Join(c.DataDir, c.EngineStateFile)
}

// ArchivePath returns the directory receiving spilled results.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.DataDir, c.ArchiveDir)
}
