// Package config loads the issue execution engine's configuration from
// environment variables with an optional YAML file overlay, using viper
// the way the rest of the orchestration stack does.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the engine.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// LogLevel controls the minimum logged severity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogPath is the file the structured logger appends to.
	LogPath string `mapstructure:"log_path"`

	// ServiceName identifies this process in traces and health responses.
	ServiceName string `mapstructure:"service_name"`

	// EnableRuntimeEndpoint switches on trace export in the daemon (it is
	// passed as the tracing config's Enabled flag). Disabled by default.
	EnableRuntimeEndpoint bool `mapstructure:"enable_runtime_endpoint"`

	// HTTPAddr is the listen address for the HTTP/SSE boundary.
	HTTPAddr string `mapstructure:"http_addr"`

	// WorkspaceRoot is the root that client.ValidateWorkspaceRoot checks a
	// working directory against; "/" disables that check. No spawn path
	// calls ValidateWorkspaceRoot, so this value does not bound adapters'
	// working directories.
	WorkspaceRoot string `mapstructure:"workspace_root"`

	// MaxConcurrentExecutions is the global cap on simultaneously running
	// managed processes (§4.4 concurrency cap). Default 4.
	MaxConcurrentExecutions int `mapstructure:"max_concurrent_executions"`

	// ReconcileInterval is the period of the stale-session reconciliation sweep.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`

	// AdapterEnv carries adapter-specific credential environment variables
	// forwarded to spawned subprocesses via safeEnv. Never logged verbatim.
	AdapterEnv map[string]string `mapstructure:"-"`
}

// adapterEnvVars lists the environment variables passed through to child
// processes when present. The list is flat; it is not keyed by engine type.
var adapterEnvVars = []string{
	"ANTHROPIC_API_KEY",
	"OPENAI_API_KEY",
	"GOOGLE_API_KEY",
	"AMP_API_KEY",
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		DBPath:                  "data/bitk.db",
		LogLevel:                "info",
		LogPath:                 "data/bitk.log",
		ServiceName:             "bitk",
		EnableRuntimeEndpoint:   false,
		HTTPAddr:                ":19999",
		WorkspaceRoot:           "",
		MaxConcurrentExecutions: 4,
		ReconcileInterval:       30 * time.Second,
	}
}

// Load reads configuration from environment variables, overlaying an
// optional YAML file found at configFile (or the default search path if
// configFile is empty). Environment variables take precedence over the
// file, matching the teacher's own CLI flag > env > config > default
// resolution order, minus the CLI-flag layer (this is a headless engine).
func Load(configFile string) (Config, error) {
	defaults := Defaults()

	v := viper.New()
	v.SetEnvPrefix("BITK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("db_path", defaults.DBPath)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_path", defaults.LogPath)
	v.SetDefault("service_name", defaults.ServiceName)
	v.SetDefault("enable_runtime_endpoint", defaults.EnableRuntimeEndpoint)
	v.SetDefault("http_addr", defaults.HTTPAddr)
	v.SetDefault("workspace_root", defaults.WorkspaceRoot)
	v.SetDefault("max_concurrent_executions", defaults.MaxConcurrentExecutions)
	v.SetDefault("reconcile_interval", defaults.ReconcileInterval)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "bitk"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	// Un-prefixed plain env vars also win, for DB_PATH/LOG_LEVEL/SERVICE_NAME
	// exactly as named in the external-interfaces contract.
	bindPlainEnv(v, map[string]string{
		"DB_PATH":                 "db_path",
		"LOG_LEVEL":               "log_level",
		"SERVICE_NAME":            "service_name",
		"ENABLE_RUNTIME_ENDPOINT": "enable_runtime_endpoint",
		"HTTP_ADDR":               "http_addr",
		"WORKSPACE_ROOT":          "workspace_root",
	})
	if raw := os.Getenv("MAX_CONCURRENT_EXECUTIONS"); raw != "" {
		v.Set("max_concurrent_executions", raw)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.AdapterEnv = make(map[string]string)
	for _, name := range adapterEnvVars {
		if val := os.Getenv(name); val != "" {
			cfg.AdapterEnv[name] = val
		}
	}

	return cfg, nil
}

// bindPlainEnv maps unprefixed environment variable names onto viper keys,
// since viper's automatic env only honors the BITK_ prefix by default.
func bindPlainEnv(v *viper.Viper, pairs map[string]string) {
	for env, key := range pairs {
		if val, ok := os.LookupEnv(env); ok {
			v.Set(key, val)
		}
	}
}

// WatchReload installs an fsnotify watch on the resolved config file (if
// any) and invokes onChange whenever it is rewritten, mirroring the way the
// teacher's own config layer hot-reloads theme/view edits from disk.
func WatchReload(configFile string, onChange func()) (func() error, error) {
	if configFile == "" {
		return func() error { return nil }, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching config dir: %w", err)
	}

	go func() {
		for event := range watcher.Events {
			if event.Name == configFile && (event.Op&fsnotify.Write == fsnotify.Write) {
				onChange()
			}
		}
	}()

	return watcher.Close, nil
}
