package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/cairoprove/internal/pipeline"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Stage runners.
const (
	RunnerProcess = "process"
	RunnerDocker  = "docker"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "cairoprove.db"
	defaultBadgerDir     = "cairoprove-badger"
	defaultProverConfig  = "cpu_air_prover_config.json"
	defaultMaxBodyMB     = 64
	defaultStageTimeout  = time.Hour
	defaultRetention     = 24 * time.Hour
	defaultSweepInterval = 10 * time.Minute
	defaultRedisChannel  = "cairoprove:jobs"

	envPrefix = "CAIROPROVE_"

	envConfigFile     = envPrefix + "CONFIG_FILE"
	envListenAddr     = envPrefix + "LISTEN_ADDR"
	envLogLevel       = envPrefix + "LOG_LEVEL"
	envStore          = envPrefix + "STORE"
	envDBPath         = envPrefix + "DB_PATH"
	envBadgerDir      = envPrefix + "BADGER_DIR"
	envWorkdirRoot    = envPrefix + "WORKDIR_ROOT"
	envMaxConcurrent  = envPrefix + "MAX_CONCURRENT"
	envStageTimeout   = envPrefix + "STAGE_TIMEOUT"
	envKeepFailed     = envPrefix + "KEEP_FAILED"
	envRetention      = envPrefix + "RETENTION"
	envSweepInterval  = envPrefix + "SWEEP_INTERVAL"
	envRunner         = envPrefix + "RUNNER"
	envDockerImage    = envPrefix + "DOCKER_IMAGE"
	envTraceBin       = envPrefix + "TRACE_BIN"
	envCairo0TraceBin = envPrefix + "CAIRO0_TRACE_BIN"
	envProverBin      = envPrefix + "PROVER_BIN"
	envVerifierBin    = envPrefix + "VERIFIER_BIN"
	envProverConfig   = envPrefix + "PROVER_CONFIG"
	envRedisURL       = envPrefix + "REDIS_URL"
	envRedisChannel   = envPrefix + "REDIS_CHANNEL"
	envCORSOrigins    = envPrefix + "CORS_ORIGINS"
	envMaxBodyMB      = envPrefix + "MAX_BODY_MB"
)

// Config holds application configuration. Values come from defaults, then an
// optional YAML file named by CAIROPROVE_CONFIG_FILE, then environment
// variables.
type Config struct {
	ListenAddr  string     `yaml:"listen_addr"`
	LogLevel    slog.Level `yaml:"-"`
	CORSOrigins []string   `yaml:"cors_origins"`
	MaxBodyMB   int        `yaml:"max_body_mb"`

	Store     string `yaml:"store"`
	DBPath    string `yaml:"db_path"`
	BadgerDir string `yaml:"badger_dir"`

	WorkdirRoot   string        `yaml:"workdir_root"`
	KeepFailed    bool          `yaml:"keep_failed"`
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	MaxConcurrent int           `yaml:"max_concurrent"`
	StageTimeout  time.Duration `yaml:"stage_timeout"`

	Runner       string            `yaml:"runner"`
	DockerImage  string            `yaml:"docker_image"`
	Binaries     pipeline.Binaries `yaml:"binaries"`
	ProverConfig string            `yaml:"prover_config"`
	Params       pipeline.Template `yaml:"params"`

	RedisURL     string `yaml:"redis_url"`
	RedisChannel string `yaml:"redis_channel"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:    defaultListenAddr,
		LogLevel:      slog.LevelInfo,
		CORSOrigins:   []string{"*"},
		MaxBodyMB:     defaultMaxBodyMB,
		Store:         StoreMemory,
		DBPath:        defaultDBPath,
		BadgerDir:     defaultBadgerDir,
		WorkdirRoot:   filepath.Join(os.TempDir(), "cairoprove"),
		KeepFailed:    true,
		Retention:     defaultRetention,
		SweepInterval: defaultSweepInterval,
		MaxConcurrent: 1,
		StageTimeout:  defaultStageTimeout,
		Runner:        RunnerProcess,
		Binaries:      pipeline.DefaultBinaries(),
		ProverConfig:  defaultProverConfig,
		Params:        pipeline.DefaultTemplate(),
		RedisChannel:  defaultRedisChannel,
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, then validates it.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	// log_level is decoded separately so it goes through parseLogLevel.
	raw := struct {
		Config   `yaml:",inline"`
		LogLevel string `yaml:"log_level"`
	}{Config: *cfg}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	*cfg = raw.Config
	if raw.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(raw.LogLevel)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ListenAddr, envListenAddr)
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envCORSOrigins); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	setString(&cfg.Store, envStore)
	setString(&cfg.DBPath, envDBPath)
	setString(&cfg.BadgerDir, envBadgerDir)
	setString(&cfg.WorkdirRoot, envWorkdirRoot)
	setString(&cfg.Runner, envRunner)
	setString(&cfg.DockerImage, envDockerImage)
	setString(&cfg.Binaries.Trace, envTraceBin)
	setString(&cfg.Binaries.Cairo0Trace, envCairo0TraceBin)
	setString(&cfg.Binaries.Prover, envProverBin)
	setString(&cfg.Binaries.Verifier, envVerifierBin)
	setString(&cfg.ProverConfig, envProverConfig)
	setString(&cfg.RedisURL, envRedisURL)
	setString(&cfg.RedisChannel, envRedisChannel)

	var errs []error
	errs = append(errs,
		setInt(&cfg.MaxConcurrent, envMaxConcurrent),
		setInt(&cfg.MaxBodyMB, envMaxBodyMB),
		setBool(&cfg.KeepFailed, envKeepFailed),
		setDuration(&cfg.StageTimeout, envStageTimeout),
		setDuration(&cfg.Retention, envRetention),
		setDuration(&cfg.SweepInterval, envSweepInterval),
	)
	return errors.Join(errs...)
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StoreBadger:
	default:
		return fmt.Errorf("unknown store %q (want memory, sqlite or badger)", c.Store)
	}
	switch c.Runner {
	case RunnerProcess:
	case RunnerDocker:
		if c.DockerImage == "" {
			return fmt.Errorf("runner docker requires %s", envDockerImage)
		}
	default:
		return fmt.Errorf("unknown runner %q (want process or docker)", c.Runner)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MaxBodyMB < 1 {
		return fmt.Errorf("max_body_mb must be at least 1, got %d", c.MaxBodyMB)
	}
	if c.StageTimeout < 0 || c.Retention < 0 || c.SweepInterval < 0 {
		return errors.New("durations must not be negative")
	}
	if c.Params.LastLayerDegreeBound == 0 {
		return errors.New("params.last_layer_degree_bound must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
