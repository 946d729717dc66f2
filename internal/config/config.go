package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/sdm-cli/internal/distance"
	"github.com/sells-group/sdm-cli/internal/resilience"
	"github.com/sells-group/sdm-cli/internal/sdm"
	"github.com/sells-group/sdm-cli/internal/store"
	"github.com/sells-group/sdm-cli/internal/tableio"
)

// Config is the top-level application configuration.
type Config struct {
	Model      ModelConfig      `yaml:"model" mapstructure:"model"`
	Input      InputConfig      `yaml:"input" mapstructure:"input"`
	Occurrence OccurrenceConfig `yaml:"occurrence" mapstructure:"occurrence"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Geo        GeoConfig        `yaml:"geo" mapstructure:"geo"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// ModelConfig selects the estimators to fit.
type ModelConfig struct {
	Kinds  []string `yaml:"kinds" mapstructure:"kinds"`
	Metric string   `yaml:"metric" mapstructure:"metric"`
	K      []int    `yaml:"k" mapstructure:"k"`
}

// InputConfig describes the variable table layout.
type InputConfig struct {
	tableio.Options  `yaml:",inline" mapstructure:",squash"`
	OccurrenceColumn string `yaml:"occurrence_column" mapstructure:"occurrence_column"`
	DropNA           bool   `yaml:"drop_na" mapstructure:"drop_na"`
}

// OccurrenceConfig configures snapping of occurrence points onto cells.
type OccurrenceConfig struct {
	MaxSnapDistance float64 `yaml:"max_snap_distance" mapstructure:"max_snap_distance"`
}

// OutputConfig configures layer files.
type OutputConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// StoreConfig configures the layer store.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Schema      string           `yaml:"schema" mapstructure:"schema"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
	Retry       RetryConfig      `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retries of transient store failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// Policy converts the settings to a resilience.RetryConfig.
func (r RetryConfig) Policy() resilience.RetryConfig {
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs)
}

// RunConfig configures pipeline execution.
type RunConfig struct {
	Workers int    `yaml:"workers" mapstructure:"workers"`
	Species string `yaml:"species" mapstructure:"species"`
}

// GeoConfig configures stored cell geometry.
type GeoConfig struct {
	SRID int `yaml:"srid" mapstructure:"srid"`
}

// FetchConfig configures downloads of remote inputs.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxAttempts int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Accepted values for enumerated settings.
var (
	StoreDrivers  = []string{"sqlite", "postgres", "none"}
	OutputFormats = []string{"csv", "xlsx", "none"}
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SDM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("model.kinds", []string{sdm.KindGMS, sdm.KindKNNS})
	v.SetDefault("model.metric", distance.Default.String())
	v.SetDefault("model.k", []int{1})
	v.SetDefault("input.id_column", "id")
	v.SetDefault("input.x_column", "x")
	v.SetDefault("input.y_column", "y")
	v.SetDefault("input.sheet", "")
	v.SetDefault("input.encoding", "")
	v.SetDefault("input.occurrence_column", "occ")
	v.SetDefault("input.drop_na", true)
	v.SetDefault("occurrence.max_snap_distance", 0.0)
	v.SetDefault("output.dir", ".")
	v.SetDefault("output.format", "csv")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "sdm.db")
	v.SetDefault("store.schema", store.DefaultSchema)
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("store.retry.max_attempts", 3)
	v.SetDefault("store.retry.initial_backoff_ms", 200)
	v.SetDefault("store.retry.max_backoff_ms", 5000)
	v.SetDefault("run.workers", 2)
	v.SetDefault("run.species", "")
	v.SetDefault("geo.srid", 4326)
	v.SetDefault("fetch.user_agent", "sdm-cli/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.rate_limit", 5.0)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is "run" for the
// modelling pipeline or "store" for commands that only read or manage the
// layer store.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "run":
		problems = append(problems, c.validateModel()...)
		if c.Run.Workers < 1 {
			problems = append(problems, "run.workers must be >= 1")
		}
		if !slices.Contains(OutputFormats, c.Output.Format) {
			problems = append(problems, "output.format must be one of "+strings.Join(OutputFormats, ", "))
		}
		if c.Output.Format != "none" && c.Output.Dir == "" {
			problems = append(problems, "output.dir is required")
		}
		if c.Input.OccurrenceColumn == "" {
			problems = append(problems, "input.occurrence_column is required")
		}
		if c.Occurrence.MaxSnapDistance < 0 {
			problems = append(problems, "occurrence.max_snap_distance must be >= 0")
		}
		if c.Fetch.RateLimit < 0 || c.Fetch.TimeoutSecs < 0 {
			problems = append(problems, "fetch.rate_limit and fetch.timeout_secs must be >= 0")
		}
		problems = append(problems, c.validateStore(true)...)
	case "store":
		problems = append(problems, c.validateStore(false)...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateModel() []string {
	var problems []string
	if len(c.Model.Kinds) == 0 {
		problems = append(problems, "model.kinds is required")
	}
	for _, kind := range c.Model.Kinds {
		if !slices.Contains(sdm.Kinds(), strings.ToLower(kind)) {
			problems = append(problems, "model.kinds: unknown kind "+kind)
		}
	}
	if _, err := distance.Parse(c.Model.Metric); err != nil {
		problems = append(problems, "model.metric must be one of "+strings.Join(distance.Names(), ", "))
	}
	for _, k := range c.Model.K {
		if k < 1 {
			problems = append(problems, "model.k values must be >= 1")
			break
		}
	}
	return problems
}

func (c *Config) validateStore(allowNone bool) []string {
	if !slices.Contains(StoreDrivers, c.Store.Driver) {
		return []string{"store.driver must be one of " + strings.Join(StoreDrivers, ", ")}
	}
	if c.Store.Driver == "none" {
		if allowNone {
			return nil
		}
		return []string{"store.driver is none; a layer store is required"}
	}
	if c.Store.DatabaseURL == "" {
		return []string{"store.database_url is required"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
