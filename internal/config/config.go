package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Inference  InferenceConfig  `yaml:"inference" mapstructure:"inference"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Prompts    PromptsConfig    `yaml:"prompts" mapstructure:"prompts"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// InferenceConfig selects and configures the batch inference backend.
type InferenceConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	OpenAIKey         string  `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIBaseURL     string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	AnthropicKey      string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	AnthropicModel    string  `yaml:"anthropic_model" mapstructure:"anthropic_model"`
	Model             string  `yaml:"model" mapstructure:"model"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TopP              float64 `yaml:"top_p" mapstructure:"top_p"`
	CompletionWindow  string  `yaml:"completion_window" mapstructure:"completion_window"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// BatchConfig configures submission size limits, splitting and polling.
type BatchConfig struct {
	MaxUploadBytes      int64    `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	MaxEnqueuedTokens   int64    `yaml:"max_enqueued_tokens" mapstructure:"max_enqueued_tokens"`
	ForceSplitThreshold int      `yaml:"force_split_threshold" mapstructure:"force_split_threshold"`
	OversizedDatasets   []string `yaml:"oversized_datasets" mapstructure:"oversized_datasets"`
	SplitNumerator      int      `yaml:"split_numerator" mapstructure:"split_numerator"`
	SplitDenominator    int      `yaml:"split_denominator" mapstructure:"split_denominator"`
	PollIntervalSecs    int      `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxRetries          int      `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs      int      `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
}

// PollInterval returns the status poll interval.
func (c BatchConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// RetryDelay returns the base delay of the linear submit backoff.
func (c BatchConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySecs) * time.Second
}

// QueueConfig configures the orchestrator's state files and loop timing.
type QueueConfig struct {
	QueueFile           string `yaml:"queue_file" mapstructure:"queue_file"`
	StatusFile          string `yaml:"status_file" mapstructure:"status_file"`
	PendingDir          string `yaml:"pending_dir" mapstructure:"pending_dir"`
	PendingIntervalSecs int    `yaml:"pending_interval_secs" mapstructure:"pending_interval_secs"`
	FullIntervalSecs    int    `yaml:"full_interval_secs" mapstructure:"full_interval_secs"`
}

// PendingInterval returns the pending-continuation check interval.
func (c QueueConfig) PendingInterval() time.Duration {
	return time.Duration(c.PendingIntervalSecs) * time.Second
}

// FullInterval returns the full queue evaluation interval.
func (c QueueConfig) FullInterval() time.Duration {
	return time.Duration(c.FullIntervalSecs) * time.Second
}

// PromptsConfig points at the system prompt files.
type PromptsConfig struct {
	Route string `yaml:"route" mapstructure:"route"`
	Area  string `yaml:"area" mapstructure:"area"`
}

// TaxonomyConfig optionally overrides the built-in taxonomy.
type TaxonomyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// StoreConfig configures the batch ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures ledger-based alerting. Alerts are only sent
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	StuckBatchHours      int     `yaml:"stuck_batch_hours" mapstructure:"stuck_batch_hours"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// Validate checks the settings a command mode depends on. Modes: "tag"
// and "queue" need a usable inference backend, "serve" needs a port.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "tag", "queue":
		switch c.Inference.Provider {
		case "openai":
			if c.Inference.OpenAIKey == "" {
				errs = append(errs, "inference.openai_key is required")
			}
		case "anthropic":
			if c.Inference.AnthropicKey == "" {
				errs = append(errs, "inference.anthropic_key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("inference.provider %q is not one of openai, anthropic", c.Inference.Provider))
		}
		if c.Batch.SplitNumerator <= 0 || c.Batch.SplitNumerator >= c.Batch.SplitDenominator {
			errs = append(errs, fmt.Sprintf("batch split ratio %d/%d must be a proper fraction", c.Batch.SplitNumerator, c.Batch.SplitDenominator))
		}
		if c.Batch.MaxRetries < 1 {
			errs = append(errs, "batch.max_retries must be >= 1")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres", "none", "":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, none", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required for postgres")
	}
	if c.Monitoring.WebhookURL != "" && (c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1) {
		errs = append(errs, fmt.Sprintf("monitoring.failure_rate_threshold %.2f must be in (0, 1]", c.Monitoring.FailureRateThreshold))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("inference.provider", "openai")
	v.SetDefault("inference.openai_key", "")
	v.SetDefault("inference.anthropic_key", "")
	v.SetDefault("inference.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("inference.anthropic_model", "claude-haiku-4-5-20251001")
	v.SetDefault("inference.model", "gpt-4o-mini")
	v.SetDefault("inference.temperature", 0.3)
	v.SetDefault("inference.max_tokens", 500)
	v.SetDefault("inference.top_p", 0.95)
	v.SetDefault("inference.completion_window", "24h")
	v.SetDefault("inference.requests_per_second", 2.0)
	v.SetDefault("inference.breaker_threshold", 5)
	v.SetDefault("inference.breaker_reset_secs", 120)
	v.SetDefault("batch.max_upload_bytes", 200*1024*1024)
	v.SetDefault("batch.max_enqueued_tokens", 20_000_000)
	v.SetDefault("batch.force_split_threshold", 25000)
	v.SetDefault("batch.oversized_datasets", []string{"california_routes.json"})
	v.SetDefault("batch.split_numerator", 2)
	v.SetDefault("batch.split_denominator", 5)
	v.SetDefault("batch.poll_interval_secs", 10)
	v.SetDefault("batch.max_retries", 3)
	v.SetDefault("batch.retry_delay_secs", 5)
	v.SetDefault("queue.queue_file", "batch_queue.json")
	v.SetDefault("queue.status_file", "batch_status.json")
	v.SetDefault("queue.pending_dir", ".")
	v.SetDefault("queue.pending_interval_secs", 60)
	v.SetDefault("queue.full_interval_secs", 300)
	v.SetDefault("prompts.route", "prompt/route_prompt.txt")
	v.SetDefault("prompts.area", "prompt/area_prompt.txt")
	v.SetDefault("taxonomy.path", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "batch_ledger.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.stuck_batch_hours", 26)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 900)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "batch_processing.log")

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

// InitLogger initializes the global zap logger. Output goes to stderr and,
// when cfg.File is set, is appended to that file as well.
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

	zapCfg.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
