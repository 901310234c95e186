package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/postpilot/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Scorer     ScorerConfig     `yaml:"scorer" mapstructure:"scorer"`
	Router     RouterConfig     `yaml:"router" mapstructure:"router"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Budget     model.Budget     `yaml:"budget" mapstructure:"budget"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Ollama     OllamaConfig     `yaml:"ollama" mapstructure:"ollama"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MinScoreConfig is the per-type inclusion threshold for opportunities.
type MinScoreConfig struct {
	Paper      float64 `yaml:"paper" mapstructure:"paper"`
	Discussion float64 `yaml:"discussion" mapstructure:"discussion"`
	TrendCombo float64 `yaml:"trend_combo" mapstructure:"trend_combo"`
}

// ScorerConfig configures opportunity scoring.
type ScorerConfig struct {
	Weights         model.ScoreWeights `yaml:"weights" mapstructure:"weights"`
	MinScore        MinScoreConfig     `yaml:"min_score" mapstructure:"min_score"`
	WindowDays      int                `yaml:"window_days" mapstructure:"window_days"`
	PaperLimit      int                `yaml:"paper_limit" mapstructure:"paper_limit"`
	DiscussionLimit int                `yaml:"discussion_limit" mapstructure:"discussion_limit"`
	TrendLimit      int                `yaml:"trend_limit" mapstructure:"trend_limit"`
}

// RouterConfig configures model fallback order.
type RouterConfig struct {
	ModelPriority    []string `yaml:"model_priority" mapstructure:"model_priority"`
	DefaultModel     string   `yaml:"default_model" mapstructure:"default_model"`
	ProbeTimeoutSecs int      `yaml:"probe_timeout_secs" mapstructure:"probe_timeout_secs"`
	BreakerThreshold int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int      `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ModelPriceConfig overrides or extends one entry of the pricing table.
// Rates are USD per token.
type ModelPriceConfig struct {
	Model      string  `yaml:"model" mapstructure:"model"`
	Provider   string  `yaml:"provider" mapstructure:"provider"`
	InputRate  float64 `yaml:"input_rate" mapstructure:"input_rate"`
	OutputRate float64 `yaml:"output_rate" mapstructure:"output_rate"`
	IsFree     bool    `yaml:"is_free" mapstructure:"is_free"`
}

// PricingConfig configures the model pricing table.
type PricingConfig struct {
	DefaultPer1K float64            `yaml:"default_per_1k" mapstructure:"default_per_1k"`
	Models       []ModelPriceConfig `yaml:"models" mapstructure:"models"`
}

// PipelineConfig configures the daily run and post lifecycle.
type PipelineConfig struct {
	DailyTarget           int      `yaml:"daily_target" mapstructure:"daily_target"`
	QualityMinScore       float64  `yaml:"quality_min_score" mapstructure:"quality_min_score"`
	PlatformMaxLength     int      `yaml:"platform_max_length" mapstructure:"platform_max_length"`
	MinLength             int      `yaml:"min_length" mapstructure:"min_length"`
	PostingSpacingHours   int      `yaml:"posting_spacing_hours" mapstructure:"posting_spacing_hours"`
	DailyPostCap          int      `yaml:"daily_post_cap" mapstructure:"daily_post_cap"`
	BaseSlotHourUTC       int      `yaml:"base_slot_hour_utc" mapstructure:"base_slot_hour_utc"`
	AvoidWeekends         bool     `yaml:"avoid_weekends" mapstructure:"avoid_weekends"`
	MaxConcurrency        int      `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RequiredHashtags      []string `yaml:"required_hashtags" mapstructure:"required_hashtags"`
	Blocklist             []string `yaml:"blocklist" mapstructure:"blocklist"`
	RolesFile             string   `yaml:"roles_file" mapstructure:"roles_file"`
	GenerationTimeoutSecs int      `yaml:"generation_timeout_secs" mapstructure:"generation_timeout_secs"`
	EmergencyDelayMins    int      `yaml:"emergency_delay_mins" mapstructure:"emergency_delay_mins"`
}

// OllamaConfig configures the local model provider.
type OllamaConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// NotionConfig holds Notion credentials for the content calendar.
type NotionConfig struct {
	Token      string  `yaml:"token" mapstructure:"token"`
	CalendarDB string  `yaml:"calendar_db" mapstructure:"calendar_db"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// TemporalConfig configures the scheduled-run worker.
type TemporalConfig struct {
	HostPort     string `yaml:"host_port" mapstructure:"host_port"`
	Namespace    string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue    string `yaml:"task_queue" mapstructure:"task_queue"`
	CronSchedule string `yaml:"cron_schedule" mapstructure:"cron_schedule"`
}

// MonitoringConfig configures alert forwarding and the background checker.
type MonitoringConfig struct {
	WebhookURL             string `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	ReviewBacklogThreshold int    `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("POSTPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

// Defaults returns a Config populated only from built-in defaults, ignoring
// config files and the environment.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		zap.L().Error("config: unmarshal defaults", zap.Error(err))
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	w := model.DefaultWeights()
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "postpilot.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scorer.weights.novelty", w.Novelty)
	v.SetDefault("scorer.weights.relevance", w.Relevance)
	v.SetDefault("scorer.weights.timeliness", w.Timeliness)
	v.SetDefault("scorer.weights.engagement", w.Engagement)
	v.SetDefault("scorer.weights.visual", w.Visual)
	v.SetDefault("scorer.min_score.paper", 6.0)
	v.SetDefault("scorer.min_score.discussion", 5.5)
	v.SetDefault("scorer.min_score.trend_combo", 7.0)
	v.SetDefault("scorer.window_days", 7)
	v.SetDefault("scorer.paper_limit", 50)
	v.SetDefault("scorer.discussion_limit", 30)
	v.SetDefault("scorer.trend_limit", 10)
	v.SetDefault("router.model_priority", []string{
		"ollama/deepseek-r1:1.5b",
		"ollama/qwen3:8b",
		"gpt-3.5-turbo",
		"claude-3-sonnet",
	})
	v.SetDefault("router.default_model", "ollama/deepseek-r1:1.5b")
	v.SetDefault("router.probe_timeout_secs", 5)
	v.SetDefault("router.breaker_threshold", 3)
	v.SetDefault("router.breaker_reset_secs", 60)
	v.SetDefault("pricing.default_per_1k", 0.001)
	v.SetDefault("budget.monthly_budget", 100.0)
	v.SetDefault("budget.alert_threshold", 0.8)
	v.SetDefault("pipeline.daily_target", 2)
	v.SetDefault("pipeline.quality_min_score", 7.0)
	v.SetDefault("pipeline.platform_max_length", 2900)
	v.SetDefault("pipeline.min_length", 200)
	v.SetDefault("pipeline.posting_spacing_hours", 5)
	v.SetDefault("pipeline.daily_post_cap", 3)
	v.SetDefault("pipeline.base_slot_hour_utc", 16)
	v.SetDefault("pipeline.avoid_weekends", false)
	v.SetDefault("pipeline.max_concurrency", 2)
	v.SetDefault("pipeline.required_hashtags", []string{"#AISafety", "#MechanisticInterpretability"})
	v.SetDefault("pipeline.generation_timeout_secs", 120)
	v.SetDefault("pipeline.emergency_delay_mins", 60)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.rate_limit", 2.0)
	v.SetDefault("ollama.timeout_secs", 120)
	v.SetDefault("notion.rate_limit", 3.0)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "postpilot-daily")
	v.SetDefault("temporal.cron_schedule", "0 14 * * *")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.review_backlog_threshold", 10)
}

// Validate checks that required configuration is present for the given mode.
// Mode is one of "run", "serve", "worker", "calendar", or "cli".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "cli":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	case "calendar":
		if c.Notion.Token == "" {
			errs = append(errs, "notion.token is required")
		}
		if c.Notion.CalendarDB == "" {
			errs = append(errs, "notion.calendar_db is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	errs = append(errs, c.validateScoring()...)
	errs = append(errs, c.validatePipeline()...)

	if len(c.Router.ModelPriority) == 0 {
		errs = append(errs, "router.model_priority must not be empty")
	}
	if c.Budget.MonthlyBudget <= 0 {
		errs = append(errs, "budget.monthly_budget must be > 0")
	}
	if c.Budget.AlertThreshold <= 0 || c.Budget.AlertThreshold > 1 {
		errs = append(errs, "budget.alert_threshold must be in (0, 1]")
	}
	if c.Pricing.DefaultPer1K < 0 {
		errs = append(errs, "pricing.default_per_1k must be >= 0")
	}
	for _, m := range c.Pricing.Models {
		if m.Model == "" {
			errs = append(errs, "pricing.models entries require a model name")
		}
		if m.InputRate < 0 || m.OutputRate < 0 {
			errs = append(errs, fmt.Sprintf("pricing.models %q rates must be >= 0", m.Model))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateScoring() []string {
	var errs []string
	w := c.Scorer.Weights
	if w.Novelty < 0 || w.Relevance < 0 || w.Timeliness < 0 || w.Engagement < 0 || w.Visual < 0 {
		errs = append(errs, "scorer.weights values must be >= 0")
	}
	if math.Abs(w.Sum()-1.0) > 0.001 {
		errs = append(errs, fmt.Sprintf("scorer.weights must sum to 1.0, got %.3f", w.Sum()))
	}
	m := c.Scorer.MinScore
	if m.Paper < 0 || m.Discussion < 0 || m.TrendCombo < 0 {
		errs = append(errs, "scorer.min_score values must be >= 0")
	}
	if c.Scorer.WindowDays <= 0 {
		errs = append(errs, "scorer.window_days must be > 0")
	}
	return errs
}

func (c *Config) validatePipeline() []string {
	var errs []string
	p := c.Pipeline
	if p.DailyTarget <= 0 {
		errs = append(errs, "pipeline.daily_target must be > 0")
	}
	if p.QualityMinScore < 0 || p.QualityMinScore > 10 {
		errs = append(errs, "pipeline.quality_min_score must be between 0 and 10")
	}
	if p.PlatformMaxLength <= 0 {
		errs = append(errs, "pipeline.platform_max_length must be > 0")
	}
	if p.MinLength < 0 || p.MinLength > p.PlatformMaxLength {
		errs = append(errs, "pipeline.min_length must be between 0 and platform_max_length")
	}
	if p.DailyPostCap <= 0 {
		errs = append(errs, "pipeline.daily_post_cap must be > 0")
	}
	if p.PostingSpacingHours < 0 {
		errs = append(errs, "pipeline.posting_spacing_hours must be >= 0")
	}
	if p.BaseSlotHourUTC < 0 || p.BaseSlotHourUTC > 23 {
		errs = append(errs, "pipeline.base_slot_hour_utc must be between 0 and 23")
	}
	if p.MaxConcurrency < 1 || p.MaxConcurrency > 32 {
		errs = append(errs, "pipeline.max_concurrency must be between 1 and 32")
	}
	return errs
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
