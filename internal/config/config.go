package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"SignalSentinel/internal/lifecycle"
	"SignalSentinel/internal/model"
	"SignalSentinel/internal/snapshot"
	"SignalSentinel/internal/strategy"
)

// RuleConfig is a target rule. Zero fields in per-strategy rules inherit the
// default rule.
type RuleConfig struct {
	Steps         int     `yaml:"steps" validate:"gte=0"`
	StepPercent   float64 `yaml:"step_percent" validate:"gte=0"`
	StopFactor    float64 `yaml:"stop_factor" validate:"gte=0,lt=1"`
	RecentLowBars int     `yaml:"recent_low_bars" validate:"gte=0"`
}

// Config holds all application configuration.
type Config struct {
	Symbols []string `yaml:"symbols" default:"[\"SPY\",\"QQQ\",\"AAPL\",\"MSFT\",\"NVDA\"]" validate:"required,min=1,dive,required"`

	Telegram struct {
		BotToken      string        `yaml:"bot_token"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"25" validate:"gte=0"`
		Timeout       time.Duration `yaml:"timeout" default:"10s"`
		Polling       bool          `yaml:"polling" default:"true"`
	} `yaml:"telegram"`
	Notifier struct {
		Channel string        `yaml:"channel" default:"telegram" validate:"oneof=telegram console"`
		Workers int           `yaml:"workers" default:"8" validate:"gte=1"`
		Timeout time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	} `yaml:"notifier"`
	DataSource struct {
		Provider      string        `yaml:"provider" default:"yahoo" validate:"oneof=yahoo vstrader mock"`
		BaseURL       string        `yaml:"base_url" validate:"required_if=Provider vstrader"`
		APIKey        string        `yaml:"api_key"`
		Interval      string        `yaml:"interval" default:"1d"`
		Lookback      int           `yaml:"lookback" default:"250" validate:"gte=2"`
		RatePerSecond float64       `yaml:"rate_per_second" default:"2" validate:"gte=0"`
		Timeout       time.Duration `yaml:"timeout" default:"15s" validate:"gt=0"`
		MockPrice     float64       `yaml:"mock_price" default:"100"`
	} `yaml:"data_source"`
	Snapshot struct {
		Backend          string `yaml:"backend" default:"memory" validate:"oneof=memory redis"`
		Workers          int    `yaml:"workers" default:"4" validate:"gte=1"`
		FastPeriod       int    `yaml:"fast_period" default:"50" validate:"gte=1"`
		SlowPeriod       int    `yaml:"slow_period" default:"200" validate:"gtfield=FastPeriod"`
		RSIPeriod        int    `yaml:"rsi_period" default:"14" validate:"gte=1"`
		RangePeriod      int    `yaml:"range_period" validate:"gte=0"`
		BreakoutLookback int    `yaml:"breakout_lookback" default:"20" validate:"gte=1"`
		Redis            struct {
			Addr     string        `yaml:"addr" default:"localhost:6379"`
			Password string        `yaml:"password"`
			DB       int           `yaml:"db"`
			TTL      time.Duration `yaml:"ttl" default:"24h"`
		} `yaml:"redis"`
	} `yaml:"snapshot"`
	Strategy struct {
		VolumeMultiple         float64 `yaml:"volume_multiple" default:"1.5" validate:"gt=0"`
		RetracementLevel       float64 `yaml:"retracement_level" default:"0.618" validate:"gt=0,lte=1"`
		RangeExpansionFraction float64 `yaml:"range_expansion_fraction" default:"0.05" validate:"gt=0"`
	} `yaml:"strategy"`
	Lifecycle struct {
		Workers int                   `yaml:"workers" default:"4" validate:"gte=1"`
		Default RuleConfig            `yaml:"default"`
		Rules   map[string]RuleConfig `yaml:"rules" validate:"omitempty,dive"`
	} `yaml:"lifecycle"`
	Schedule struct {
		RefreshCron string `yaml:"refresh_cron" default:"0 */5 * * * *"`
		SweepCron   string `yaml:"sweep_cron" default:"30 */5 * * * *"`
		TrackCron   string `yaml:"track_cron" default:"15 * * * * *"`
		HourlyCron  string `yaml:"hourly_cron" default:"0 0 * * * *"`
		DailyCron   string `yaml:"daily_cron" default:"0 0 8 * * *"`
		WeeklyCron  string `yaml:"weekly_cron" default:"0 0 8 * * 1"`
		RunOnStart  bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Tenants struct {
		EnforceSubscriptions bool `yaml:"enforce_subscriptions"`
	} `yaml:"tenants"`
	Report struct {
		RankSize int `yaml:"rank_size" default:"5" validate:"gte=1"`
	} `yaml:"report"`
	Database struct {
		Backend    string `yaml:"backend" default:"sqlite" validate:"oneof=sqlite memory"`
		SQLitePath string `yaml:"sqlite_path" default:"data/signal_sentinel.db"`
	} `yaml:"database"`
	API struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Addr    string `yaml:"addr" default:":8080"`
		Token   string `yaml:"token"`
	} `yaml:"api"`
	Log struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=trace debug info warn error"`
		Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env, then the YAML file, then applies environment variable
// overrides. Defaults fill everything left unset.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %v: %w", err, model.ErrConfiguration)
	}
	cfg.Lifecycle.Default = defaultRule()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %v: %w", err, model.ErrConfiguration)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %v: %w", err, model.ErrConfiguration)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaultRule() RuleConfig {
	r := lifecycle.DefaultRule()
	return RuleConfig{Steps: r.Steps, StepPercent: r.StepPercent, StopFactor: r.StopFactor, RecentLowBars: r.RecentLowBars}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("NOTIFIER_CHANNEL"); v != "" {
		cfg.Notifier.Channel = v
	}
	if v := os.Getenv("VSTRADER_BASE_URL"); v != "" {
		cfg.DataSource.BaseURL = v
		cfg.DataSource.Provider = "vstrader"
	}
	if v := os.Getenv("VSTRADER_API_KEY"); v != "" {
		cfg.DataSource.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Snapshot.Redis.Addr = v
		cfg.Snapshot.Backend = "redis"
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		var syms []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				syms = append(syms, s)
			}
		}
		cfg.Symbols = syms
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if os.Getenv("RUN_ON_START") == "true" {
		cfg.Schedule.RunOnStart = true
	}
}

// Validate checks field constraints and cross-field requirements.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q: %w", fe.Namespace(), fe.Tag(), model.ErrConfiguration)
		}
		return fmt.Errorf("%v: %w", err, model.ErrConfiguration)
	}
	if c.Notifier.Channel == "telegram" && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required: %w", model.ErrConfiguration)
	}
	if err := c.LifecycleRules().Validate(); err != nil {
		return err
	}
	return nil
}

// SnapshotParams returns the indicator lookbacks.
func (c *Config) SnapshotParams() snapshot.Params {
	return snapshot.Params{
		FastPeriod:       c.Snapshot.FastPeriod,
		SlowPeriod:       c.Snapshot.SlowPeriod,
		RSIPeriod:        c.Snapshot.RSIPeriod,
		RangePeriod:      c.Snapshot.RangePeriod,
		BreakoutLookback: c.Snapshot.BreakoutLookback,
	}
}

// StrategyConfig returns the detector thresholds.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		VolumeMultiple:         c.Strategy.VolumeMultiple,
		RetracementLevel:       c.Strategy.RetracementLevel,
		RangeExpansionFraction: c.Strategy.RangeExpansionFraction,
	}
}

func (r RuleConfig) inherit(base lifecycle.TargetRule) lifecycle.TargetRule {
	if r.Steps > 0 {
		base.Steps = r.Steps
	}
	if r.StepPercent > 0 {
		base.StepPercent = r.StepPercent
	}
	if r.StopFactor > 0 {
		base.StopFactor = r.StopFactor
	}
	if r.RecentLowBars > 0 {
		base.RecentLowBars = r.RecentLowBars
	}
	return base
}

// LifecycleRules returns the target rules, per-strategy rules inheriting
// unset fields from the default.
func (c *Config) LifecycleRules() lifecycle.Rules {
	def := c.Lifecycle.Default.inherit(lifecycle.DefaultRule())
	rules := lifecycle.Rules{Default: def, PerStrategy: make(map[string]lifecycle.TargetRule, len(c.Lifecycle.Rules))}
	for name, rc := range c.Lifecycle.Rules {
		rules.PerStrategy[name] = rc.inherit(def)
	}
	return rules
}
