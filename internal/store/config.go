package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode                  string   `yaml:"mode"`
	UpdateIntervalSeconds int      `yaml:"update_interval_seconds"`
	Universe              []string `yaml:"universe"`

	Features struct {
		VelocityEnabled bool `yaml:"velocity_enabled"`
		TradingEnabled  bool `yaml:"trading_enabled"`
	} `yaml:"features"`

	Velocity struct {
		BaselinePerDay float64 `yaml:"baseline_per_day"`
		RetentionDays  int     `yaml:"retention_days"`
	} `yaml:"velocity"`

	Fusion struct {
		Weights struct {
			Lexical    float64 `yaml:"lexical"`
			Classifier float64 `yaml:"classifier"`
			Velocity   float64 `yaml:"velocity"`
			LLM        float64 `yaml:"llm"`
			HardData   float64 `yaml:"hard_data"`
		} `yaml:"weights"`
		MinConfidence float64 `yaml:"min_confidence"`
		MinScore      float64 `yaml:"min_score"`
	} `yaml:"fusion"`

	LLM struct {
		Provider          string  `yaml:"provider"`
		Model             string  `yaml:"model"`
		MaxTokens         int     `yaml:"max_tokens"`
		Temperature       float32 `yaml:"temperature"`
		BatchSize         int     `yaml:"batch_size"`
		BatchDelaySeconds float64 `yaml:"batch_delay_seconds"`
		PrescaleThreshold float64 `yaml:"prescale_threshold"`
		Warmup            bool    `yaml:"warmup"`
	} `yaml:"llm"`

	MarketData struct {
		CacheTTLSeconds     int `yaml:"cache_ttl_seconds"`
		BatchTimeoutSeconds int `yaml:"batch_timeout_seconds"`
	} `yaml:"market_data"`

	Risk struct {
		BasePositionPct         float64 `yaml:"base_position_pct"`
		MaxPositionPct          float64 `yaml:"max_position_pct"`
		MaxPortfolioExposurePct float64 `yaml:"max_portfolio_exposure_pct"`
		StopLossPct             float64 `yaml:"stop_loss_pct"`
		TakeProfitPct           float64 `yaml:"take_profit_pct"`
		MaxDailyLossPct         float64 `yaml:"max_daily_loss_pct"`
		MinRiskReward           float64 `yaml:"min_risk_reward"`
	} `yaml:"risk"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`

	Alerts struct {
		Enabled    bool   `yaml:"enabled"`
		WebhookEnv string `yaml:"webhook_env"`
	} `yaml:"alerts"`

	API struct {
		Addr string `yaml:"addr"`
	} `yaml:"api"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if len(c.Universe) == 0 {
		return fmt.Errorf("universe cannot be empty")
	}
	if c.Risk.StopLossPct <= 0 || c.Risk.StopLossPct >= 100 {
		return fmt.Errorf("risk.stop_loss_pct must be between 0-100, got %.2f", c.Risk.StopLossPct)
	}
	if c.Risk.TakeProfitPct <= 0 {
		return fmt.Errorf("risk.take_profit_pct must be positive, got %.2f", c.Risk.TakeProfitPct)
	}
	if c.Risk.MaxPositionPct > c.Risk.MaxPortfolioExposurePct {
		return fmt.Errorf("risk.max_position_pct (%.2f) exceeds max_portfolio_exposure_pct (%.2f)",
			c.Risk.MaxPositionPct, c.Risk.MaxPortfolioExposurePct)
	}
	if c.LLM.PrescaleThreshold < 0 || c.LLM.PrescaleThreshold > 1 {
		return fmt.Errorf("llm.prescale_threshold must be in [0,1], got %.2f", c.LLM.PrescaleThreshold)
	}
	return nil
}

// applyDefaults fills zero-valued knobs with the documented defaults.
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.UpdateIntervalSeconds == 0 {
		c.UpdateIntervalSeconds = 60
	}
	if c.Velocity.BaselinePerDay == 0 {
		c.Velocity.BaselinePerDay = 5
	}
	if c.Velocity.RetentionDays == 0 {
		c.Velocity.RetentionDays = 7
	}
	w := &c.Fusion.Weights
	if w.Lexical == 0 && w.Classifier == 0 && w.Velocity == 0 && w.LLM == 0 && w.HardData == 0 {
		w.Lexical = 0.25
		w.Classifier = 0.25
		w.Velocity = 0.05
		w.LLM = 0.15
		w.HardData = 0.35
	}
	if c.Fusion.MinConfidence == 0 {
		c.Fusion.MinConfidence = 0.6
	}
	if c.Fusion.MinScore == 0 {
		c.Fusion.MinScore = 0.25
	}
	if c.LLM.BatchSize == 0 {
		c.LLM.BatchSize = 5
	}
	if c.LLM.BatchDelaySeconds == 0 {
		c.LLM.BatchDelaySeconds = 2.0
	}
	if c.LLM.PrescaleThreshold == 0 {
		c.LLM.PrescaleThreshold = 0.20
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 64
	}
	if c.MarketData.CacheTTLSeconds == 0 {
		c.MarketData.CacheTTLSeconds = 30
	}
	if c.MarketData.BatchTimeoutSeconds == 0 {
		c.MarketData.BatchTimeoutSeconds = 10
	}
	if c.Risk.BasePositionPct == 0 {
		c.Risk.BasePositionPct = 5
	}
	if c.Risk.MaxPositionPct == 0 {
		c.Risk.MaxPositionPct = 10
	}
	if c.Risk.MaxPortfolioExposurePct == 0 {
		c.Risk.MaxPortfolioExposurePct = 50
	}
	if c.Risk.StopLossPct == 0 {
		c.Risk.StopLossPct = 5
	}
	if c.Risk.TakeProfitPct == 0 {
		c.Risk.TakeProfitPct = 10
	}
	if c.Risk.MaxDailyLossPct == 0 {
		c.Risk.MaxDailyLossPct = 10
	}
	if c.Risk.MinRiskReward == 0 {
		c.Risk.MinRiskReward = 1.5
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/articles.db"
	}
	if c.Alerts.WebhookEnv == "" {
		c.Alerts.WebhookEnv = "ALERT_WEBHOOK_URL"
	}
	if c.API.Addr == "" {
		c.API.Addr = ":8090"
	}
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// DefaultConfig returns a config with every knob at its default, for tests
// and dry runs without a config file.
func DefaultConfig() *Config {
	c := &Config{}
	c.Features.VelocityEnabled = true
	c.Features.TradingEnabled = true
	c.applyDefaults()
	return c
}
