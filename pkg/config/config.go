// Package config loads the bot configuration: optional .env, optional YAML
// file, environment overrides, then struct-tag validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Yoogi-7/BitgetBot/internal/api"
	"github.com/Yoogi-7/BitgetBot/internal/engine"
	"github.com/Yoogi-7/BitgetBot/internal/filter"
	"github.com/Yoogi-7/BitgetBot/internal/indicators"
	"github.com/Yoogi-7/BitgetBot/internal/kpi"
	"github.com/Yoogi-7/BitgetBot/internal/monitor"
	"github.com/Yoogi-7/BitgetBot/internal/order"
	"github.com/Yoogi-7/BitgetBot/internal/position"
	"github.com/Yoogi-7/BitgetBot/internal/risk"
	"github.com/Yoogi-7/BitgetBot/internal/strategy"
	"github.com/Yoogi-7/BitgetBot/internal/strength"
	"github.com/Yoogi-7/BitgetBot/pkg/market/binance"
)

const (
	SourceMock    = "mock"
	SourceBinance = "binance"
)

// Config is built once by Load and never mutated afterwards.
type Config struct {
	DryRun         bool    `yaml:"dry_run"`
	InitialBalance float64 `yaml:"initial_balance" validate:"gt=0"`
	DataDir        string  `yaml:"data_dir" validate:"required"`
	LogDir         string  `yaml:"log_dir" validate:"required"`
	Debug          bool    `yaml:"debug"`
	MarketSource   string  `yaml:"market_source" validate:"oneof=mock binance"`
	// MockSeed makes the synthetic market reproducible.
	MockSeed int64 `yaml:"mock_seed"`

	Telegram Telegram `yaml:"telegram"`

	Engine     engine.Config         `yaml:"engine"`
	Risk       risk.AccountLimits    `yaml:"risk"`
	Strength   strength.Config       `yaml:"strength"`
	Strategy   strategy.Config       `yaml:"strategy"`
	Lifecycle  position.Config       `yaml:"lifecycle"`
	KPI        kpi.Config            `yaml:"kpi"`
	Indicators indicators.Config     `yaml:"indicators"`
	Dynamic    filter.DynamicConfig  `yaml:"dynamic_filter"`
	Security   filter.SecurityConfig `yaml:"security_filter"`
	Monitor    monitor.Config        `yaml:"monitor"`
	Paper      order.PaperConfig     `yaml:"paper"`
	Binance    binance.Config        `yaml:"binance"`
	API        api.Config            `yaml:"api"`
}

type Telegram struct {
	Token  string `yaml:"-"`
	ChatID int64  `yaml:"chat_id"`
}

// Enabled reports whether both credentials are present.
func (t Telegram) Enabled() bool { return t.Token != "" && t.ChatID != 0 }

// Default returns the stock configuration.
func Default() Config {
	return Config{
		DryRun:         true,
		InitialBalance: 10000,
		DataDir:        "./data",
		LogDir:         "./logs",
		MarketSource:   SourceMock,
		MockSeed:       1,
		Engine:         engine.DefaultConfig(),
		Risk:           risk.DefaultLimits(),
		Strength:       strength.DefaultConfig(),
		Strategy:       strategy.DefaultConfig(),
		Lifecycle:      position.DefaultConfig(),
		KPI:            kpi.DefaultConfig(),
		Indicators:     indicators.DefaultConfig(),
		Dynamic:        filter.DefaultDynamicConfig(),
		Security:       filter.DefaultSecurityConfig(),
		Monitor:        monitor.DefaultConfig(),
		Paper:          order.DefaultPaperConfig(),
		Binance:        binance.DefaultConfig(),
		API:            api.DefaultConfig(),
	}
}

var (
	ErrLiveTrading = errors.New("live order execution is not available, set DRY_RUN=true")
	ErrWeights     = errors.New("strength weights must sum to 1")
)

// Load reads .env (if present), the YAML file named by CONFIG_FILE
// (default config.yaml, optional) and the environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	path := getEnv("CONFIG_FILE", "config.yaml")
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. A missing file is not an error.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SYMBOLS"); v != "" {
		cfg.Engine.Instruments = splitAndTrim(v)
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN: %w", err)
		}
		cfg.DryRun = b
	}
	if v := os.Getenv("DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)
	cfg.MarketSource = strings.ToLower(getEnv("MARKET_SOURCE", cfg.MarketSource))
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.JWTSecret = getEnv("API_JWT_SECRET", cfg.API.JWTSecret)
	cfg.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", cfg.Telegram.Token)

	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("CHECK_INTERVAL: %w", err)
		}
		cfg.Engine.Interval = d
	}
	if v := os.Getenv("INITIAL_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("INITIAL_BALANCE: %w", err)
		}
		cfg.InitialBalance = f
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.Telegram.ChatID = id
	}
	return nil
}

// parseInterval accepts a Go duration or a plain number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

var validate = validator.New()

// Validate checks every struct tag plus the rules tags cannot express.
func (c Config) Validate() error {
	if !c.DryRun {
		return ErrLiveTrading
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if w := c.Strength.Weights.Sum(); w < 0.999 || w > 1.001 {
		return fmt.Errorf("%w: got %.3f", ErrWeights, w)
	}
	return nil
}

// Mode names the execution mode for status output.
func (c Config) Mode() string {
	if c.DryRun {
		return "paper"
	}
	return "live"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToUpper(strings.TrimSpace(p)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
