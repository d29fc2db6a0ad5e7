package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	General    GeneralConfig    `toml:"general"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Analyzer   AnalyzerConfig   `toml:"analyzer"`
	Reconciler ReconcilerConfig `toml:"reconciler"`
	Oracle     OracleConfig     `toml:"oracle"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Report     ReportConfig     `toml:"report"`
	Feed       FeedConfig       `toml:"feed"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

type GeneralConfig struct {
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
}

type ScheduleConfig struct {
	TickInterval   Duration `toml:"tick_interval"`
	ReportInterval Duration `toml:"report_interval"`
	PersistEvery   int      `toml:"persist_every"`
}

type AnalyzerConfig struct {
	Threshold        float64 `toml:"threshold"`
	HistorySize      int     `toml:"history_size"`
	TrendMinReadings int     `toml:"trend_min_readings"`
	TrendConsistency float64 `toml:"trend_consistency"`
}

type ReconcilerConfig struct {
	PageCacheTTL      Duration `toml:"page_cache_ttl"`
	PriceCacheSize    int      `toml:"price_cache_size"`
	MinPlausiblePrice float64  `toml:"min_plausible_price"`
	MaxPlausiblePrice float64  `toml:"max_plausible_price"`
}

type OracleConfig struct {
	PrimaryURL   string   `toml:"primary_url"`
	FallbackURLs []string `toml:"fallback_urls"`
	SpotURL      string   `toml:"spot_url"`
	Staleness    Duration `toml:"staleness"`
	Timeout      Duration `toml:"timeout"`
}

type PolymarketConfig struct {
	GammaURL     string   `toml:"gamma_url"`
	ClobURL      string   `toml:"clob_url"`
	EventPageURL string   `toml:"event_page_url"`
	FetchTimeout Duration `toml:"fetch_timeout"`
}

type ReportConfig struct {
	MinWindows          int     `toml:"min_windows"`
	StrongMinSample     int     `toml:"strong_min_sample"`
	TradeableLow        float64 `toml:"tradeable_low"`
	TradeableHigh       float64 `toml:"tradeable_high"`
	MaxCompletedWindows int     `toml:"max_completed_windows"`
}

type FeedConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// Duration wraps time.Duration for TOML unmarshaling.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Load reads the TOML config at path on top of defaults, then applies
// environment overrides. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnv lets deployment environments override endpoints and paths
// without editing the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("QW_DB_PATH"); v != "" {
		c.General.DBPath = v
	}
	if v := os.Getenv("QW_GAMMA_URL"); v != "" {
		c.Polymarket.GammaURL = v
	}
	if v := os.Getenv("QW_CLOB_URL"); v != "" {
		c.Polymarket.ClobURL = v
	}
	if v := os.Getenv("QW_ORACLE_URL"); v != "" {
		c.Oracle.PrimaryURL = v
	}
}

func (c *Config) Validate() error {
	if c.Schedule.TickInterval.Duration <= 0 {
		return fmt.Errorf("schedule.tick_interval must be positive")
	}
	if c.Schedule.PersistEvery < 1 {
		return fmt.Errorf("schedule.persist_every must be at least 1")
	}
	if c.Analyzer.Threshold <= 0 || c.Analyzer.Threshold >= 1 {
		return fmt.Errorf("analyzer.threshold must be in (0, 1)")
	}
	if c.Analyzer.HistorySize < c.Analyzer.TrendMinReadings {
		return fmt.Errorf("analyzer.history_size must be at least trend_min_readings")
	}
	if c.Analyzer.TrendConsistency <= 0 || c.Analyzer.TrendConsistency > 1 {
		return fmt.Errorf("analyzer.trend_consistency must be in (0, 1]")
	}
	if c.Reconciler.PriceCacheSize < 1 {
		return fmt.Errorf("reconciler.price_cache_size must be at least 1")
	}
	if c.Reconciler.MinPlausiblePrice >= c.Reconciler.MaxPlausiblePrice {
		return fmt.Errorf("reconciler price sanity band is empty")
	}
	if c.Report.TradeableLow >= c.Report.TradeableHigh {
		return fmt.Errorf("report tradeable band is empty")
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DBPath:   "./data/quarterwatch.db",
			LogLevel: "info",
		},
		Schedule: ScheduleConfig{
			TickInterval:   Duration{2 * time.Second},
			ReportInterval: Duration{5 * time.Minute},
			PersistEvery:   30,
		},
		Analyzer: AnalyzerConfig{
			Threshold:        0.3,
			HistorySize:      60,
			TrendMinReadings: 10,
			TrendConsistency: 0.6,
		},
		Reconciler: ReconcilerConfig{
			PageCacheTTL:      Duration{2 * time.Second},
			PriceCacheSize:    5,
			MinPlausiblePrice: 10_000,
			MaxPlausiblePrice: 500_000,
		},
		Oracle: OracleConfig{
			PrimaryURL: "https://hermes.pyth.network/v2/updates/price/latest?ids[]=e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
			FallbackURLs: []string{
				"https://hermes.pyth.network/api/latest_price_feeds?ids[]=e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
			},
			SpotURL:   "https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT",
			Staleness: Duration{60 * time.Second},
			Timeout:   Duration{5 * time.Second},
		},
		Polymarket: PolymarketConfig{
			GammaURL:     "https://gamma-api.polymarket.com",
			ClobURL:      "https://clob.polymarket.com",
			EventPageURL: "https://polymarket.com/event",
			FetchTimeout: Duration{5 * time.Second},
		},
		Report: ReportConfig{
			MinWindows:          5,
			StrongMinSample:     3,
			TradeableLow:        0.30,
			TradeableHigh:       0.70,
			MaxCompletedWindows: 200,
		},
		Feed: FeedConfig{
			Enabled:    true,
			ListenAddr: ":8090",
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
	}
}
