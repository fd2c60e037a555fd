package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"market_go/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 일부 값을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Market struct {
		Symbol          string          `yaml:"symbol"`
		LastPrice       decimal.Decimal `yaml:"last_price"`
		High24h         decimal.Decimal `yaml:"high_24h"`
		Low24h          decimal.Decimal `yaml:"low_24h"`
		Volume24h       decimal.Decimal `yaml:"volume_24h"`
		ChangePercent   decimal.Decimal `yaml:"change_percent"`
		MarkPrice       decimal.Decimal `yaml:"mark_price"`
		IndexPrice      decimal.Decimal `yaml:"index_price"`
		FundingRate     decimal.Decimal `yaml:"funding_rate"`
		NextFundingTime string          `yaml:"next_funding_time"`
		Favorites       []string        `yaml:"favorites"`
		KnownSymbols    []string        `yaml:"known_symbols"` // Empty = accept any symbol
	} `yaml:"market"`

	Simulation struct {
		Enabled            bool            `yaml:"enabled"`
		IntervalMS         int             `yaml:"interval_ms"`
		PriceJitter        decimal.Decimal `yaml:"price_jitter"`
		DerivedJitter      decimal.Decimal `yaml:"derived_jitter"`
		MaxVolumeStep      decimal.Decimal `yaml:"max_volume_step"`
		ReferenceBasePrice decimal.Decimal `yaml:"reference_base_price"`
	} `yaml:"simulation"`

	Server struct {
		Addr        string   `yaml:"addr"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"` // Empty = OS config dir
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration populated with the reference values.
// LoadConfig starts from it, so a YAML file only needs the keys it changes.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "Market Go"
	cfg.App.Version = "0.1.0"

	state := domain.DefaultMarketState()
	cfg.Market.Symbol = state.Symbol
	cfg.Market.LastPrice = state.LastPrice
	cfg.Market.High24h = state.High24h
	cfg.Market.Low24h = state.Low24h
	cfg.Market.Volume24h = state.Volume24h
	cfg.Market.ChangePercent = state.PriceChangePercent
	cfg.Market.MarkPrice = state.MarkPrice
	cfg.Market.IndexPrice = state.IndexPrice
	cfg.Market.FundingRate = state.FundingRate
	cfg.Market.NextFundingTime = state.NextFundingTime
	cfg.Market.Favorites = append([]string(nil), domain.DefaultFavorites...)

	cfg.Simulation.Enabled = true
	cfg.Simulation.IntervalMS = 3000
	cfg.Simulation.PriceJitter = decimal.NewFromInt(10)
	cfg.Simulation.DerivedJitter = decimal.NewFromInt(5)
	cfg.Simulation.MaxVolumeStep = decimal.NewFromInt(10000)
	cfg.Simulation.ReferenceBasePrice = decimal.NewFromInt(65000)

	cfg.Server.Addr = "localhost:8080"
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// .env is optional; real environment variables win over it
	_ = godotenv.Load()
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Market.Symbol == "" {
		return &domain.ConfigError{Field: "market.symbol", Err: errors.New("symbol is required")}
	}
	if c.Market.High24h.LessThan(c.Market.LastPrice) || c.Market.LastPrice.LessThan(c.Market.Low24h) {
		return &domain.ConfigError{Field: "market.last_price", Err: errors.New("must lie within [low_24h, high_24h]")}
	}
	if c.Market.Volume24h.IsNegative() {
		return &domain.ConfigError{Field: "market.volume_24h", Err: errors.New("must not be negative")}
	}
	if len(c.Market.KnownSymbols) > 0 && !contains(c.Market.KnownSymbols, c.Market.Symbol) {
		return &domain.ConfigError{Field: "market.known_symbols", Err: fmt.Errorf("initial symbol %s is not listed", c.Market.Symbol)}
	}

	if c.Simulation.IntervalMS <= 0 {
		return &domain.ConfigError{Field: "simulation.interval_ms", Err: errors.New("must be positive")}
	}
	if c.Simulation.PriceJitter.IsNegative() || c.Simulation.DerivedJitter.IsNegative() {
		return &domain.ConfigError{Field: "simulation.jitter", Err: errors.New("must not be negative")}
	}
	if c.Simulation.MaxVolumeStep.IsNegative() {
		return &domain.ConfigError{Field: "simulation.max_volume_step", Err: errors.New("must not be negative")}
	}
	if !c.Simulation.ReferenceBasePrice.IsPositive() {
		return &domain.ConfigError{Field: "simulation.reference_base_price", Err: errors.New("must be positive")}
	}

	if c.Server.Addr == "" {
		return &domain.ConfigError{Field: "server.addr", Err: errors.New("address is required")}
	}

	return nil
}

// SimulationInterval returns the tick interval as a duration
func (c *Config) SimulationInterval() time.Duration {
	return time.Duration(c.Simulation.IntervalMS) * time.Millisecond
}

// InitialState builds the engine's starting MarketState from the market section
func (c *Config) InitialState() domain.MarketState {
	return domain.MarketState{
		Symbol:             c.Market.Symbol,
		LastPrice:          c.Market.LastPrice,
		High24h:            c.Market.High24h,
		Low24h:             c.Market.Low24h,
		Volume24h:          c.Market.Volume24h,
		PriceChangePercent: c.Market.ChangePercent,
		MarkPrice:          c.Market.MarkPrice,
		IndexPrice:         c.Market.IndexPrice,
		FundingRate:        c.Market.FundingRate,
		NextFundingTime:    c.Market.NextFundingTime,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if level := os.Getenv("MARKET_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := os.Getenv("MARKET_SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if path := os.Getenv("MARKET_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if ms := os.Getenv("MARKET_SIM_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Simulation.IntervalMS = v
		}
	}
}
