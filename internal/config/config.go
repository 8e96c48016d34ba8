package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Masterora/agent-arena/internal/domain"
	"github.com/Masterora/agent-arena/internal/util"
)

// DefaultPath is read when ARENA_CONFIG is unset.
const DefaultPath = "config/arena.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the arena server and CLI.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Server    Server    `yaml:"server"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Engine    Engine    `yaml:"engine"`
	Arena     Arena     `yaml:"arena"`
	Market    Market    `yaml:"market"`
	Telemetry Telemetry `yaml:"telemetry"`
	Profiling Profiling `yaml:"profiling"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration. A zero GRPCPort disables
// the gRPC listener.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// HTTPAddr returns host:port of the REST listener.
func (s Server) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GRPCAddr returns host:grpc_port, or "" when gRPC is disabled.
func (s Server) GRPCAddr() string {
	if s.GRPCPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// Alpaca holds credentials and the market data endpoint. Crypto bars are
// served without credentials; keys raise the rate limit.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Engine holds execution costs and the default bar interval.
type Engine struct {
	FeeRate       float64  `yaml:"fee_rate"`
	SlippageRate  float64  `yaml:"slippage_rate"`
	Timeframe     string   `yaml:"timeframe"`
	ScriptTimeout Duration `yaml:"script_timeout"`
}

// Arena holds match limits and defaults.
type Arena struct {
	DefaultInitialCapital float64 `yaml:"default_initial_capital"`
	DefaultTradingPair    string  `yaml:"default_trading_pair"`
	DefaultDurationSteps  int     `yaml:"default_duration_steps"`
	MaxStrategiesPerMatch int     `yaml:"max_strategies_per_match"`
	MaxDurationSteps      int     `yaml:"max_duration_steps"`
	Workers               int     `yaml:"workers"`
	DefaultSource         string  `yaml:"default_source"`
}

// Market controls upstream market data access.
type Market struct {
	CacheTTL        Duration `yaml:"cache_ttl"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	RetryDelay      Duration `yaml:"retry_delay"`
}

// Telemetry configures the OpenTelemetry metrics exporter. An empty
// endpoint disables export.
type Telemetry struct {
	OTLPEndpoint string   `yaml:"otlp_endpoint"`
	ServiceName  string   `yaml:"service_name"`
	Interval     Duration `yaml:"interval"`
}

// Profiling configures continuous profiling.
type Profiling struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
}

// Duration is a time.Duration that unmarshals from strings like "10m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used for every field the YAML file
// leaves unset.
func Default() *Config {
	return &Config{
		Storage: Storage{DataDir: "data"},
		Server:  Server{Host: "0.0.0.0", Port: 8080, GRPCPort: 9090},
		Alpaca:  Alpaca{DataURL: "https://data.alpaca.markets"},
		Logging: Logging{Level: "info", Format: "json"},
		Engine: Engine{
			FeeRate:       0.002,
			SlippageRate:  0.001,
			Timeframe:     "5m",
			ScriptTimeout: Duration(200 * time.Millisecond),
		},
		Arena: Arena{
			DefaultInitialCapital: 10000,
			DefaultTradingPair:    "ETH/USDC",
			DefaultDurationSteps:  100,
			MaxStrategiesPerMatch: 10,
			MaxDurationSteps:      500,
			Workers:               4,
			DefaultSource:         "synthetic",
		},
		Market: Market{
			CacheTTL:        Duration(10 * time.Minute),
			RateLimitPerMin: 180,
			RetryAttempts:   4,
			RetryDelay:      Duration(500 * time.Millisecond),
		},
		Telemetry: Telemetry{ServiceName: "agent-arena", Interval: Duration(30 * time.Second)},
	}
}

// PathFromEnv returns ARENA_CONFIG or DefaultPath.
func PathFromEnv() string {
	if p := os.Getenv("ARENA_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path over the
// defaults, applies environment variable overrides and validates the
// result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, falling back to the defaults when path does not
// exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return finish(Default())
	}
	return cfg, err
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "arena.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ARENA_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ARENA_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARENA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARENA_FEE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARENA_FEE_RATE: %w", err)
		}
		cfg.Engine.FeeRate = f
	}
	if v := os.Getenv("ARENA_SLIPPAGE_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ARENA_SLIPPAGE_RATE: %w", err)
		}
		cfg.Engine.SlippageRate = f
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}

	// Standard Alpaca env vars (canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate rejects settings the engine and service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Engine.FeeRate < 0 || c.Engine.SlippageRate < 0:
		return fmt.Errorf("engine: fee_rate and slippage_rate must be non-negative: %w", domain.ErrInvalidConfig)
	case c.Engine.FeeRate+c.Engine.SlippageRate >= 1:
		return fmt.Errorf("engine: fee_rate + slippage_rate must be below 1: %w", domain.ErrInvalidConfig)
	case c.Engine.ScriptTimeout < 0:
		return fmt.Errorf("engine: script_timeout must be non-negative: %w", domain.ErrInvalidConfig)
	case c.Arena.DefaultInitialCapital <= 0:
		return fmt.Errorf("arena: default_initial_capital must be positive: %w", domain.ErrInvalidConfig)
	case c.Arena.MaxStrategiesPerMatch <= 0:
		return fmt.Errorf("arena: max_strategies_per_match must be positive: %w", domain.ErrInvalidConfig)
	case c.Arena.MaxDurationSteps <= 0:
		return fmt.Errorf("arena: max_duration_steps must be positive: %w", domain.ErrInvalidConfig)
	case c.Arena.DefaultDurationSteps <= 0 || c.Arena.DefaultDurationSteps > c.Arena.MaxDurationSteps:
		return fmt.Errorf("arena: default_duration_steps must be within 1..max_duration_steps: %w", domain.ErrInvalidConfig)
	case c.Arena.Workers <= 0:
		return fmt.Errorf("arena: workers must be positive: %w", domain.ErrInvalidConfig)
	case c.Market.RetryAttempts <= 0:
		return fmt.Errorf("market: retry_attempts must be positive: %w", domain.ErrInvalidConfig)
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("server: port %d out of range: %w", c.Server.Port, domain.ErrInvalidConfig)
	case c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535:
		return fmt.Errorf("server: grpc_port %d out of range: %w", c.Server.GRPCPort, domain.ErrInvalidConfig)
	}
	if _, err := util.ParseTimeframe(c.Engine.Timeframe); err != nil {
		return fmt.Errorf("engine: %v: %w", err, domain.ErrInvalidConfig)
	}
	return nil
}
