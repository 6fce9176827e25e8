package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Provider modes.
const (
	ModeLive       = "live"       // real provider, failures propagate
	ModeSandbox    = "sandbox"    // real provider, unreachable falls back to simulation
	ModeSimulation = "simulation" // no provider traffic at all
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Simulation  SimulationConfig  `mapstructure:"simulation"`
	Poller      PollerConfig      `mapstructure:"poller"`
	SideEffects SideEffectsConfig `mapstructure:"side_effects"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // memory, postgres
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"` // apply migrations/*.sql on startup
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ProviderConfig describes the M-Pesa Express (STK push) integration.
type ProviderConfig struct {
	Mode              string        `mapstructure:"mode"`
	BaseURL           string        `mapstructure:"base_url"`
	ConsumerKey       string        `mapstructure:"consumer_key"`
	ConsumerSecret    string        `mapstructure:"consumer_secret"`
	ShortCode         string        `mapstructure:"short_code"`
	PassKey           string        `mapstructure:"pass_key"`
	CallbackURL       string        `mapstructure:"callback_url"`
	TransactionType   string        `mapstructure:"transaction_type"`
	AccountReference  string        `mapstructure:"account_reference"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	TokenSafetyMargin time.Duration `mapstructure:"token_safety_margin"`
}

// Simulated reports whether synthetic credentials and outcomes are acceptable.
func (p ProviderConfig) Simulated() bool {
	return p.Mode != ModeLive
}

type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
}

type SimulationConfig struct {
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	SuccessRate float64       `mapstructure:"success_rate"`
}

type PollerConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval"`
}

// SideEffectsConfig maps each payment purpose to the collaborator endpoint notified on completion.
type SideEffectsConfig struct {
	ActivationFeeURL string        `mapstructure:"activation_fee_url"`
	OrderPaymentURL  string        `mapstructure:"order_payment_url"`
	WalletTopupURL   string        `mapstructure:"wallet_topup_url"`
	WithdrawalURL    string        `mapstructure:"withdrawal_url"`
	SigningSecret    string        `mapstructure:"signing_secret"` // HMAC-SHA256 of the body in X-Signature
	Timeout          time.Duration `mapstructure:"timeout"`
}

// URLFor returns the collaborator endpoint for a purpose, or "".
func (s SideEffectsConfig) URLFor(purpose string) string {
	switch purpose {
	case "ACTIVATION_FEE":
		return s.ActivationFeeURL
	case "ORDER_PAYMENT":
		return s.OrderPaymentURL
	case "WALLET_TOPUP":
		return s.WalletTopupURL
	case "WITHDRAWAL":
		return s.WithdrawalURL
	}
	return ""
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"` // empty = collaborator routes unauthenticated
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: STK_.
// Nested keys use underscore: STK_PROVIDER_PASS_KEY, STK_DATABASE_HOST, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "stk_push")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("provider.mode", ModeSimulation)
	v.SetDefault("provider.base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("provider.consumer_key", "")
	v.SetDefault("provider.consumer_secret", "")
	v.SetDefault("provider.short_code", "174379")
	v.SetDefault("provider.pass_key", "")
	v.SetDefault("provider.callback_url", "http://localhost:8080/payments/callback")
	v.SetDefault("provider.transaction_type", "CustomerPayBillOnline")
	v.SetDefault("provider.account_reference", "STKPush")
	v.SetDefault("provider.request_timeout", "15s")
	v.SetDefault("provider.token_safety_margin", "60s")
	v.SetDefault("breaker.max_requests", 1)
	v.SetDefault("breaker.interval", "60s")
	v.SetDefault("breaker.timeout", "30s")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("simulation.min_delay", "3s")
	v.SetDefault("simulation.max_delay", "10s")
	v.SetDefault("simulation.success_rate", 1.0)
	v.SetDefault("poller.max_attempts", 30)
	v.SetDefault("poller.interval", "6s")
	v.SetDefault("side_effects.activation_fee_url", "")
	v.SetDefault("side_effects.order_payment_url", "")
	v.SetDefault("side_effects.wallet_topup_url", "")
	v.SetDefault("side_effects.withdrawal_url", "")
	v.SetDefault("side_effects.signing_secret", "")
	v.SetDefault("side_effects.timeout", "10s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "1h")
	v.SetDefault("jwt.issuer", "stk-push-gateway")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: STK_PROVIDER_MODE -> provider.mode
	v.SetEnvPrefix("STK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be memory or postgres, got %q", c.Storage.Driver))
	}

	switch c.Provider.Mode {
	case ModeLive, ModeSandbox, ModeSimulation:
	default:
		errs = append(errs, fmt.Errorf("provider.mode must be live, sandbox or simulation, got %q", c.Provider.Mode))
	}

	if c.Provider.Mode == ModeLive {
		if c.Provider.ConsumerKey == "" || c.Provider.ConsumerSecret == "" {
			errs = append(errs, errors.New("provider.consumer_key and provider.consumer_secret are required in live mode"))
		}
		if c.Provider.PassKey == "" {
			errs = append(errs, errors.New("provider.pass_key is required in live mode"))
		}
		if u, err := url.Parse(c.Provider.CallbackURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, errors.New("provider.callback_url must be an externally reachable https URL in live mode"))
		}
	}
	if c.Provider.ShortCode == "" {
		errs = append(errs, errors.New("provider.short_code is required"))
	}

	if c.Poller.MaxAttempts <= 0 || c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.max_attempts and poller.interval must be positive"))
	}
	if c.Simulation.MinDelay < 0 || c.Simulation.MaxDelay < c.Simulation.MinDelay {
		errs = append(errs, errors.New("simulation.max_delay must be >= simulation.min_delay >= 0"))
	}
	if c.Simulation.SuccessRate < 0 || c.Simulation.SuccessRate > 1 {
		errs = append(errs, errors.New("simulation.success_rate must be within [0, 1]"))
	}

	return errors.Join(errs...)
}
