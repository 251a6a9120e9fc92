package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment  string `env:"ENVIRONMENT" envDefault:"development"`
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Gateway      GatewayConfig
	Rates        RatesConfig
	Provisioning ProvisioningConfig
	Payments     PaymentsConfig
}

type ServerConfig struct {
	Port         string        `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout  time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
}

type DatabaseConfig struct {
	Host         string `env:"DB_HOST" envDefault:"localhost"`
	Port         int    `env:"DB_PORT" envDefault:"5432"`
	User         string `env:"DB_USER" envDefault:"botpay"`
	Password     string `env:"DB_PASSWORD"`
	DBName       string `env:"DB_NAME" envDefault:"botpay"`
	SSLMode      string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"100"`
	MaxIdleConns int    `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
}

type RedisConfig struct {
	Enabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// GatewayConfig selects and configures the redirect gateway. Provider is
// one of paypal, stripe, xendit.
type GatewayConfig struct {
	Provider      string        `env:"GATEWAY_PROVIDER" envDefault:"paypal"`
	Currency      string        `env:"GATEWAY_CURRENCY" envDefault:"USD"`
	Timeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`
	WebhookSecret string        `env:"GATEWAY_WEBHOOK_SECRET"`
	ReturnURL     string        `env:"GATEWAY_RETURN_URL" envDefault:"http://localhost:8080/purchase/return"`
	CancelURL     string        `env:"GATEWAY_CANCEL_URL" envDefault:"http://localhost:8080/purchase/cancel"`

	PayPal PayPalConfig
	Stripe StripeConfig
	Xendit XenditConfig
}

type PayPalConfig struct {
	BaseURL      string `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `env:"PAYPAL_CLIENT_SECRET"`
}

type StripeConfig struct {
	Secret string `env:"STRIPE_SECRET"`
}

type XenditConfig struct {
	Secret string `env:"XENDIT_SECRET"`
}

type RatesConfig struct {
	Pair         string        `env:"RATES_PAIR" envDefault:"TRX-USDT"`
	TTL          time.Duration `env:"RATES_TTL" envDefault:"5m"`
	FetchTimeout time.Duration `env:"RATES_FETCH_TIMEOUT" envDefault:"10s"`
}

type ProvisioningConfig struct {
	BaseURL      string        `env:"PROVISIONING_BASE_URL" envDefault:"http://localhost:9090"`
	APIKey       string        `env:"PROVISIONING_API_KEY"`
	Timeout      time.Duration `env:"PROVISIONING_TIMEOUT" envDefault:"15s"`
	MaxAttempts  int           `env:"PROVISIONING_MAX_ATTEMPTS" envDefault:"5"`
	PollInterval time.Duration `env:"PROVISIONING_POLL_INTERVAL" envDefault:"30s"`
	BatchSize    int           `env:"PROVISIONING_BATCH_SIZE" envDefault:"20"`
}

type PaymentsConfig struct {
	ExpiryWindow time.Duration `env:"PAYMENT_EXPIRY_WINDOW" envDefault:"1h"`
}

func LoadConfig() (*Config, error) {
	// Missing .env is fine; the environment may carry everything.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Gateway.WebhookSecret == "" {
		return fmt.Errorf("gateway webhook secret is required")
	}

	switch c.Gateway.Provider {
	case "paypal":
		if c.Gateway.PayPal.ClientID == "" || c.Gateway.PayPal.ClientSecret == "" {
			return fmt.Errorf("paypal credentials are required")
		}
	case "stripe":
		if c.Gateway.Stripe.Secret == "" {
			return fmt.Errorf("stripe secret key is required")
		}
	case "xendit":
		if c.Gateway.Xendit.Secret == "" {
			return fmt.Errorf("xendit secret key is required")
		}
	default:
		return fmt.Errorf("unknown gateway provider: %s", c.Gateway.Provider)
	}

	if c.Provisioning.MaxAttempts <= 0 {
		return fmt.Errorf("provisioning max attempts must be positive")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
