// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // plan cache ttl
}

type MpesaConfig struct {
	Environment    string        `yaml:"environment"` // sandbox | production
	BaseURL        string        `yaml:"base_url"`    // overrides the environment default
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	ShortCode      string        `yaml:"short_code"`
	PassKey        string        `yaml:"pass_key"`
	CallbackURL    string        `yaml:"callback_url"`
	Timeout        time.Duration `yaml:"timeout"`
}

type PaymentConfig struct {
	Provider        string        `yaml:"provider"` // mpesa | simulator
	ReferencePrefix string        `yaml:"reference_prefix"`
	InitiateLimit   int           `yaml:"initiate_limit"` // pushes per phone per window
	InitiateWindow  time.Duration `yaml:"initiate_window"`
	Mpesa           MpesaConfig   `yaml:"mpesa"`
	Simulator       struct {
		Delay      time.Duration `yaml:"delay"`
		FailPhones []string      `yaml:"fail_phones"` // numbers that always get a failed callback
	} `yaml:"simulator"`
}

type RouterConfig struct {
	Driver   string        `yaml:"driver"` // routeros | noop
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SMSConfig struct {
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
	BaseURL  string `yaml:"base_url"`
}

type TelegramConfig struct {
	Token    string  `yaml:"token"`
	AdminIDs []int64 `yaml:"admin_ids"`
}

type NotifyConfig struct {
	SMS      SMSConfig      `yaml:"sms"`
	Telegram TelegramConfig `yaml:"telegram"`
	Workers  int            `yaml:"workers"`
	Queue    int            `yaml:"queue"`
}

type EventsConfig struct {
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

type SchedulerConfig struct {
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	QueryAfter      time.Duration `yaml:"query_after"`   // query the provider for pushes without a callback
	AbandonAfter    time.Duration `yaml:"abandon_after"` // fail pushes that never got a correlation id
	BatchSize       int           `yaml:"batch_size"`
}

type SecurityConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Payment   PaymentConfig   `yaml:"payment"`
	Router    RouterConfig    `yaml:"router"`
	Notify    NotifyConfig    `yaml:"notify"`
	Events    EventsConfig    `yaml:"events"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Security  SecurityConfig  `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the YAML file at path (optional in dev mode), applies
// environment overrides from the process and a local .env, fills defaults
// and validates what the selected drivers need.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case dev && errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg, dev)
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	str(&cfg.Database.URL, "DATABASE_URL")
	str(&cfg.Redis.URL, "REDIS_URL")
	str(&cfg.Redis.Password, "REDIS_PASSWORD")
	str(&cfg.Payment.Mpesa.ConsumerKey, "MPESA_CONSUMER_KEY")
	str(&cfg.Payment.Mpesa.ConsumerSecret, "MPESA_CONSUMER_SECRET")
	str(&cfg.Payment.Mpesa.ShortCode, "MPESA_SHORTCODE")
	str(&cfg.Payment.Mpesa.PassKey, "MPESA_PASSKEY")
	str(&cfg.Payment.Mpesa.CallbackURL, "MPESA_CALLBACK_URL")
	str(&cfg.Payment.Mpesa.Environment, "MPESA_ENVIRONMENT")
	str(&cfg.Router.Host, "MIKROTIK_HOST")
	str(&cfg.Router.Username, "MIKROTIK_USERNAME")
	str(&cfg.Router.Password, "MIKROTIK_PASSWORD")
	str(&cfg.Notify.SMS.Username, "AFRICASTALKING_USERNAME")
	str(&cfg.Notify.SMS.APIKey, "AFRICASTALKING_API_KEY")
	str(&cfg.Notify.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	str(&cfg.Events.AMQPURL, "AMQP_URL")
	str(&cfg.Security.JWTSecret, "JWT_SECRET")
	if v := os.Getenv("MIKROTIK_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.Port = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = n
		}
	}
}

func applyDefaults(cfg *Config, dev bool) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = 8080
	}
	cfg.HTTP.RequestTimeout = orDefault(cfg.HTTP.RequestTimeout, 30*time.Second)
	cfg.Redis.TTL = orDefault(cfg.Redis.TTL, 5*time.Minute)

	if cfg.Payment.Provider == "" {
		cfg.Payment.Provider = "mpesa"
		if dev {
			cfg.Payment.Provider = "simulator"
		}
	}
	if cfg.Payment.ReferencePrefix == "" {
		cfg.Payment.ReferencePrefix = "WIFI"
	}
	if cfg.Payment.InitiateLimit <= 0 {
		cfg.Payment.InitiateLimit = 5
	}
	cfg.Payment.InitiateWindow = orDefault(cfg.Payment.InitiateWindow, 10*time.Minute)
	if cfg.Payment.Mpesa.Environment == "" {
		cfg.Payment.Mpesa.Environment = "sandbox"
	}
	cfg.Payment.Mpesa.Timeout = orDefault(cfg.Payment.Mpesa.Timeout, 30*time.Second)
	cfg.Payment.Simulator.Delay = orDefault(cfg.Payment.Simulator.Delay, 5*time.Second)

	if cfg.Router.Driver == "" {
		cfg.Router.Driver = "routeros"
		if dev {
			cfg.Router.Driver = "noop"
		}
	}
	if cfg.Router.Port <= 0 {
		cfg.Router.Port = 8728
	}
	cfg.Router.Timeout = orDefault(cfg.Router.Timeout, 10*time.Second)

	if cfg.Notify.SMS.BaseURL == "" {
		cfg.Notify.SMS.BaseURL = "https://api.africastalking.com"
	}
	if cfg.Notify.Workers <= 0 {
		cfg.Notify.Workers = 4
	}
	if cfg.Notify.Queue <= 0 {
		cfg.Notify.Queue = 256
	}
	if cfg.Events.Exchange == "" {
		cfg.Events.Exchange = "hotspot.events"
	}

	cfg.Scheduler.SweepInterval = orDefault(cfg.Scheduler.SweepInterval, 5*time.Minute)
	cfg.Scheduler.JanitorInterval = orDefault(cfg.Scheduler.JanitorInterval, time.Minute)
	cfg.Scheduler.QueryAfter = orDefault(cfg.Scheduler.QueryAfter, 2*time.Minute)
	cfg.Scheduler.AbandonAfter = orDefault(cfg.Scheduler.AbandonAfter, 15*time.Minute)
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 100
	}
	cfg.Security.TokenTTL = orDefault(cfg.Security.TokenTTL, 12*time.Hour)
}

// Validate performs minimal validation of what the selected drivers require.
// Dev mode runs without Postgres, Redis or a router.
func (c *Config) Validate() error {
	if !c.Runtime.Dev && c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch c.Payment.Provider {
	case "simulator":
	case "mpesa":
		m := c.Payment.Mpesa
		if m.ConsumerKey == "" || m.ConsumerSecret == "" || m.ShortCode == "" || m.PassKey == "" {
			return errors.New("payment.mpesa credentials are required")
		}
		if m.CallbackURL == "" {
			return errors.New("payment.mpesa.callback_url is required")
		}
		if m.Environment != "sandbox" && m.Environment != "production" {
			return fmt.Errorf("payment.mpesa.environment: unknown %q", m.Environment)
		}
	default:
		return fmt.Errorf("payment.provider: unknown %q", c.Payment.Provider)
	}
	switch c.Router.Driver {
	case "noop":
	case "routeros":
		if c.Router.Host == "" {
			return errors.New("router.host is required")
		}
	default:
		return fmt.Errorf("router.driver: unknown %q", c.Router.Driver)
	}
	if c.Scheduler.AbandonAfter < c.Scheduler.QueryAfter {
		return errors.New("scheduler.abandon_after must not be shorter than query_after")
	}
	if !c.Runtime.Dev && c.Security.JWTSecret == "" {
		return errors.New("security.jwt_secret is required")
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
