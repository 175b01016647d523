package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/ipguard"
	"github.com/BradenHooton/gatekeeper/internal/middleware"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

const (
	EnvDevelopment = "development"
	EnvLocal       = "local"
	EnvProduction  = "production"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Environment string          `envconfig:"ENVIRONMENT"`
	Server      ServerConfig    `envconfig:"SERVER"`
	Database    DatabaseConfig  `envconfig:"DB"`
	Auth        AuthConfig      `envconfig:"AUTH"`
	IPGuard     IPGuardConfig   `envconfig:"IPGUARD"`
	RateLimit   RateLimitConfig `envconfig:"RATE_LIMIT"`
	Redis       RedisConfig     `envconfig:"REDIS"`
	RabbitMQ    RabbitMQConfig  `envconfig:"RABBITMQ"`
	Alert       AlertConfig     `envconfig:"ALERT"`
	Metrics     MetricsConfig   `envconfig:"METRICS"`
}

type ServerConfig struct {
	Port            string        `envconfig:"PORT"`
	LogLevel        string        `envconfig:"LOG_LEVEL"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS"`
	ReadTimeout     time.Duration `split_words:"true"`
	WriteTimeout    time.Duration `split_words:"true"`
	IdleTimeout     time.Duration `split_words:"true"`
	ShutdownTimeout time.Duration `split_words:"true"`
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string        `envconfig:"SSLMODE"`
	MaxConns          int32         `split_words:"true"`
	MinConns          int32         `split_words:"true"`
	MaxConnLifetime   time.Duration `split_words:"true"`
	MaxConnIdleTime   time.Duration `split_words:"true"`
	HealthCheckPeriod time.Duration `split_words:"true"`
}

type AuthConfig struct {
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	AccessTokenExpiry time.Duration `envconfig:"ACCESS_TOKEN_EXPIRY"`
	AdminEmail        string        `envconfig:"ADMIN_EMAIL"`
	AdminPassword     string        `envconfig:"ADMIN_PASSWORD"`
	AllowRegistration bool          `envconfig:"ALLOW_REGISTRATION"`
}

type IPGuardConfig struct {
	MaxFailedAttempts     int           `split_words:"true"`
	BlockDuration         time.Duration `split_words:"true"`
	WindowPeriod          time.Duration `split_words:"true"`
	HoneypotMultiplier    int           `split_words:"true"`
	MaxAttemptedEmails    int           `split_words:"true"`
	MaxRegistrationsPerIP int           `envconfig:"MAX_REGISTRATIONS_PER_IP"`
	TimingFloor           time.Duration `split_words:"true"`
	TimingJitter          time.Duration `split_words:"true"`
	TrustForwardedHeaders bool          `split_words:"true"`
	TrustedProxies        []string      `split_words:"true"`
	HoneypotPaths         []string      `split_words:"true"`
	Store                 string
	SweepInterval         time.Duration `split_words:"true"`
}

type RateLimitConfig struct {
	Login       int
	LoginWindow time.Duration `split_words:"true"`
	Auth        int
	AuthWindow  time.Duration `split_words:"true"`
}

type RedisConfig struct {
	URL string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string `envconfig:"BLOCKING_EXCHANGE_NAME"`
}

type AlertConfig struct {
	EmailTo   []string `envconfig:"EMAIL_TO"`
	EmailFrom string   `envconfig:"EMAIL_FROM"`
	AWSRegion string   `envconfig:"AWS_REGION"`
}

type MetricsConfig struct {
	Enabled bool
}

// Defaults returns the profile for env. Unknown names fall back to development.
func Defaults(env string) *Config {
	login := middleware.DefaultLoginRateLimit(env)
	other := middleware.DefaultAuthRateLimit(env)

	cfg := &Config{
		Environment: env,
		Server: ServerConfig{
			Port:            "8080",
			LogLevel:        "info",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              5432,
			User:              "postgres",
			Password:          "postgres",
			Name:              "gatekeeper",
			SSLMode:           "disable",
			MaxConns:          25,
			MinConns:          5,
			MaxConnLifetime:   5 * time.Minute,
			MaxConnIdleTime:   time.Minute,
			HealthCheckPeriod: time.Minute,
		},
		Auth: AuthConfig{
			AccessTokenExpiry: 192 * time.Hour,
		},
		IPGuard: IPGuardConfig{
			MaxFailedAttempts:     10,
			BlockDuration:         30 * time.Minute,
			WindowPeriod:          15 * time.Minute,
			HoneypotMultiplier:    2,
			MaxAttemptedEmails:    5,
			MaxRegistrationsPerIP: 2,
			TimingFloor:           200 * time.Millisecond,
			Store:                 StoreMemory,
			SweepInterval:         10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Login:       login.Requests,
			LoginWindow: login.Window,
			Auth:        other.Requests,
			AuthWindow:  other.Window,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "blocking_exchange",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}

	if env == EnvProduction {
		cfg.IPGuard.MaxFailedAttempts = 5
		cfg.IPGuard.BlockDuration = time.Hour
		cfg.Server.AllowedOrigins = nil
	}
	return cfg
}

// Load reads .env when present, picks the profile named by ENVIRONMENT and
// overrides it with whatever is set in the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENVIRONMENT")))
	if env == "" {
		env = EnvDevelopment
	}

	cfg := Defaults(env)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Environment = env
	cfg.IPGuard.Store = strings.ToLower(strings.TrimSpace(cfg.IPGuard.Store))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at first use
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvLocal, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be one of development, local, production (got %q)", c.Environment)
	}

	if err := validateJWTSecret(c.Auth.JWTSecret); err != nil {
		return err
	}
	if c.Auth.AccessTokenExpiry <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRY must be positive")
	}

	g := c.IPGuard
	switch {
	case g.MaxFailedAttempts < 1:
		return fmt.Errorf("IPGUARD_MAX_FAILED_ATTEMPTS must be at least 1")
	case g.BlockDuration <= 0:
		return fmt.Errorf("IPGUARD_BLOCK_DURATION must be positive")
	case g.WindowPeriod <= 0:
		return fmt.Errorf("IPGUARD_WINDOW_PERIOD must be positive")
	case g.HoneypotMultiplier < 1:
		return fmt.Errorf("IPGUARD_HONEYPOT_MULTIPLIER must be at least 1")
	case g.MaxAttemptedEmails < 1:
		return fmt.Errorf("IPGUARD_MAX_ATTEMPTED_EMAILS must be at least 1")
	case g.MaxRegistrationsPerIP < 1:
		return fmt.Errorf("IPGUARD_MAX_REGISTRATIONS_PER_IP must be at least 1")
	case g.TimingFloor < 0 || g.TimingJitter < 0:
		return fmt.Errorf("IPGUARD_TIMING_FLOOR and IPGUARD_TIMING_JITTER cannot be negative")
	case g.SweepInterval < 0:
		return fmt.Errorf("IPGUARD_SWEEP_INTERVAL cannot be negative")
	}

	switch g.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("REDIS_URL is required when IPGUARD_STORE=redis")
		}
	default:
		return fmt.Errorf("IPGUARD_STORE must be memory or redis (got %q)", g.Store)
	}

	if c.RateLimit.Login < 1 || c.RateLimit.Auth < 1 || c.RateLimit.LoginWindow <= 0 || c.RateLimit.AuthWindow <= 0 {
		return fmt.Errorf("rate limits and their windows must be positive")
	}

	if len(c.Alert.EmailTo) > 0 && (c.Alert.EmailFrom == "" || c.Alert.AWSRegion == "") {
		return fmt.Errorf("EMAIL_FROM and AWS_REGION are required when ALERT_EMAIL_TO is set")
	}

	if c.Auth.AdminEmail != "" && c.Auth.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret string) error {
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters (got %d)", len(secret))
	}

	// A long secret made of one repeated character is still guessable
	if strings.Count(secret, secret[:1]) == len(secret) {
		return fmt.Errorf("JWT_SECRET cannot be a single repeated character")
	}

	weakSecrets := []string{"secret", "password", "changeme", "default", "example"}
	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Repeat(weak, len(secretLower)/len(weak)+1)[:len(secretLower)] == secretLower {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GuardConfig maps the env surface onto the guard
func (c *IPGuardConfig) GuardConfig() ipguard.Config {
	return ipguard.Config{
		MaxFailedAttempts:  c.MaxFailedAttempts,
		BlockDuration:      c.BlockDuration,
		WindowPeriod:       c.WindowPeriod,
		HoneypotMultiplier: c.HoneypotMultiplier,
		MaxAttemptedEmails: c.MaxAttemptedEmails,
	}
}

func (c *IPGuardConfig) IPConfig() *pkghttp.IPConfig {
	return &pkghttp.IPConfig{
		TrustForwardedHeaders: c.TrustForwardedHeaders,
		TrustedProxies:        c.TrustedProxies,
	}
}

func (c *IPGuardConfig) TimingConfig() auth.TimingConfig {
	return auth.TimingConfig{
		Floor:  c.TimingFloor,
		Jitter: c.TimingJitter,
	}
}

func (c *RateLimitConfig) LoginLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{Requests: c.Login, Window: c.LoginWindow}
}

func (c *RateLimitConfig) AuthLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{Requests: c.Auth, Window: c.AuthWindow}
}
