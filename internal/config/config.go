package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/auth"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Environment        string   `env:"APP_ENV" envDefault:"development"`
	Port               int      `env:"PORT" envDefault:"8080"`
	LogLevel           string   `env:"LOG_LEVEL" envDefault:"info"`
	StoreDriver        string   `env:"STORE_DRIVER" envDefault:"memory"`
	DatabaseURL        string   `env:"DATABASE_URL"`
	RedisURL           string   `env:"REDIS_URL"`
	SessionSecret      string   `env:"SESSION_SECRET" envDefault:"dev-secret-change-me"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	StaticDir          string   `env:"STATIC_DIR"`
	BcryptCost         int      `env:"BCRYPT_COST" envDefault:"12"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	DemoMode             bool          `env:"DEMO_MODE" envDefault:"true"`
	SimulatedLatency     time.Duration `env:"AUTH_SIMULATED_LATENCY" envDefault:"400ms"`
	IdleTimeout          time.Duration `env:"AUTH_IDLE_TIMEOUT" envDefault:"15m"`
	SessionTTL           time.Duration `env:"AUTH_SESSION_TTL" envDefault:"24h"`
	ChallengeTTL         time.Duration `env:"AUTH_CHALLENGE_TTL" envDefault:"5m"`
	ResendCooldown       time.Duration `env:"AUTH_RESEND_COOLDOWN" envDefault:"30s"`
	MaxLoginAttempts     int           `env:"AUTH_MAX_LOGIN_ATTEMPTS" envDefault:"3"`
	MaxCodeAttempts      int           `env:"AUTH_MAX_CODE_ATTEMPTS" envDefault:"3"`
	LockoutWindow        time.Duration `env:"AUTH_LOCKOUT_WINDOW" envDefault:"15m"`
	InstanceTTL          time.Duration `env:"AUTH_INSTANCE_TTL" envDefault:"30m"`
	AssessmentLatency    time.Duration `env:"ASSESSMENT_LATENCY" envDefault:"1s"`
	LoginRateLimitPerMin int           `env:"LOGIN_RATE_LIMIT_PER_MIN" envDefault:"10"`
	APIRateLimitPerMin   int           `env:"API_RATE_LIMIT_PER_MIN" envDefault:"60"`
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// AuthPolicy builds the authenticator policy from the AUTH_* variables.
func (c *Config) AuthPolicy() auth.Policy {
	p := auth.DefaultPolicy()
	p.MaxLoginAttempts = c.MaxLoginAttempts
	p.MaxCodeAttempts = c.MaxCodeAttempts
	p.ChallengeTTL = c.ChallengeTTL
	p.ResendCooldown = c.ResendCooldown
	p.IdleTimeout = c.IdleTimeout
	p.SessionTTL = c.SessionTTL
	p.Latency = c.SimulatedLatency
	p.DemoMode = c.DemoMode
	p.HashCost = c.BcryptCost
	if !c.DemoMode {
		p.UniversalCode = ""
	}
	return p
}

func (c *Config) Validate(isProduction bool) error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreMemory, StorePostgres, c.StoreDriver)
	}

	if c.MaxLoginAttempts < 1 || c.MaxCodeAttempts < 1 {
		return fmt.Errorf("AUTH_MAX_LOGIN_ATTEMPTS and AUTH_MAX_CODE_ATTEMPTS must be at least 1")
	}
	if c.IdleTimeout <= 0 || c.SessionTTL <= 0 || c.ChallengeTTL <= 0 || c.LockoutWindow <= 0 {
		return fmt.Errorf("AUTH_IDLE_TIMEOUT, AUTH_SESSION_TTL, AUTH_CHALLENGE_TTL and AUTH_LOCKOUT_WINDOW must be positive")
	}
	if c.IdleTimeout > c.SessionTTL {
		return fmt.Errorf("AUTH_IDLE_TIMEOUT (%s) must not exceed AUTH_SESSION_TTL (%s)", c.IdleTimeout, c.SessionTTL)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	if isProduction {
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}
		if c.DemoMode {
			log.Warn().Msg("DEMO_MODE is enabled in production: verification codes are returned to the browser")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.StoreDriver == StoreMemory {
			log.Warn().Msg("STORE_DRIVER=memory in production: accounts are lost on restart")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
