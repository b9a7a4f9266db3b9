package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	mainnetAPIBase  = "https://api.like.co"
	testnetAPIBase  = "https://api.rinkeby.like.co"
	mainnetSiteBase = "https://like.co"
	testnetSiteBase = "https://rinkeby.like.co"
	mainnetExternal = "https://liker.land"
	testnetExternal = "https://rinkeby.liker.land"
)

// Config holds runtime configuration. It is loaded once at startup and
// handed to every component that needs it.
type Config struct {
	Addr      string `env:"ADDR,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`
	DBPath    string `env:"DB_PATH,default=likerland.db"`

	// Network selects the LikeCoin deployment: "mainnet" or "rinkeby".
	Network     string `env:"NETWORK,default=mainnet"`
	ExternalURL string `env:"EXTERNAL_URL"`

	LikeCoClientID     string `env:"LIKE_CO_CLIENT_ID"`
	LikeCoClientSecret string `env:"LIKE_CO_CLIENT_SECRET"`

	CookieSecret    string        `env:"COOKIE_SECRET,required"`
	CookieSecure    bool          `env:"COOKIE_SECURE,default=true"`
	SessionTTL      time.Duration `env:"SESSION_TTL,default=720h"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT,default=60s"`

	StripeSecretKey     string `env:"STRIPE_PRIVATE_KEY"`
	StripePlanID        string `env:"STRIPE_PLAN_ID"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
	RateLimit      int      `env:"RATE_LIMIT_PER_MINUTE,default=120"`
	OTLPEndpoint   string   `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	Backup BackupConfig `env:", prefix=BACKUP_"`
}

// BackupConfig configures encrypted database snapshots to S3-compatible
// storage. Interval zero disables scheduled snapshots in serve.
type BackupConfig struct {
	Endpoint   string        `env:"S3_ENDPOINT"`
	Bucket     string        `env:"S3_BUCKET"`
	Region     string        `env:"S3_REGION,default=us-east-1"`
	AccessKey  string        `env:"S3_ACCESS_KEY"`
	SecretKey  string        `env:"S3_SECRET_KEY"`
	Prefix     string        `env:"S3_PREFIX"`
	Passphrase string        `env:"PASSPHRASE"`
	Interval   time.Duration `env:"INTERVAL,default=0s"`
	Retention  time.Duration `env:"RETENTION,default=720h"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Network) {
	case "mainnet", "rinkeby":
	default:
		return fmt.Errorf("invalid NETWORK %q: want mainnet or rinkeby", c.Network)
	}
	if c.StripeSecretKey != "" && c.StripePlanID == "" {
		return fmt.Errorf("STRIPE_PLAN_ID is required when STRIPE_PRIVATE_KEY is set")
	}
	if c.Backup.Interval < 0 || c.Backup.Retention < 0 {
		return fmt.Errorf("BACKUP_INTERVAL and BACKUP_RETENTION must not be negative")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsTestnet() bool {
	return strings.EqualFold(c.Network, "rinkeby")
}

// APIBaseURL is the LikeCoin REST API root.
func (c *Config) APIBaseURL() string {
	if c.IsTestnet() {
		return testnetAPIBase
	}
	return mainnetAPIBase
}

// SiteBaseURL is the like.co web root, which also serves the civic endpoints
// and the OAuth consent page.
func (c *Config) SiteBaseURL() string {
	if c.IsTestnet() {
		return testnetSiteBase
	}
	return mainnetSiteBase
}

// PublicURL is where this service is reachable by browsers.
func (c *Config) PublicURL() string {
	if c.ExternalURL != "" {
		return strings.TrimRight(c.ExternalURL, "/")
	}
	if c.IsTestnet() {
		return testnetExternal
	}
	return mainnetExternal
}

func (c *Config) OAuthRedirectURL() string {
	return c.PublicURL() + "/oauth/redirect"
}

func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}
