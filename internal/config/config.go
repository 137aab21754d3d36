package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration required by the api and recoveryctl processes.
// Values come from the environment (see env); a .env file is loaded first when present.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Dispatcher DispatcherConfig
	Voice      VoiceConfig
	Stripe     StripeConfig
	Shopify    ShopifyConfig
	Twilio     TwilioConfig
	Archive    ArchiveConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

// RedisConfig is optional. Without a host the per-shop call cap is disabled.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	ServiceTokenTTL time.Duration
}

type DispatcherConfig struct {
	BatchLimit     int
	Concurrency    int
	ShopCallCap    int
	ShopCallCapTTL time.Duration
}

type VoiceConfig struct {
	BaseURL       string
	APIKey        string
	AssistantID   string
	PhoneNumberID string
	WebhookSecret string
	Timeout       time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// PlanPrices maps plan name to the recurring price id, e.g. STARTER:price_123,PRO:price_456.
	PlanPrices    map[string]string
	// UsagePrice is the metered price whose subscription item anchors usage charges.
	UsagePrice    string
}

type ShopifyConfig struct {
	APIVersion string
	Timeout    time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// ArchiveConfig is optional. Without a bucket, end-of-call reports are not archived.
type ArchiveConfig struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// env is the flat environment contract parsed by envconfig.
type env struct {
	AppEnv  string `envconfig:"APP_ENV"`
	AppPort int    `envconfig:"APP_PORT" default:"8080"`

	DBHost     string `envconfig:"DB_HOST"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME"`
	DBSSLMode  string `envconfig:"DB_SSLMODE"`

	RedisHost     string `envconfig:"REDIS_HOST"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	JWTSecret     string        `envconfig:"JWT_SECRET"`
	JWTIssuer     string        `envconfig:"JWT_ISSUER"`
	JWTAudience   string        `envconfig:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `envconfig:"JWT_ACCESS_TTL"`
	JWTServiceTTL time.Duration `envconfig:"JWT_SERVICE_TTL"`

	DispatchBatchLimit     int           `envconfig:"DISPATCH_BATCH_LIMIT" default:"50"`
	DispatchConcurrency    int           `envconfig:"DISPATCH_CONCURRENCY" default:"8"`
	DispatchShopCallCap    int           `envconfig:"DISPATCH_SHOP_CALL_CAP" default:"5"`
	DispatchShopCallCapTTL time.Duration `envconfig:"DISPATCH_SHOP_CALL_CAP_TTL" default:"30m"`

	VapiBaseURL       string        `envconfig:"VAPI_BASE_URL" default:"https://api.vapi.ai"`
	VapiAPIKey        string        `envconfig:"VAPI_API_KEY"`
	VapiAssistantID   string        `envconfig:"VAPI_ASSISTANT_ID"`
	VapiPhoneNumberID string        `envconfig:"VAPI_PHONE_NUMBER_ID"`
	VapiWebhookSecret string        `envconfig:"VAPI_WEBHOOK_SECRET"`
	VapiTimeout       time.Duration `envconfig:"VAPI_TIMEOUT" default:"15s"`

	StripeSecretKey     string            `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string            `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePlanPrices    map[string]string `envconfig:"STRIPE_PLAN_PRICES"`
	StripeUsagePrice    string            `envconfig:"STRIPE_USAGE_PRICE"`

	ShopifyAPIVersion string        `envconfig:"SHOPIFY_API_VERSION" default:"2025-01"`
	ShopifyTimeout    time.Duration `envconfig:"SHOPIFY_TIMEOUT" default:"10s"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`

	ArchiveBucket    string `envconfig:"ARCHIVE_BUCKET"`
	ArchiveRegion    string `envconfig:"ARCHIVE_REGION" default:"us-east-1"`
	ArchiveEndpoint  string `envconfig:"ARCHIVE_ENDPOINT"`
	ArchiveAccessKey string `envconfig:"ARCHIVE_ACCESS_KEY"`
	ArchiveSecretKey string `envconfig:"ARCHIVE_SECRET_KEY"`
	ArchivePrefix    string `envconfig:"ARCHIVE_PREFIX" default:"call-reports/"`
}

func (e env) config() Config {
	return Config{
		App:   AppConfig{Env: strings.TrimSpace(e.AppEnv), Port: e.AppPort},
		DB:    DBConfig{Host: e.DBHost, Port: e.DBPort, User: e.DBUser, Password: e.DBPassword, Name: e.DBName, SSLMode: e.DBSSLMode},
		Redis: RedisConfig{Host: e.RedisHost, Port: e.RedisPort, Password: e.RedisPassword},
		Auth: AuthConfig{
			JWTSecret:       e.JWTSecret,
			JWTIssuer:       e.JWTIssuer,
			JWTAudience:     e.JWTAudience,
			AccessTokenTTL:  e.JWTAccessTTL,
			ServiceTokenTTL: e.JWTServiceTTL,
		},
		Dispatcher: DispatcherConfig{
			BatchLimit:     e.DispatchBatchLimit,
			Concurrency:    e.DispatchConcurrency,
			ShopCallCap:    e.DispatchShopCallCap,
			ShopCallCapTTL: e.DispatchShopCallCapTTL,
		},
		Voice: VoiceConfig{
			BaseURL:       e.VapiBaseURL,
			APIKey:        e.VapiAPIKey,
			AssistantID:   e.VapiAssistantID,
			PhoneNumberID: e.VapiPhoneNumberID,
			WebhookSecret: e.VapiWebhookSecret,
			Timeout:       e.VapiTimeout,
		},
		Stripe: StripeConfig{
			SecretKey:     e.StripeSecretKey,
			WebhookSecret: e.StripeWebhookSecret,
			PlanPrices:    e.StripePlanPrices,
			UsagePrice:    e.StripeUsagePrice,
		},
		Shopify: ShopifyConfig{APIVersion: e.ShopifyAPIVersion, Timeout: e.ShopifyTimeout},
		Twilio:  TwilioConfig{AccountSID: e.TwilioAccountSID, AuthToken: e.TwilioAuthToken, FromNumber: e.TwilioFromNumber},
		Archive: ArchiveConfig{
			Bucket:    e.ArchiveBucket,
			Region:    e.ArchiveRegion,
			Endpoint:  e.ArchiveEndpoint,
			AccessKey: e.ArchiveAccessKey,
			SecretKey: e.ArchiveSecretKey,
			Prefix:    e.ArchivePrefix,
		},
	}
}

// Load reads .env (if any) and the environment, applies defaults and validates.
func Load() (Config, error) {
	_ = godotenv.Load()

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return Config{}, fmt.Errorf("config parse: %w", err)
	}
	c := e.config()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.applyDefaults()
	return c, nil
}

type authEnv struct {
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	JWTIssuer     string        `envconfig:"JWT_ISSUER"`
	JWTAudience   string        `envconfig:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `envconfig:"JWT_ACCESS_TTL"`
	JWTServiceTTL time.Duration `envconfig:"JWT_SERVICE_TTL"`
}

// LoadAuth reads only the JWT settings, for tools that mint tokens without
// the rest of the service configuration.
func LoadAuth() (AuthConfig, error) {
	_ = godotenv.Load()

	var e authEnv
	if err := envconfig.Process("", &e); err != nil {
		return AuthConfig{}, fmt.Errorf("config parse: %w", err)
	}
	if e.JWTSecret == "" {
		return AuthConfig{}, errors.New("JWT_SECRET is required")
	}
	c := Config{Auth: AuthConfig{
		JWTSecret:       e.JWTSecret,
		JWTIssuer:       e.JWTIssuer,
		JWTAudience:     e.JWTAudience,
		AccessTokenTTL:  e.JWTAccessTTL,
		ServiceTokenTTL: e.JWTServiceTTL,
	}}
	c.applyDefaults()
	return c.Auth, nil
}

// Validate aggregates every configuration problem into a single error.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Voice.WebhookSecret == "" {
			errs = append(errs, errors.New("VAPI_WEBHOOK_SECRET is required in production"))
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL > 0 && c.Auth.ServiceTokenTTL > 0 && c.Auth.ServiceTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_SERVICE_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Dispatcher.BatchLimit < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_BATCH_LIMIT must be >= 0, got %d", c.Dispatcher.BatchLimit))
	}
	if c.Dispatcher.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_CONCURRENCY must be >= 0, got %d", c.Dispatcher.Concurrency))
	}

	if c.Archive.Bucket != "" && (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
		errs = append(errs, errors.New("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY must be set together"))
	}

	return joinErrors(errs)
}

func (c *Config) applyDefaults() {
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.ServiceTokenTTL <= 0 {
		c.Auth.ServiceTokenTTL = 90 * 24 * time.Hour
	}
	if c.Dispatcher.BatchLimit == 0 {
		c.Dispatcher.BatchLimit = 50
	}
	if c.Dispatcher.Concurrency == 0 {
		c.Dispatcher.Concurrency = 8
	}
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Contains secrets; never log.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// RedisEnabled reports whether the per-shop call cap should be wired.
func (c Config) RedisEnabled() bool { return c.Redis.Host != "" }

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
