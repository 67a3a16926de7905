package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Stripe        StripeConfig
	Devices       DevicesConfig
	PairRateLimit PairRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.FeatureFlags.UseSQLite {
		cfg.DB.Driver = DriverSQLite
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MEETLESSONS_APP_ENV" required:"true"`
	Port         string `envconfig:"MEETLESSONS_APP_PORT" required:"true"`
	BaseURL      string `envconfig:"MEETLESSONS_APP_BASE_URL" default:"http://localhost:8080"`
	LogLevel     string `envconfig:"MEETLESSONS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MEETLESSONS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MEETLESSONS_DB_DSN"`
	Driver string `envconfig:"MEETLESSONS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MEETLESSONS_DB_HOST"`
	LegacyPort     int    `envconfig:"MEETLESSONS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MEETLESSONS_DB_USER"`
	LegacyPassword string `envconfig:"MEETLESSONS_DB_PASSWORD"`
	LegacyName     string `envconfig:"MEETLESSONS_DB_NAME"`
	LegacySSLMode  string `envconfig:"MEETLESSONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MEETLESSONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MEETLESSONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MEETLESSONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MEETLESSONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the sqlite driver was selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MEETLESSONS_REDIS_URL"`
	Address      string        `envconfig:"MEETLESSONS_REDIS_ADDR"`
	Password     string        `envconfig:"MEETLESSONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"MEETLESSONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MEETLESSONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MEETLESSONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MEETLESSONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MEETLESSONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MEETLESSONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"MEETLESSONS_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MEETLESSONS_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MEETLESSONS_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string        `envconfig:"MEETLESSONS_STRIPE_API_KEY"`
	WebhookSecret string        `envconfig:"MEETLESSONS_STRIPE_WEBHOOK_SECRET"`
	Env           string        `envconfig:"MEETLESSONS_STRIPE_ENV" default:"test"`
	RefreshWindow time.Duration `envconfig:"MEETLESSONS_STRIPE_REFRESH_WINDOW" default:"1m"`
	CallTimeout   time.Duration `envconfig:"MEETLESSONS_STRIPE_CALL_TIMEOUT" default:"5s"`
	SuccessPath   string        `envconfig:"MEETLESSONS_STRIPE_SUCCESS_PATH" default:"/billing/success"`
	CancelPath    string        `envconfig:"MEETLESSONS_STRIPE_CANCEL_PATH" default:"/billing/cancel"`
	PortalReturn  string        `envconfig:"MEETLESSONS_STRIPE_PORTAL_RETURN_PATH" default:"/"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// Enabled reports whether a Stripe secret key is present.
func (s StripeConfig) Enabled() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

type DevicesConfig struct {
	PairingCodeTTL time.Duration `envconfig:"MEETLESSONS_DEVICE_PAIRING_CODE_TTL" default:"10m"`
	TokenPepper    string        `envconfig:"MEETLESSONS_DEVICE_TOKEN_SECRET"`
}

type PairRateLimitConfig struct {
	Window  time.Duration `envconfig:"MEETLESSONS_PAIR_RATE_LIMIT_WINDOW" default:"1m"`
	IPLimit int           `envconfig:"MEETLESSONS_PAIR_RATE_LIMIT_IP_LIMIT" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"MEETLESSONS_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"MEETLESSONS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "file:meetlessons.db?_busy_timeout=5000"
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
