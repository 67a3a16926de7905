package config

const (
	EnvPrefix = "MEETLESSONS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv     = "MEETLESSONS_APP_ENV"
	EnvPort       = "MEETLESSONS_APP_PORT"
	EnvDBDSN      = "MEETLESSONS_DB_DSN"
	EnvDBHost     = "MEETLESSONS_DB_HOST"
	EnvDBUser     = "MEETLESSONS_DB_USER"
	EnvDBName     = "MEETLESSONS_DB_NAME"
	EnvRedisURL   = "MEETLESSONS_REDIS_URL"
	EnvJWTSecret  = "MEETLESSONS_JWT_SECRET"
	EnvJWTIssuer  = "MEETLESSONS_JWT_ISSUER"
	EnvJWTExpMins = "MEETLESSONS_JWT_EXPIRATION_MINUTES"
	EnvUseSQLite  = "MEETLESSONS_USE_SQLITE"

	EnvStripeAPIKey        = "MEETLESSONS_STRIPE_API_KEY"
	EnvStripeWebhookSecret = "MEETLESSONS_STRIPE_WEBHOOK_SECRET"
	EnvStripeRefreshWindow = "MEETLESSONS_STRIPE_REFRESH_WINDOW"
	EnvPairingCodeTTL      = "MEETLESSONS_DEVICE_PAIRING_CODE_TTL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
