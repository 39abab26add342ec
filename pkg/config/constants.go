package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

// Environment variable names referenced outside struct tags.
const (
	EnvAppEnv             = "STOREFRONT_APP_ENV"
	EnvPort               = "STOREFRONT_APP_PORT"
	EnvDBDSN              = "STOREFRONT_DB_DSN"
	EnvDBHost             = "STOREFRONT_DB_HOST"
	EnvDBUser             = "STOREFRONT_DB_USER"
	EnvDBName             = "STOREFRONT_DB_NAME"
	EnvRedisURL           = "STOREFRONT_REDIS_URL"
	EnvJWTSecret          = "STOREFRONT_JWT_SECRET"
	EnvJWTIssuer          = "STOREFRONT_JWT_ISSUER"
	EnvPaystackSecretKey  = "STOREFRONT_PAYSTACK_SECRET_KEY"
	EnvSquareAccessToken  = "STOREFRONT_SQUARE_ACCESS_TOKEN"
	EnvSquareLocationID   = "STOREFRONT_SQUARE_LOCATION_ID"
	EnvPaymentsSuccessURL = "STOREFRONT_PAYMENTS_SUCCESS_URL"
	EnvPaymentsFailureURL = "STOREFRONT_PAYMENTS_FAILURE_URL"
	EnvCronInterval       = "STOREFRONT_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
