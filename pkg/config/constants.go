package config

const (
	EnvPrefix = "MERCATO"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "MERCATO_APP_ENV"
	EnvPort   = "MERCATO_APP_PORT"

	EnvDBDSN  = "MERCATO_DB_DSN"
	EnvDBHost = "MERCATO_DB_HOST"
	EnvDBUser = "MERCATO_DB_USER"
	EnvDBName = "MERCATO_DB_NAME"

	EnvRedisURL  = "MERCATO_REDIS_URL"
	EnvJWTSecret = "MERCATO_JWT_SECRET"
	EnvJWTIssuer = "MERCATO_JWT_ISSUER"

	EnvStripeAPIKey = "MERCATO_STRIPE_API_KEY"

	EnvCurrency             = "MERCATO_CURRENCY"
	EnvReturnWindowDays     = "MERCATO_RETURN_WINDOW_DAYS"
	EnvAcceptanceHours      = "MERCATO_ACCEPTANCE_HOURS"
	EnvDefaultCommissionBps = "MERCATO_DEFAULT_COMMISSION_BPS"
	EnvInvoiceTaxBps        = "MERCATO_INVOICE_TAX_BPS"
	EnvCurrencyRoutes       = "MERCATO_PAYMENTS_CURRENCY_ROUTES"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
