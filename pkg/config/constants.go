package config

// EnvPrefix is applied by envconfig when processing the environment.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvDBDSN  = "STUDIOBOOK_DB_DSN"
	EnvDBHost = "STUDIOBOOK_DB_HOST"
	EnvDBUser = "STUDIOBOOK_DB_USER"
	EnvDBName = "STUDIOBOOK_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
