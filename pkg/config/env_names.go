package config

// EnvPrefix is passed to envconfig; individual vars carry the full name in
// their struct tags so the prefix stays empty here.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "production"
)

const (
	EnvAppEnv     = "MIZAN_APP_ENV"
	EnvTerminalID = "MIZAN_TERMINAL_ID"
	EnvLogLevel   = "MIZAN_LOG_LEVEL"
	EnvAPIPort    = "MIZAN_API_PORT"
	EnvDBPath     = "MIZAN_DB_PATH"
	EnvRemoteURL  = "MIZAN_REMOTE_URL"
)
