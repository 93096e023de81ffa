package api

// Envirioment variables used by asset-relay.
const (
	// LogLevelEnv is the environment variable used to set the log level.
	LogLevelEnv = "ASSET_RELAY_LOGGING"
	// ConfigFileEnv is the environment variable used to set the configuration file.
	ConfigFileEnv = "ASSET_RELAY_CONFIG_FILE"
	// SigningSecretEnv overrides signing_secret, so the secret can be kept out of config files.
	SigningSecretEnv = "ASSET_RELAY_SIGNING_SECRET"
)
