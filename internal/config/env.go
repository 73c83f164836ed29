package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "ADVISOR_GO_CONFIG"
	EnvServerURL = "ADVISOR_GO_SERVER_URL"
	EnvTokenPath = "ADVISOR_GO_TOKEN_PATH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ADVISOR_GO_CONFIG: override config file path
	ServerURL  string // ADVISOR_GO_SERVER_URL: backend base URL
	TokenPath  string // ADVISOR_GO_TOKEN_PATH: credential file path
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		ServerURL:  os.Getenv(EnvServerURL),
		TokenPath:  os.Getenv(EnvTokenPath),
	}
}
