package config

import (
	"fmt"
	"os"
)

// Credentials holds the exchange API key pair. These are read only from
// the environment, never from a YAML file, so a committed config
// directory can never leak them.
type Credentials struct {
	APIKey    Secret
	APISecret Secret
}

// LoadCredentials reads CB_API_KEY/CB_API_SECRET from the environment.
// Both are required unless mode is DRY_RUN, which never calls a private
// endpoint.
func LoadCredentials(mode string) (Credentials, error) {
	creds := Credentials{
		APIKey:    Secret(os.Getenv("CB_API_KEY")),
		APISecret: Secret(os.Getenv("CB_API_SECRET")),
	}
	if mode == "DRY_RUN" {
		return creds, nil
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return Credentials{}, fmt.Errorf("CB_API_KEY and CB_API_SECRET must be set for mode %s", mode)
	}
	return creds, nil
}
