// Package config loads the harness settings from the build-generated
// .config file, a dotenv-style key/value list produced alongside the device
// firmware build.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	keyRealm     = "CONFIG_ASTARTE_DEVICE_SDK_REALM_NAME"
	keyDeviceID  = "CONFIG_DEVICE_ID"
	keyURL       = "CONFIG_E2E_APPENGINE_URL"
	keyToken     = "CONFIG_E2E_APPENGINE_TOKEN"
	keyTLSCert   = "CONFIG_TLS_CERTIFICATE_PATH"
)

// MissingKeyError reports a required key absent from the loaded file.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required configuration value for key %s", e.Key)
}

// Config carries everything the harness needs to talk to the cloud side.
// It is built once at startup and passed explicitly to the components that
// need it.
type Config struct {
	Realm          string
	DeviceID       string
	AppEngineURL   string
	AppEngineToken string
	// AppEngineCert is the TLS CA certificate path, resolved relative to the
	// config file's directory when not absolute.
	AppEngineCert string
}

// Load reads the key/value file at path and validates that every required
// key is present. Any missing key is fatal before the first device
// interaction.
func Load(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := &Config{}
	for _, field := range []struct {
		key string
		dst *string
	}{
		{keyRealm, &cfg.Realm},
		{keyDeviceID, &cfg.DeviceID},
		{keyURL, &cfg.AppEngineURL},
		{keyToken, &cfg.AppEngineToken},
		{keyTLSCert, &cfg.AppEngineCert},
	} {
		v, ok := values[field.key]
		if !ok || v == "" {
			return nil, &MissingKeyError{Key: field.key}
		}
		*field.dst = v
	}

	if !filepath.IsAbs(cfg.AppEngineCert) {
		cfg.AppEngineCert = filepath.Join(filepath.Dir(path), cfg.AppEngineCert)
	}

	return cfg, nil
}
