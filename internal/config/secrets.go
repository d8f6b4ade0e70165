package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

const keychainService = "appraise"

var errSecretNotFound = errors.New("secret not found")

// Secret names stored in the platform secret store.
const (
	SecretJWT      = "jwt_secret"
	SecretPipeline = "pipeline_token"
)

var secretEnv = map[string]string{
	SecretJWT:      "APPRAISE_AUTH_JWT_SECRET",
	SecretPipeline: "APPRAISE_AUTH_PIPELINE_TOKEN",
}

// Keychain abstracts the platform secret store for testing.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain on darwin,
// a 0600 JSON file under $XDG_DATA_HOME/appraise elsewhere.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	return keychainGet(service, account)
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// Secret returns the named secret from its environment variable, then the
// secret store. A missing secret is generated and saved on first use.
func Secret(kc Keychain, name string) (string, error) {
	env, ok := secretEnv[name]
	if !ok {
		return "", fmt.Errorf("unknown secret %q", name)
	}
	if v := os.Getenv(env); v != "" {
		return v, nil
	}
	if v, err := kc.Get(keychainService, name); err == nil && v != "" {
		return v, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating %s: %w", name, err)
	}
	v := hex.EncodeToString(buf)
	if err := kc.Set(keychainService, name, v); err != nil {
		return "", fmt.Errorf("saving %s (or set %s): %w", name, env, err)
	}
	return v, nil
}

// SecretEnv names the environment variable that overrides a secret.
func SecretEnv(name string) string {
	return secretEnv[name]
}
