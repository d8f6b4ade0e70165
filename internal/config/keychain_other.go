//go:build !darwin

package config

import "fmt"

// secretFile is the on-disk secret store: service, then account, then value.
type secretFile map[string]map[string]string

func secretsFilePath() string {
	return xdgPath("XDG_DATA_HOME", "secrets.json", ".local", "share")
}

func keychainGet(service, account string) (string, error) {
	var secrets secretFile
	if err := readJSONFile(secretsFilePath(), &secrets); err != nil {
		return "", fmt.Errorf("reading secrets file: %w", err)
	}
	v, ok := secrets[service][account]
	if !ok {
		return "", errSecretNotFound
	}
	return v, nil
}

func keychainSet(service, account, value string) error {
	path := secretsFilePath()
	secrets := secretFile{}
	// An unreadable file is not overwritten; the secrets in it would be lost.
	if err := readJSONFile(path, &secrets); err != nil {
		return fmt.Errorf("reading secrets file: %w", err)
	}
	if secrets[service] == nil {
		secrets[service] = map[string]string{}
	}
	secrets[service][account] = value
	return writeJSONFile(path, secrets)
}
