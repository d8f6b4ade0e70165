package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo is one settable key with its current value, as shown by
// `appraise config show`.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

func (s keySpec) format(cfg Config) string {
	switch v := s.extract(cfg).(type) {
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ShowAll lists every settable key of cfg in table order.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, len(specs))
	for i, s := range specs {
		out[i] = KeyInfo{Key: s.key, EnvVar: s.env, Value: s.format(cfg)}
	}
	return out
}

// SetKey persists one key to the platform backend.
func SetKey(key, value string) error {
	return setKeyWith(newPlatformBackend(), key, value)
}

func setKeyWith(b Backend, key, value string) error {
	if env, ok := secretEnv[strings.TrimPrefix(key, "auth.")]; ok {
		return fmt.Errorf("%q is a secret and lives in the keychain; override it with %s", key, env)
	}
	s, ok := lookupSpec(key)
	if !ok {
		return errors.New("unknown config key " + strconv.Quote(key) + " (valid: " + strings.Join(ValidKeys(), ", ") + ")")
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return b.Store(key, v)
}

// ValidKeys returns the settable key names.
func ValidKeys() []string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}
