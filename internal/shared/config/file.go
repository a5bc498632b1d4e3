package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ReadEnvFile parses a KEY=VALUE file into a lookup map.
func ReadEnvFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return map[string]string{}, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		values[strings.ToUpper(key)] = v.GetString(key)
	}
	return values, nil
}

// FileEnvLookup loads path and returns a lookup where process environment
// variables take precedence over file entries.
func FileEnvLookup(path string) (EnvLookup, error) {
	values, err := ReadEnvFile(path)
	if err != nil {
		return nil, err
	}
	aliases := DefaultEnvAliases()
	return ChainEnvLookup(
		AliasEnvLookup(DefaultEnvLookup, aliases),
		AliasEnvLookup(MapEnvLookup(values), aliases),
	), nil
}
