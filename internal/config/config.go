package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultDirectory holds main.yaml and the per-environment overrides.
	DefaultDirectory = "configuration"
	envPrefix        = "APP"
	defaultEnv       = "local"
)

// Load reads <dir>/main.yaml, merges <dir>/<APP_ENVIRONMENT>.yaml when it
// exists and applies APP_* environment overrides, e.g. APP_DATABASE_HOST.
func Load(dir string) (*Settings, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	mainFile := filepath.Join(dir, "main.yaml")
	v.SetConfigFile(mainFile)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read configuration %s: %w", mainFile, err)
	}

	envFile := filepath.Join(dir, Environment()+".yaml")
	if _, err := os.Stat(envFile); err == nil {
		v.SetConfigFile(envFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge configuration %s: %w", envFile, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat configuration %s: %w", envFile, err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"admin.address", "admin.port", "database.password"} {
		_ = v.BindEnv(key)
	}

	var s Settings
	if err := v.Unmarshal(&s, viper.DecodeHook(secretHook)); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &s, nil
}

// Environment returns APP_ENVIRONMENT, defaulting to "local".
func Environment() string {
	if env := strings.TrimSpace(os.Getenv(envPrefix + "_ENVIRONMENT")); env != "" {
		return env
	}
	return defaultEnv
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("application.address", "127.0.0.1")
	v.SetDefault("application.port", 8000)
	v.SetDefault("application.healthcachevalidityms", int(DefaultHealthCacheValidity.Milliseconds()))
	v.SetDefault("application.loglevel", "info")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.database", "")
	v.SetDefault("database.ssl.tls", false)
	v.SetDefault("database.ssl.cacertificates", "")
	v.SetDefault("database.migration.migrate", false)
	v.SetDefault("database.migration.folder", "")
}

var secretType = reflect.TypeOf(Secret{})

func secretHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != secretType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return Secret{}, nil
	case string:
		return NewSecret(v), nil
	case Secret:
		return v, nil
	default:
		return NewSecret(fmt.Sprint(v)), nil
	}
}
