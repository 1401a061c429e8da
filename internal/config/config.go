// Package config loads the front-end defaults file. The core itself
// consults no configuration and no environment variables; everything
// here only seeds CLI flag defaults.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the CLI defaults.
type Config struct {
	DefaultCascade string `mapstructure:"default_cascade"`
	DefaultKdf     string `mapstructure:"default_kdf"`
	Workers        int    `mapstructure:"workers"`
	ShimPort       int    `mapstructure:"shim_port"`
	Verbose        bool   `mapstructure:"verbose"`
}

// Load reads basalt.yaml from the user config directory and /etc,
// falling back to built-in defaults when no file exists.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("basalt")
	v.SetConfigType("yaml")

	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "basalt"))
	}
	v.AddConfigPath("/etc/basalt")

	v.SetDefault("default_cascade", "AES")
	v.SetDefault("default_kdf", "Argon2id")
	v.SetDefault("workers", 0)
	v.SetDefault("shim_port", 0)
	v.SetDefault("verbose", false)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
