// Package config loads CLI configuration from config files, dotenv files and
// the environment.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// AppFs is the filesystem used by the CLI; swapped for a memory fs in tests.
var AppFs = afero.NewOsFs()

// Config holds the CLI configuration.
type Config struct {
	DatabasePath string
	Debug        bool
}

// Load reads configuration from .dynaorm.yaml (working directory, home, or
// ~/.config/dynaorm), DYNAORM_* environment variables and .env files. The
// DATABASE_URL environment variable wins for the database path.
func Load() (*Config, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName(".dynaorm")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "dynaorm"))

	viper.SetEnvPrefix("DYNAORM")
	viper.AutomaticEnv()

	viper.SetDefault("database_path", "dynaorm.db")
	viper.SetDefault("debug", false)

	// Config file is optional.
	_ = viper.ReadInConfig()

	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		DatabasePath: viper.GetString("database_path"),
		Debug:        viper.GetBool("debug"),
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabasePath = url
	}
	return cfg, nil
}

// Save writes the configuration to ~/.config/dynaorm/.dynaorm.yaml.
func Save(cfg *Config) error {
	viper.Set("database_path", cfg.DatabasePath)
	viper.Set("debug", cfg.Debug)

	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	configPath := filepath.Join(home, ".config", "dynaorm")
	if err := AppFs.MkdirAll(configPath, 0755); err != nil {
		return err
	}
	return viper.WriteConfigAs(filepath.Join(configPath, ".dynaorm.yaml"))
}
