// Package config loads server settings from an optional yaml file with
// FORUM_* environment overrides. Flags on the command line take precedence
// over both.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr        string `yaml:"addr"`
	DBPath      string `yaml:"db_path"`
	TemplateDir string `yaml:"template_dir"`
	Debug       bool   `yaml:"debug"`
}

func Default() Config {
	return Config{
		Addr:        ":8080",
		DBPath:      "forum.db",
		TemplateDir: "web/templates",
	}
}

// Load reads the yaml file at path on top of the defaults, then applies
// environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("FORUM_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("FORUM_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("FORUM_TEMPLATE_DIR"); v != "" {
		c.TemplateDir = v
	}
	if v := os.Getenv("FORUM_DEBUG"); v == "1" || v == "true" {
		c.Debug = true
	}
}
