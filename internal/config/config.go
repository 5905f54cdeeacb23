package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"verifykit/internal/captcha"
	"verifykit/internal/domain"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Captcha struct {
		Cooldown     string `yaml:"cooldown"`
		ImageTimeout string `yaml:"imageTimeout"`
		SessionTTL   string `yaml:"sessionTtl"`
		Render       *bool  `yaml:"render"`
	} `yaml:"captcha"`
	Profiles struct {
		TTL   string           `yaml:"ttl"`
		Items []domain.Profile `yaml:"items"`
	} `yaml:"profiles"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects inline profiles that cannot produce a session.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Profiles.Items))
	for i, p := range c.Profiles.Items {
		if p.ID == "" {
			return fmt.Errorf("profiles.items[%d]: missing id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("profiles.items[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if !p.Mode.Valid() {
			return fmt.Errorf("profiles.items[%d]: %w: %q", i, domain.ErrUnsupportedMode, p.Mode)
		}
		if _, err := captcha.ParseMetric(p.Params.Metric); err != nil {
			return fmt.Errorf("profiles.items[%d]: %w", i, err)
		}
	}
	return nil
}

// RenderImages reports whether views carry rendered images; defaults to true.
func (c Config) RenderImages() bool {
	return c.Captcha.Render == nil || *c.Captcha.Render
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
