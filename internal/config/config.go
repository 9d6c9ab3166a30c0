package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
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
	Survey struct {
		TTL string `yaml:"ttl"`
		// Files are YAML surveys served from memory when no Postgres is configured.
		Files []string `yaml:"files"`
	} `yaml:"survey"`
	Session struct {
		TransitionDelay string `yaml:"transitionDelay"`
		MaxRetries      int    `yaml:"maxRetries"`
	} `yaml:"session"`
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
	return cfg, nil
}

// ApplyEnv overrides connection settings from the environment (REDIS_ADDR, REDIS_PASSWORD,
// POSTGRES_URL, TRANSITION_DELAY), typically populated from a .env file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.Postgres.URL = v
	}
	if v := os.Getenv("TRANSITION_DELAY"); v != "" {
		c.Session.TransitionDelay = v
	}
}

// LoadOrDefault is Load followed by ApplyEnv, but a missing file yields the zero config so the
// service can run in memory without any setup.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Config{}, nil
	}
	if err == nil {
		cfg.ApplyEnv()
	}
	return cfg, err
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
