package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds everything the server reads at startup. Values come from the
// YAML file named by CODEQNA_CONFIG (optional) and are then overridden by the
// environment, which may itself be seeded from a .env file.
type Config struct {
	Port string `yaml:"port"`

	// SQLite is used unless DBHost is set.
	Database   string `yaml:"database"`
	DBHost     string `yaml:"db_host"`
	DBPort     string `yaml:"db_port"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBName     string `yaml:"db_name"`
	DBSSLMode  string `yaml:"db_sslmode"`

	SessionKey    string `yaml:"session_key"`
	SessionMaxAge int    `yaml:"session_max_age"` // seconds

	LogLevel     string `yaml:"log_level"`
	LogstashAddr string `yaml:"logstash_addr"`

	// Login/register attempts per second per client address.
	AuthRate  float64 `yaml:"auth_rate"`
	AuthBurst int     `yaml:"auth_burst"`

	// Peers whose X-Forwarded-For header is believed. Empty means the
	// socket address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

func defaultConfig() *Config {
	return &Config{
		Port:          ":3000",
		Database:      "codeqna.db",
		DBSSLMode:     "require",
		SessionKey:    "SESSION_KEY",
		SessionMaxAge: 3600,
		LogLevel:      "warn",
		AuthRate:      1,
		AuthBurst:     5,
	}
}

// LoadConfig builds the runtime configuration.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := defaultConfig()

	if path := os.Getenv("CODEQNA_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&c.Port, "PORT")
	setString(&c.Database, "DATABASE")
	setString(&c.DBHost, "DB_HOST")
	setString(&c.DBPort, "DB_PORT")
	setString(&c.DBUser, "DB_USER")
	setString(&c.DBPassword, "DB_PASSWORD")
	setString(&c.DBName, "DB_NAME")
	setString(&c.DBSSLMode, "DB_SSLMODE")
	setString(&c.SessionKey, "SESSION_KEY")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogstashAddr, "LOGSTASH_ADDR")

	if v := os.Getenv("SESSION_MAX_AGE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SESSION_MAX_AGE: %w", err)
		}
		c.SessionMaxAge = n
	}
	if v := os.Getenv("AUTH_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AUTH_RATE: %w", err)
		}
		c.AuthRate = f
	}
	if v := os.Getenv("AUTH_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AUTH_BURST: %w", err)
		}
		c.AuthBurst = n
	}

	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		c.TrustedProxies = nil
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				c.TrustedProxies = append(c.TrustedProxies, addr)
			}
		}
	}

	// PORT=8080 is accepted as well as PORT=:8080
	if c.Port != "" && !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	return nil
}
