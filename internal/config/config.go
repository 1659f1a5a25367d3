package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "config/config.yaml"
	defaultPort         = 8080
	defaultPingInterval = 30 * time.Second
	defaultMaxUpload    = 5 << 20
	defaultRootDir      = "./files"
	defaultPublicURL    = "/files"
)

type StorageConfig struct {
	Driver    string `yaml:"driver"` // "http" (default) or "disk"
	BaseURL   string `yaml:"base_url"`
	Bucket    string `yaml:"bucket"`
	Token     string `yaml:"token"`
	RootDir   string `yaml:"root_dir"`
	PublicURL string `yaml:"public_url"`
}

type Config struct {
	Server struct {
		Port        int      `yaml:"port"`
		CORSOrigins []string `yaml:"cors_origins"`
	} `yaml:"server"`
	Database struct {
		DSN string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Uploads struct {
		MaxBytes int64 `yaml:"max_bytes"`
	} `yaml:"uploads"`
	Realtime struct {
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"realtime"`
	PDF struct {
		FontPath string `yaml:"font_path"`
	} `yaml:"pdf"`
}

// Load reads the YAML file at path, applies environment overrides and fills
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if v := os.Getenv("TASKFOREST_DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TASKFOREST_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load that panics.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Realtime.PingInterval <= 0 {
		c.Realtime.PingInterval = defaultPingInterval
	}
	if c.Uploads.MaxBytes <= 0 {
		c.Uploads.MaxBytes = defaultMaxUpload
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "http"
	}
	if c.Storage.Driver == "disk" {
		if c.Storage.RootDir == "" {
			c.Storage.RootDir = defaultRootDir
		}
		if c.Storage.PublicURL == "" {
			c.Storage.PublicURL = defaultPublicURL
		}
	}
}

func (c *Config) validate() error {
	if c.Database.DSN == "" {
		return errors.New("database.url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	switch c.Storage.Driver {
	case "disk":
	case "http":
		if c.Storage.BaseURL == "" || c.Storage.Bucket == "" {
			return errors.New("storage.base_url and storage.bucket are required for the http driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}
