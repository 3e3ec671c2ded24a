// Package config loads layered configuration: base.yaml, an optional
// per-environment yaml, then BESTELLDESK_-prefixed environment variables on
// top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "BESTELLDESK_"

type Config struct {
	App struct {
		Name        string `koanf:"name"`
		LogLevel    string `koanf:"log_level"`
		LogFile     string `koanf:"log_file"`
		MetricsAddr string `koanf:"metrics_addr"`
	} `koanf:"app"`

	Ledger struct {
		DBPath  string `koanf:"db_path"`
		History int    `koanf:"history"`
	} `koanf:"ledger"`

	Sync struct {
		Workspace   string        `koanf:"workspace"`
		Remote      string        `koanf:"remote"` // "http", "mongo" or "" for offline
		URL         string        `koanf:"url"`
		TokenSecret string        `koanf:"token_secret"`
		TokenTTL    time.Duration `koanf:"token_ttl"`
		MongoURI    string        `koanf:"mongo_uri"`
		MongoDB     string        `koanf:"mongo_db"`
		Timeout     time.Duration `koanf:"timeout"`
		MaxRetries  int           `koanf:"max_retries"`
		Interval    time.Duration `koanf:"interval"`
		Watch       bool          `koanf:"watch"`
	} `koanf:"sync"`
}

// Load reads base.yaml from pathDir, overlays an optional {envName}.yaml and
// finally environment variables. Nested keys map with double underscores,
// e.g. BESTELLDESK_SYNC__MONGO_URI -> sync.mongo_uri.
func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// Optional: allow missing for local runs.
	if envName != "" {
		_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "bestelldesk"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Ledger.DBPath == "" {
		c.Ledger.DBPath = "data/ledger.db"
	}
	if c.Sync.Timeout == 0 {
		c.Sync.Timeout = 30 * time.Second
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.TokenTTL == 0 {
		c.Sync.TokenTTL = time.Hour
	}
}

func (c Config) Validate() error {
	switch c.Sync.Remote {
	case "":
		// Offline workspace.
	case "http":
		if c.Sync.URL == "" {
			return fmt.Errorf("sync.url required for http remote")
		}
		if c.Sync.Workspace == "" {
			return fmt.Errorf("sync.workspace required")
		}
		if c.Sync.TokenSecret == "" {
			return fmt.Errorf("sync.token_secret required for http remote")
		}
	case "mongo":
		if c.Sync.MongoURI == "" {
			return fmt.Errorf("sync.mongo_uri required for mongo remote")
		}
		if c.Sync.MongoDB == "" {
			return fmt.Errorf("sync.mongo_db required for mongo remote")
		}
		if c.Sync.Workspace == "" {
			return fmt.Errorf("sync.workspace required")
		}
	default:
		return fmt.Errorf("unknown sync.remote %q (want http, mongo or empty)", c.Sync.Remote)
	}
	return nil
}
