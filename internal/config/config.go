// Package config carga la configuración del key manager desde YAML con
// overrides por variables de entorno. El resultado es inmutable: el token
// de sesión es el único valor que rota en runtime y vive en el Manager.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Bloque app (opcional en YAML). Si no está, queda vacío.
	App struct {
		// dev | staging | prod
		Env string `yaml:"env"`
	} `yaml:"app"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Manager struct {
		// Address es la dirección (email) del usuario de este key manager.
		Address string `yaml:"address"`
		// UID del usuario en el webapp del proveedor.
		UID string `yaml:"uid"`
	} `yaml:"manager"`

	Nickserver struct {
		URI    string `yaml:"uri"`
		CACert string `yaml:"ca_cert"`
		// CacheTTL de la cache de resoluciones (default 300s).
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"nickserver"`

	API struct {
		URI     string `yaml:"uri"`
		Version string `yaml:"version"`
		// Token de sesión. Preferir NICKEL_API_TOKEN por env.
		Token string `yaml:"token"`
	} `yaml:"api"`

	Storage struct {
		// Driver: fs | postgres | memory
		Driver string `yaml:"driver"`
		FS     struct {
			Path string `yaml:"path"`
		} `yaml:"fs"`
		Postgres struct {
			DSN             string `yaml:"dsn"`
			MaxConns        int    `yaml:"max_conns"`
			MinConns        int    `yaml:"min_conns"`
			ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	Server struct {
		// Addr del daemon HTTP (cmd/nickeld).
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// Load lee el YAML de path, aplica overrides de env y defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.Manager.Address == "" {
		return nil, fmt.Errorf("config: manager.address es obligatorio")
	}
	if cfg.Nickserver.URI == "" {
		return nil, fmt.Errorf("config: nickserver.uri es obligatorio")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setIfEnv(&c.App.Env, "APP_ENV")
	setIfEnv(&c.Log.Level, "LOG_LEVEL")
	setIfEnv(&c.Manager.Address, "NICKEL_ADDRESS")
	setIfEnv(&c.Manager.UID, "NICKEL_UID")
	setIfEnv(&c.Nickserver.URI, "NICKEL_NICKSERVER_URI")
	setIfEnv(&c.Nickserver.CACert, "NICKEL_CA_CERT")
	setIfEnv(&c.API.URI, "NICKEL_API_URI")
	setIfEnv(&c.API.Version, "NICKEL_API_VERSION")
	setIfEnv(&c.API.Token, "NICKEL_API_TOKEN")
	setIfEnv(&c.Storage.Driver, "NICKEL_STORAGE_DRIVER")
	setIfEnv(&c.Storage.FS.Path, "NICKEL_STORAGE_PATH")
	setIfEnv(&c.Storage.Postgres.DSN, "NICKEL_STORAGE_DSN")
	setIfEnv(&c.Server.Addr, "NICKEL_SERVER_ADDR")

	if v := strings.TrimSpace(os.Getenv("NICKEL_CACHE_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Nickserver.CacheTTL = d
		}
	}
}

func (c *Config) applyDefaults() {
	// sane defaults
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.API.Version == "" {
		c.API.Version = "1"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "fs"
	}
	if c.Storage.FS.Path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.Storage.FS.Path = home + "/.nickel/keys"
		} else {
			c.Storage.FS.Path = ".nickel/keys"
		}
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8787"
	}
}
