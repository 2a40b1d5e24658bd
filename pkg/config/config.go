// Package config loads the bouncer's YAML configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/bouncer/pkg/redisstream"
)

type Config struct {
	// Addr the HTTP bus listens on.
	Addr string `yaml:"addr"`
	// Pass is the shared secret clients log in with.
	Pass string `yaml:"pass"`
	// DataDir holds the snapshot file and the upload store.
	DataDir string `yaml:"data_dir"`
	// HistoryDB overrides the backlog database location; empty means
	// <data_dir>/history.db.
	HistoryDB string `yaml:"history_db"`
	// Redis switches the event stream to Redis Streams transport.
	Redis redisstream.Settings `yaml:"redis"`
	// Opts are the process-wide default connection options; per-network
	// options from connect requests are layered over them.
	Opts map[string]any `yaml:"opts"`
}

func Default() Config {
	return Config{
		Addr:    ":8067",
		DataDir: "data",
		Redis:   redisstream.DefaultSettings(),
		Opts:    map[string]any{},
	}
}

// Load reads path over the defaults. An empty path returns the defaults
// unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	if cfg.Opts == nil {
		cfg.Opts = map[string]any{}
	}
	return cfg, nil
}

func (c Config) SnapshotPath() string {
	return filepath.Join(c.DataDir, "networks.json")
}

func (c Config) UploadsDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

func (c Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	return filepath.Join(c.DataDir, "history.db")
}
