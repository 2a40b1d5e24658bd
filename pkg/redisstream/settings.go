package redisstream

import "github.com/google/uuid"

// Settings holds Redis Streams transport configuration for Watermill.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

// DefaultSettings returns the disabled in-memory default. Each process gets
// its own consumer name so two bouncer front-ends sharing a group don't
// steal each other's pending entries.
func DefaultSettings() Settings {
	return Settings{
		Enabled:  false,
		Addr:     "localhost:6379",
		Group:    "bouncer",
		Consumer: "bouncer-" + uuid.NewString(),
	}
}
