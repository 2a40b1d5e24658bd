package irc

import (
	"strings"
	"sync"
)

// Channel is one joined room on a Network: roster, topic and mode, all
// maintained from asynchronous protocol events. It holds a back-reference
// to its network but does not own it.
type Channel struct {
	mu sync.RWMutex

	name    string
	key     string
	network *Network

	users map[string]string // nick -> mode prefix ("@", "+", "")
	topic string
	mode  string
}

// ChannelState is a read-only snapshot of a channel.
type ChannelState struct {
	Name  string            `json:"name"`
	Topic string            `json:"topic,omitempty"`
	Mode  string            `json:"mode,omitempty"`
	Users map[string]string `json:"users"`
}

func NewChannel(name, key string, network *Network) *Channel {
	return &Channel{
		name:    name,
		key:     key,
		network: network,
		users:   map[string]string{},
	}
}

func (c *Channel) Name() string { return c.name }
func (c *Channel) Key() string  { return c.key }

// Say sends text to the channel through the owning network's connection.
func (c *Channel) Say(text string) error {
	return c.network.Client().Say(c.name, text)
}

func (c *Channel) AddUser(nick string) {
	nick, mode := splitNickMode(nick)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[nick] = mode
}

func (c *Channel) RemoveUser(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, nick)
}

// SetNames replaces the roster from a NAMES reply. Mode prefixes on the
// nicks ("@op", "+voiced") become the per-user mode flag.
func (c *Channel) SetNames(nicks []string) {
	users := make(map[string]string, len(nicks))
	for _, raw := range nicks {
		if raw == "" {
			continue
		}
		nick, mode := splitNickMode(raw)
		users[nick] = mode
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = users
}

func (c *Channel) SetTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic = topic
}

func (c *Channel) SetMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
}

// State returns a copy safe to hand out concurrently with updates.
func (c *Channel) State() ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users := make(map[string]string, len(c.users))
	for nick, mode := range c.users {
		users[nick] = mode
	}
	return ChannelState{
		Name:  c.name,
		Topic: c.topic,
		Mode:  c.mode,
		Users: users,
	}
}

func splitNickMode(raw string) (nick, mode string) {
	if strings.HasPrefix(raw, "@") || strings.HasPrefix(raw, "+") {
		return raw[1:], raw[:1]
	}
	return raw, ""
}
