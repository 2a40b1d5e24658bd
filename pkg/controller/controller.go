// Package controller owns the registry of connected networks and the command
// surface over it. It is the single source of truth for "what should be
// connected"; every asynchronous signal from a connection is normalized into
// one event on the bus so all client sessions observe bouncer activity
// uniformly.
package controller

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/bouncer/pkg/events"
	"github.com/go-go-golems/bouncer/pkg/history"
	"github.com/go-go-golems/bouncer/pkg/irc"
)

type Controller struct {
	mu       sync.Mutex
	networks map[string]*irc.Network

	dialer   irc.Dialer
	pub      events.Publisher
	topic    string
	defaults irc.Options
	history  *history.Store
}

type Option func(*Controller)

// WithPublisher sets the event sink receiving normalized bouncer events.
func WithPublisher(pub events.Publisher) Option {
	return func(c *Controller) {
		c.pub = pub
	}
}

func WithTopic(topic string) Option {
	return func(c *Controller) {
		c.topic = topic
	}
}

// WithDefaultOptions sets the process-wide connection options that request
// options are layered over.
func WithDefaultOptions(defaults irc.Options) Option {
	return func(c *Controller) {
		c.defaults = defaults
	}
}

// WithHistory enables the channel message backlog.
func WithHistory(store *history.Store) Option {
	return func(c *Controller) {
		c.history = store
	}
}

func New(dialer irc.Dialer, opts ...Option) *Controller {
	c := &Controller{
		networks: map[string]*irc.Network{},
		dialer:   dialer,
		topic:    events.Topic,
		defaults: irc.Options{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a connection to host and blocks until the server confirms
// registration. The registry slot is claimed up front, so a concurrent
// connect for the same host fails immediately with AlreadyConnected.
func (c *Controller) Connect(ctx context.Context, host, nick string, opts irc.Options) error {
	merged := irc.MergeOptions(opts, c.defaults)

	c.mu.Lock()
	if _, ok := c.networks[host]; ok {
		c.mu.Unlock()
		return errors.Errorf("Network %s already connected.", host)
	}
	client := c.dialer(host, nick, merged)
	network := irc.NewNetwork(host, nick, merged, client)
	c.networks[host] = network
	c.mu.Unlock()

	log.Info().Str("host", host).Str("nick", nick).Msg("connecting")
	if err := client.Connect(ctx); err != nil {
		c.mu.Lock()
		if c.networks[host] == network {
			delete(c.networks, host)
		}
		c.mu.Unlock()
		log.Warn().Err(err).Str("host", host).Msg("connect failed")
		return err
	}

	network.SetState(irc.StateReady)
	go c.pump(network)
	c.publish(events.Event{Name: "network_connect", Host: host})
	return nil
}

// Disconnect removes host from the registry immediately (a same-host connect
// may proceed at once) and tears down the connection asynchronously, emitting
// network_disconnect once teardown completes.
func (c *Controller) Disconnect(host, message string) error {
	c.mu.Lock()
	network, ok := c.networks[host]
	if !ok {
		c.mu.Unlock()
		return errors.Errorf("Network %s is not connected.", host)
	}
	delete(c.networks, host)
	c.mu.Unlock()

	network.SetState(irc.StateDisconnected)
	go func() {
		if err := network.Client().Disconnect(message); err != nil {
			log.Warn().Err(err).Str("host", host).Msg("teardown failed")
		}
		c.publish(events.Event{Name: "network_disconnect", Host: host})
	}()
	return nil
}

// Join creates the channel entry and issues the join; roster and topic fill
// in later from protocol events.
func (c *Controller) Join(host, channel, key string) error {
	network, ok := c.network(host)
	if !ok {
		return errors.Errorf("Network %s is not connected.", host)
	}
	network.AddChannel(irc.NewChannel(channel, key, network))
	return network.Client().Join(channel, key)
}

func (c *Controller) Part(host, channel, message string) error {
	network, ok := c.network(host)
	if !ok {
		return errors.Errorf("Network %s is not connected.", host)
	}
	network.RemoveChannel(channel)
	return network.Client().Part(channel, message)
}

// Say sends text to a joined channel, fire and forget.
func (c *Controller) Say(host, channel, text string) error {
	network, ok := c.network(host)
	if !ok {
		return errors.Errorf("Channel %s is not joined.", channel)
	}
	ch, ok := network.Channel(channel)
	if !ok {
		return errors.Errorf("Channel %s is not joined.", channel)
	}
	if err := ch.Say(text); err != nil {
		return err
	}
	c.appendHistory(host, channel, network.Nick(), text)
	return nil
}

// State returns a read-only snapshot of every network and its channels,
// ordered by host.
func (c *Controller) State() []irc.NetworkState {
	c.mu.Lock()
	networks := make([]*irc.Network, 0, len(c.networks))
	for _, n := range c.networks {
		networks = append(networks, n)
	}
	c.mu.Unlock()

	states := make([]irc.NetworkState, 0, len(networks))
	for _, n := range networks {
		states = append(states, n.Snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Host < states[j].Host })
	return states
}

func (c *Controller) network(host string) (*irc.Network, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.networks[host]
	return n, ok
}

// pump consumes a connection's asynchronous events until its channel closes,
// folding them into channel state and re-emitting them as normalized bus
// events.
func (c *Controller) pump(network *irc.Network) {
	host := network.Host()
	for ev := range network.Client().Events() {
		network.Apply(ev)

		switch ev.Kind {
		case irc.EventJoin:
			c.publish(events.Event{Name: "channel_join", Host: host, Channel: ev.Channel, Nick: ev.Nick})
		case irc.EventPart:
			c.publish(events.Event{Name: "channel_part", Host: host, Channel: ev.Channel, Nick: ev.Nick})
		case irc.EventNames:
			c.publish(events.Event{Name: "channel_names", Host: host, Channel: ev.Channel})
		case irc.EventTopic:
			c.publish(events.Event{Name: "channel_topic", Host: host, Channel: ev.Channel, Text: ev.Text})
		case irc.EventMode:
			c.publish(events.Event{Name: "channel_mode", Host: host, Channel: ev.Channel, Text: ev.Text})
		case irc.EventMessage:
			c.publish(events.Event{Name: "message", Host: host, Channel: ev.Channel, Nick: ev.Nick, Text: ev.Text})
			c.appendHistory(host, ev.Channel, ev.Nick, ev.Text)
		case irc.EventError:
			// transport errors are notifications, never retries
			log.Warn().Err(ev.Err).Str("host", host).Msg("network error")
			c.publish(events.Event{Name: "network_error", Host: host, Error: errString(ev.Err)})
		case irc.EventDisconnect:
			c.publish(events.Event{Name: "network_disconnect", Host: host})
		}
	}
	log.Debug().Str("host", host).Msg("event pump stopped")
}

func (c *Controller) publish(ev events.Event) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishEvent(c.topic, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Name).Msg("publishing event failed")
	}
}

func (c *Controller) appendHistory(host, channel, nick, text string) {
	if c.history == nil {
		return
	}
	if err := c.history.Append(context.Background(), host, channel, nick, text); err != nil {
		log.Warn().Err(err).Str("host", host).Str("chan", channel).Msg("appending history failed")
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
