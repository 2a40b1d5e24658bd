package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	ircevent "github.com/thoj/go-ircevent"
)

// eventClient adapts go-ircevent to the Client interface. One instance maps
// to one connection; it is not reusable after Disconnect.
type eventClient struct {
	host string
	opts Options
	conn *ircevent.Connection

	events     chan ClientEvent
	registered chan struct{}
	regOnce    sync.Once

	mu     sync.Mutex
	closed bool
}

// NewDialer returns the production Dialer backed by go-ircevent.
//
// Recognized options: port (int), password (string), username (string),
// tls (bool), debug (bool).
func NewDialer() Dialer {
	return func(host, nick string, opts Options) Client {
		conn := ircevent.IRC(nick, opts.String("username", nick))
		conn.Password = opts.String("password", "")
		conn.Debug = opts.Bool("debug", false)
		if opts.Bool("tls", false) {
			conn.UseTLS = true
			conn.TLSConfig = &tls.Config{ServerName: host}
		}

		c := &eventClient{
			host:       host,
			opts:       opts,
			conn:       conn,
			events:     make(chan ClientEvent, 64),
			registered: make(chan struct{}),
		}
		c.installCallbacks()
		return c
	}
}

func (c *eventClient) installCallbacks() {
	c.conn.AddCallback("001", func(e *ircevent.Event) {
		c.regOnce.Do(func() { close(c.registered) })
	})
	c.conn.AddCallback("JOIN", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventJoin, Channel: argument(e, 0), Nick: e.Nick})
	})
	c.conn.AddCallback("PART", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventPart, Channel: argument(e, 0), Nick: e.Nick})
	})
	// RPL_NAMREPLY: <client> <symbol> <channel> :nick nick nick
	c.conn.AddCallback("353", func(e *ircevent.Event) {
		names := strings.Fields(e.Message())
		c.emit(ClientEvent{Kind: EventNames, Channel: argument(e, 2), Names: names})
	})
	c.conn.AddCallback("TOPIC", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventTopic, Channel: argument(e, 0), Text: e.Message()})
	})
	// RPL_TOPIC on join
	c.conn.AddCallback("332", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventTopic, Channel: argument(e, 1), Text: e.Message()})
	})
	c.conn.AddCallback("MODE", func(e *ircevent.Event) {
		if len(e.Arguments) < 2 {
			return
		}
		c.emit(ClientEvent{
			Kind:    EventMode,
			Channel: e.Arguments[0],
			Text:    strings.Join(e.Arguments[1:], " "),
		})
	})
	c.conn.AddCallback("PRIVMSG", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventMessage, Channel: argument(e, 0), Nick: e.Nick, Text: e.Message()})
	})
	c.conn.AddCallback("ERROR", func(e *ircevent.Event) {
		c.emit(ClientEvent{Kind: EventError, Err: errors.New(e.Message())})
	})
}

func (c *eventClient) Connect(ctx context.Context) error {
	addr := c.addr()
	if err := c.conn.Connect(addr); err != nil {
		return errors.Wrapf(err, "connect to %s", addr)
	}
	go c.conn.Loop()

	select {
	case <-c.registered:
		return nil
	case <-ctx.Done():
		c.teardown("")
		return errors.Wrapf(ctx.Err(), "connect to %s", addr)
	}
}

func (c *eventClient) Join(channel, key string) error {
	if key != "" {
		c.conn.Join(channel + " " + key)
	} else {
		c.conn.Join(channel)
	}
	return nil
}

func (c *eventClient) Part(channel, message string) error {
	c.conn.Part(channel)
	return nil
}

func (c *eventClient) Say(channel, text string) error {
	c.conn.Privmsg(channel, text)
	return nil
}

func (c *eventClient) Disconnect(message string) error {
	c.teardown(message)
	return nil
}

func (c *eventClient) Events() <-chan ClientEvent {
	return c.events
}

func (c *eventClient) addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port())
}

func (c *eventClient) port() int {
	fallback := 6667
	if c.conn.UseTLS {
		fallback = 6697
	}
	return c.opts.Int("port", fallback)
}

func (c *eventClient) teardown(message string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	if message != "" {
		c.conn.QuitMessage = message
	}
	c.conn.Quit()
	log.Debug().Str("host", c.host).Msg("irc client torn down")
}

// argument safely indexes into an event's arguments.
func argument(e *ircevent.Event, i int) string {
	if i < len(e.Arguments) {
		return e.Arguments[i]
	}
	return ""
}

func (c *eventClient) emit(ev ClientEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("host", c.host).Str("kind", ev.Kind).Msg("dropping client event, consumer is behind")
	}
}
