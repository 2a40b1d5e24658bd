// Package irc holds the bouncer-side view of IRC: a capability interface
// over a client connection plus the Network/Channel state it maintains. The
// controller only ever talks to the Client interface, so anything that can
// connect, join, part, say and report events can stand in for a real server
// connection.
package irc

import "context"

// Client event kinds, as reported on Events().
const (
	EventError      = "error"
	EventJoin       = "join"
	EventPart       = "part"
	EventNames      = "names"
	EventTopic      = "topic"
	EventMode       = "mode"
	EventMessage    = "message"
	EventDisconnect = "disconnect"
)

// ClientEvent is one asynchronous signal from the underlying connection.
type ClientEvent struct {
	Kind    string
	Channel string
	Nick    string
	Names   []string
	Text    string
	Err     error
}

// Client is the capability surface of one IRC connection. Connect blocks
// until the server confirms registration (or ctx is done); everything after
// that arrives asynchronously on Events. The Events channel is closed once
// the connection is torn down.
type Client interface {
	Connect(ctx context.Context) error
	Join(channel, key string) error
	Part(channel, message string) error
	Say(channel, text string) error
	Disconnect(message string) error
	Events() <-chan ClientEvent
}

// Dialer creates an unconnected Client for a host. It exists so tests can
// substitute scripted doubles for the real go-ircevent client.
type Dialer func(host, nick string, opts Options) Client
