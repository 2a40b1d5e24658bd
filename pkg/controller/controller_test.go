package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/bouncer/pkg/events"
	"github.com/go-go-golems/bouncer/pkg/irc"
)

type fakeClient struct {
	mu           sync.Mutex
	events       chan irc.ClientEvent
	closeOnce    sync.Once
	connectErr   error
	joined       map[string]string
	parted       []string
	said         map[string][]string
	disconnected bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: make(chan irc.ClientEvent, 16),
		joined: map[string]string{},
		said:   map[string][]string{},
	}
}

func (f *fakeClient) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeClient) Join(channel, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined[channel] = key
	return nil
}

func (f *fakeClient) Part(channel, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parted = append(f.parted, channel)
	return nil
}

func (f *fakeClient) Say(channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said[channel] = append(f.said[channel], text)
	return nil
}

func (f *fakeClient) Disconnect(message string) error {
	f.mu.Lock()
	f.disconnected = true
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeClient) Events() <-chan irc.ClientEvent { return f.events }

type fakeDialer struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	opts    map[string]irc.Options
	errs    map[string]error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		clients: map[string]*fakeClient{},
		opts:    map[string]irc.Options{},
		errs:    map[string]error{},
	}
}

func (d *fakeDialer) dial(host, nick string, opts irc.Options) irc.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	client := newFakeClient()
	client.connectErr = d.errs[host]
	d.clients[host] = client
	d.opts[host] = opts
	return client
}

func (d *fakeDialer) client(host string) *fakeClient {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[host]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) PublishEvent(topic string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) waitFor(t *testing.T, name string) events.Event {
	t.Helper()
	var found events.Event
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, ev := range p.events {
			if ev.Name == name {
				found = ev
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	return found
}

func TestConnectRejectsDuplicateHost(t *testing.T) {
	d := newFakeDialer()
	c := New(d.dial)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "irc.example.org", "bot", nil))

	err := c.Connect(ctx, "irc.example.org", "bot", nil)
	require.EqualError(t, err, "Network irc.example.org already connected.")
	require.Len(t, c.State(), 1)
}

func TestDisconnectAbsentHost(t *testing.T) {
	c := New(newFakeDialer().dial)
	err := c.Disconnect("irc.example.org", "")
	require.EqualError(t, err, "Network irc.example.org is not connected.")
	require.Empty(t, c.State())
}

func TestDisconnectFreesSlotImmediately(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	c := New(d.dial, WithPublisher(pub))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "irc.example.org", "bot", nil))
	old := d.client("irc.example.org")

	require.NoError(t, c.Disconnect("irc.example.org", "bye"))

	// the slot is free before the async teardown completes
	require.NoError(t, c.Connect(ctx, "irc.example.org", "bot2", nil))
	require.Len(t, c.State(), 1)

	pub.waitFor(t, "network_disconnect")
	require.Eventually(t, func() bool {
		old.mu.Lock()
		defer old.mu.Unlock()
		return old.disconnected
	}, time.Second, time.Millisecond)
}

func TestJoinRequiresConnectedNetwork(t *testing.T) {
	c := New(newFakeDialer().dial)
	err := c.Join("irc.example.org", "#go", "")
	require.EqualError(t, err, "Network irc.example.org is not connected.")
}

func TestJoinPartSay(t *testing.T) {
	d := newFakeDialer()
	c := New(d.dial)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "irc.example.org", "bot", nil))

	err := c.Say("irc.example.org", "#go", "hello")
	require.EqualError(t, err, "Channel #go is not joined.")

	require.NoError(t, c.Join("irc.example.org", "#go", "sekrit"))
	client := d.client("irc.example.org")
	require.Equal(t, "sekrit", client.joined["#go"])

	require.NoError(t, c.Say("irc.example.org", "#go", "hello"))
	require.Equal(t, []string{"hello"}, client.said["#go"])

	require.NoError(t, c.Part("irc.example.org", "#go", "later"))
	require.Equal(t, []string{"#go"}, client.parted)

	err = c.Say("irc.example.org", "#go", "again")
	require.EqualError(t, err, "Channel #go is not joined.")
}

func TestPumpPublishesNormalizedEvents(t *testing.T) {
	d := newFakeDialer()
	pub := &recordingPublisher{}
	c := New(d.dial, WithPublisher(pub))
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "irc.example.org", "bot", nil))
	require.NoError(t, c.Join("irc.example.org", "#go", ""))

	client := d.client("irc.example.org")
	client.events <- irc.ClientEvent{Kind: irc.EventNames, Channel: "#go", Names: []string{"@op", "bot"}}
	client.events <- irc.ClientEvent{Kind: irc.EventMessage, Channel: "#go", Nick: "op", Text: "hi"}

	ev := pub.waitFor(t, "message")
	require.Equal(t, "irc.example.org", ev.Host)
	require.Equal(t, "#go", ev.Channel)
	require.Equal(t, "op", ev.Nick)
	require.Equal(t, "hi", ev.Text)

	// the names event also updated the roster
	require.Eventually(t, func() bool {
		states := c.State()
		if len(states) != 1 || len(states[0].Channels) != 1 {
			return false
		}
		return len(states[0].Channels[0].Users) == 2
	}, time.Second, time.Millisecond)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	d := newFakeDialer()
	c := New(d.dial)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx, "irc.one.org", "alice", irc.Options{"port": 7000}))
	require.NoError(t, c.Join("irc.one.org", "#a", "sekrit"))
	require.NoError(t, c.Join("irc.one.org", "#b", ""))
	require.NoError(t, c.Connect(ctx, "irc.two.org", "bob", nil))

	snaps := c.Serialize()
	require.Len(t, snaps, 2)
	require.Equal(t, "irc.one.org", snaps[0].Host)
	require.Equal(t, []string{"#a", "#b"}, snaps[0].Chans)
	require.Equal(t, map[string]string{"#a": "sekrit"}, snaps[0].Keys)

	d2 := newFakeDialer()
	c2 := New(d2.dial, WithDefaultOptions(irc.Options{"port": 6667, "username": "u"}))
	c2.Deserialize(ctx, snaps)

	states := c2.State()
	require.Len(t, states, 2)
	require.Equal(t, "irc.one.org", states[0].Host)
	require.Equal(t, "alice", states[0].Nick)
	require.Len(t, states[0].Channels, 2)

	// override preserved, defaults supplemented
	opts := d2.opts["irc.one.org"]
	require.Equal(t, 7000, opts.Int("port", 0))
	require.Equal(t, "u", opts.String("username", ""))

	// rejoined with the stored key
	require.Equal(t, "sekrit", d2.client("irc.one.org").joined["#a"])
}

func TestDeserializeFailuresAreIsolated(t *testing.T) {
	d := newFakeDialer()
	d.errs["irc.down.org"] = context.DeadlineExceeded
	c := New(d.dial)

	c.Deserialize(context.Background(), []NetworkSnapshot{
		{Host: "irc.down.org", Nick: "bot"},
		{Host: "irc.up.org", Nick: "bot", Chans: []string{"#go"}},
	})

	states := c.State()
	require.Len(t, states, 1)
	require.Equal(t, "irc.up.org", states[0].Host)
	require.Len(t, states[0].Channels, 1)
}

func TestHandleCommandValidation(t *testing.T) {
	c := New(newFakeDialer().dial)
	ctx := context.Background()

	_, err := c.HandleCommand(ctx, "network_connect", map[string]any{"nick": "bot"})
	require.EqualError(t, err, "expected host to be string, got <nil>")

	_, err = c.HandleCommand(ctx, "channel_join", map[string]any{"host": "h", "chan": 42})
	require.EqualError(t, err, "expected chan to be string, got int")

	_, err = c.HandleCommand(ctx, "frobnicate", map[string]any{})
	require.EqualError(t, err, "No such method: frobnicate")
}

func TestHandleCommandConnectAndState(t *testing.T) {
	d := newFakeDialer()
	c := New(d.dial)
	ctx := context.Background()

	result, err := c.HandleCommand(ctx, "network_connect", map[string]any{
		"host": "irc.example.org",
		"nick": "bot",
		"opts": map[string]any{"port": float64(6697)},
	})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Equal(t, 6697, d.opts["irc.example.org"].Int("port", 0))

	result, err = c.HandleCommand(ctx, "state", nil)
	require.NoError(t, err)
	states, ok := result["networks"].([]irc.NetworkState)
	require.True(t, ok)
	require.Len(t, states, 1)
	require.Equal(t, "irc.example.org", states[0].Host)

	_, err = c.HandleCommand(ctx, "network_connect", map[string]any{
		"host": "irc.example.org", "nick": "bot",
	})
	require.EqualError(t, err, "Network irc.example.org already connected.")
}
