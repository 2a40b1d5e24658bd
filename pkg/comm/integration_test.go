package comm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/bouncer/pkg/controller"
	"github.com/go-go-golems/bouncer/pkg/events"
	"github.com/go-go-golems/bouncer/pkg/irc"
)

// scripted client/dialer for driving the full login -> command -> broadcast
// -> long-poll path through a real in-memory event router.

type scriptedClient struct {
	events chan irc.ClientEvent
	once   sync.Once
}

func (s *scriptedClient) Connect(ctx context.Context) error  { return nil }
func (s *scriptedClient) Join(channel, key string) error     { return nil }
func (s *scriptedClient) Part(channel, message string) error { return nil }
func (s *scriptedClient) Say(channel, text string) error     { return nil }
func (s *scriptedClient) Events() <-chan irc.ClientEvent     { return s.events }

func (s *scriptedClient) Disconnect(message string) error {
	s.once.Do(func() { close(s.events) })
	return nil
}

type scriptedDialer struct {
	mu      sync.Mutex
	clients map[string]*scriptedClient
}

func (d *scriptedDialer) dial(host, nick string, opts irc.Options) irc.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	client := &scriptedClient{events: make(chan irc.ClientEvent, 16)}
	d.clients[host] = client
	return client
}

func TestEndToEndCommandAndEventFlow(t *testing.T) {
	router, err := events.NewEventRouter()
	require.NoError(t, err)

	dialer := &scriptedDialer{clients: map[string]*scriptedClient{}}
	ctrl := controller.New(dialer.dial, controller.WithPublisher(router))

	bus := NewComm("hunter2", WithCommandHandler(ctrl))
	bus.AttachRouter(router, events.Topic)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()
	defer func() { _ = router.Close() }()

	srv := httptest.NewServer(bus)
	defer srv.Close()

	// scenario A: login, connect, observe the network in state
	key := login(t, srv.URL)

	out := postJSON(t, srv.URL+"/method/network_connect", map[string]any{
		"key": key, "host": "irc.example.org", "nick": "bot",
	})
	require.Equal(t, true, out["success"])

	out = postJSON(t, srv.URL+"/method/state", map[string]any{"key": key})
	require.Equal(t, true, out["success"])
	networks, ok := out["networks"].([]any)
	require.True(t, ok)
	require.Len(t, networks, 1)
	entry, ok := networks[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "irc.example.org", entry["host"])

	// scenario B: duplicate connect is rejected, registry unchanged
	out = postJSON(t, srv.URL+"/method/network_connect", map[string]any{
		"key": key, "host": "irc.example.org", "nick": "bot",
	})
	require.Equal(t, "Network irc.example.org already connected.", out["error"])
	require.Len(t, ctrl.State(), 1)

	// scenario C: a blocked long-poll resolves once a join is broadcast
	buf, _ := json.Marshal(map[string]any{"key": key})
	resp, err := http.Post(srv.URL+"/register", "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	id, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "0", string(id))

	type pollResult struct {
		batch []EventRecord
		err   error
	}
	got := make(chan pollResult, 1)
	go func() {
		buf, _ := json.Marshal(map[string]any{"key": key})
		resp, err := http.Post(srv.URL+"/event/0", "application/json", bytes.NewReader(buf))
		if err != nil {
			got <- pollResult{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var batch []EventRecord
		err = json.NewDecoder(resp.Body).Decode(&batch)
		got <- pollResult{batch: batch, err: err}
	}()

	require.Eventually(t, func() bool {
		bus.mu.Lock()
		l := bus.listeners[0]
		bus.mu.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.waiter != nil
	}, time.Second, time.Millisecond)

	out = postJSON(t, srv.URL+"/method/channel_join", map[string]any{
		"key": key, "host": "irc.example.org", "chan": "#go",
	})
	require.Equal(t, true, out["success"])

	// the server confirms the join asynchronously; the pump turns it into
	// a broadcast that releases the poll
	dialer.mu.Lock()
	client := dialer.clients["irc.example.org"]
	dialer.mu.Unlock()
	client.events <- irc.ClientEvent{Kind: irc.EventJoin, Channel: "#go", Nick: "bot"}

	select {
	case res := <-got:
		require.NoError(t, res.err)
		require.NotEmpty(t, res.batch)
		found := false
		for _, rec := range res.batch {
			if rec.Name == "channel_join" {
				found = true
				obj, ok := rec.Obj.(map[string]any)
				require.True(t, ok)
				require.Equal(t, "irc.example.org", obj["host"])
				require.Equal(t, "#go", obj["chan"])
			}
		}
		require.True(t, found)
	case <-time.After(2 * time.Second):
		t.Fatal("long poll never resolved")
	}
}
