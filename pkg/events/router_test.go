package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"
)

func TestEventRouterDeliversPublishedEvents(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	got := make(chan Event, 4)
	router.AddHandler("test-handler", Topic, func(msg *message.Message) error {
		ev, err := ParseEvent(msg)
		if err != nil {
			return err
		}
		got <- ev
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()
	defer func() { _ = router.Close() }()

	require.NoError(t, router.PublishEvent(Topic, Event{Name: "network_connect", Host: "irc.example.org"}))

	select {
	case ev := <-got:
		require.Equal(t, "network_connect", ev.Name)
		require.Equal(t, "irc.example.org", ev.Host)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestParseEventRejectsNameless(t *testing.T) {
	_, err := ParseEvent(message.NewMessage("id", []byte(`{"host":"h"}`)))
	require.Error(t, err)

	_, err = ParseEvent(message.NewMessage("id", []byte(`not json`)))
	require.Error(t, err)
}

func TestEventPayloadOmitsName(t *testing.T) {
	ev := Event{Name: "channel_join", Host: "h", Channel: "#go", Nick: "alice"}
	require.Equal(t, map[string]any{
		"host": "h",
		"chan": "#go",
		"nick": "alice",
	}, ev.Payload())
}
