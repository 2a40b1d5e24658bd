package events

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// Topic is the stream all normalized bouncer events are published to.
const Topic = "bouncer.events"

// Event is one normalized notification about bouncer activity: a network
// came up or went away, a channel was joined or parted, a message arrived.
// Every client session observes the same stream regardless of which session
// issued the command that caused it.
type Event struct {
	Name    string `json:"name"`
	Host    string `json:"host,omitempty"`
	Channel string `json:"chan,omitempty"`
	Nick    string `json:"nick,omitempty"`
	Text    string `json:"msg,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Payload returns the event body as delivered to pollers, without the name
// (the name travels alongside it in the event record).
func (e Event) Payload() map[string]any {
	obj := map[string]any{}
	if e.Host != "" {
		obj["host"] = e.Host
	}
	if e.Channel != "" {
		obj["chan"] = e.Channel
	}
	if e.Nick != "" {
		obj["nick"] = e.Nick
	}
	if e.Text != "" {
		obj["msg"] = e.Text
	}
	if e.Error != "" {
		obj["error"] = e.Error
	}
	return obj
}

func (e Event) marshal() ([]byte, error) {
	payload, err := json.Marshal(e)
	return payload, errors.Wrap(err, "encode event payload")
}

// ParseEvent decodes an event from a watermill message payload.
func ParseEvent(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, errors.Wrap(err, "decode event payload")
	}
	if ev.Name == "" {
		return Event{}, errors.New("event has no name")
	}
	return ev, nil
}
