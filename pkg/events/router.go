package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Publisher is the narrow surface the controller needs to emit events.
type Publisher interface {
	PublishEvent(topic string, ev Event) error
}

// EventRouter owns the watermill router plus the publisher/subscriber pair
// carrying bouncer events. By default it runs on an in-process gochannel
// Pub/Sub; a Redis Streams pair can be injected instead.
type EventRouter struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	router *message.Router
	logger watermill.LoggerAdapter
}

var _ Publisher = (*EventRouter)(nil)

type EventRouterOption func(*EventRouter)

func WithPublisher(pub message.Publisher) EventRouterOption {
	return func(r *EventRouter) {
		r.Publisher = pub
	}
}

func WithSubscriber(sub message.Subscriber) EventRouterOption {
	return func(r *EventRouter) {
		r.Subscriber = sub
	}
}

func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = NewWatermillLogger(log.Logger, verbose)
	}
}

// NewEventRouter builds a router; without explicit publisher/subscriber
// options it wires both ends to a single gochannel Pub/Sub.
func NewEventRouter(opts ...EventRouterOption) (*EventRouter, error) {
	r := &EventRouter{
		logger: NewWatermillLogger(log.Logger, false),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.Publisher == nil || r.Subscriber == nil {
		pubsub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 128,
		}, r.logger)
		r.Publisher = pubsub
		r.Subscriber = pubsub
	}

	router, err := message.NewRouter(message.RouterConfig{}, r.logger)
	if err != nil {
		return nil, errors.Wrap(err, "create watermill router")
	}
	r.router = router

	return r, nil
}

// AddHandler subscribes f to topic under the given handler name. Must be
// called before Run.
func (r *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) {
	r.router.AddNoPublisherHandler(name, topic, r.Subscriber, f)
}

// PublishEvent serializes ev and publishes it on topic.
func (r *EventRouter) PublishEvent(topic string, ev Event) error {
	payload, err := ev.marshal()
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(r.Publisher.Publish(topic, msg), "publish event")
}

// Run starts the router and blocks until ctx is cancelled.
func (r *EventRouter) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are up; publish after it to avoid
// losing events on an in-process transport.
func (r *EventRouter) Running() <-chan struct{} {
	return r.router.Running()
}

func (r *EventRouter) Close() error {
	return r.router.Close()
}
