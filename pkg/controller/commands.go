package controller

import (
	"context"

	"github.com/pkg/errors"

	"github.com/go-go-golems/bouncer/pkg/irc"
)

// HandleCommand dispatches one method call from the HTTP bus. Argument types
// are validated before any state is touched; a rejection leaves the registry
// unchanged.
func (c *Controller) HandleCommand(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	switch name {
	case "network_connect":
		host, err := stringArg(params, "host")
		if err != nil {
			return nil, err
		}
		nick, err := stringArg(params, "nick")
		if err != nil {
			return nil, err
		}
		opts, _ := params["opts"].(map[string]any)
		return nil, c.Connect(ctx, host, nick, irc.Options(opts))

	case "network_disconnect", "network_remove":
		host, err := stringArg(params, "host")
		if err != nil {
			return nil, err
		}
		msg, _ := params["msg"].(string)
		return nil, c.Disconnect(host, msg)

	case "channel_join":
		host, err := stringArg(params, "host")
		if err != nil {
			return nil, err
		}
		channel, err := stringArg(params, "chan")
		if err != nil {
			return nil, err
		}
		pass, _ := params["pass"].(string)
		return nil, c.Join(host, channel, pass)

	case "channel_part":
		host, err := stringArg(params, "host")
		if err != nil {
			return nil, err
		}
		channel, err := stringArg(params, "chan")
		if err != nil {
			return nil, err
		}
		msg, _ := params["msg"].(string)
		return nil, c.Part(host, channel, msg)

	case "channel_say":
		host, err := stringArg(params, "host")
		if err != nil {
			return nil, err
		}
		channel, err := stringArg(params, "chan")
		if err != nil {
			return nil, err
		}
		msg, err := stringArg(params, "msg")
		if err != nil {
			return nil, err
		}
		return nil, c.Say(host, channel, msg)

	case "state":
		return map[string]any{"networks": c.State()}, nil

	default:
		return nil, errors.Errorf("No such method: %s", name)
	}
}

func stringArg(params map[string]any, name string) (string, error) {
	v, ok := params[name].(string)
	if !ok {
		return "", errors.Errorf("expected %s to be string, got %T", name, params[name])
	}
	return v, nil
}
