package controller

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/bouncer/pkg/irc"
)

// NetworkSnapshot is the durable, restart-surviving description of one
// network: host, nick, joined channel names plus their join secrets, and the
// effective connection options. Roster/topic/mode state is never persisted;
// the protocol rebuilds it after reconnect.
type NetworkSnapshot struct {
	Host  string            `json:"host"`
	Nick  string            `json:"nick"`
	Chans []string          `json:"chans"`
	Keys  map[string]string `json:"keys,omitempty"`
	Opts  irc.Options       `json:"opts,omitempty"`
}

// Serialize walks the registry into an ordered snapshot list.
func (c *Controller) Serialize() []NetworkSnapshot {
	c.mu.Lock()
	networks := make([]*irc.Network, 0, len(c.networks))
	for _, n := range c.networks {
		networks = append(networks, n)
	}
	c.mu.Unlock()

	snaps := make([]NetworkSnapshot, 0, len(networks))
	for _, n := range networks {
		snap := NetworkSnapshot{
			Host: n.Host(),
			Nick: n.Nick(),
			Opts: n.Options(),
		}
		for _, ch := range n.Channels() {
			snap.Chans = append(snap.Chans, ch.Name())
			if key := ch.Key(); key != "" {
				if snap.Keys == nil {
					snap.Keys = map[string]string{}
				}
				snap.Keys[ch.Name()] = key
			}
		}
		sort.Strings(snap.Chans)
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Host < snaps[j].Host })
	return snaps
}

// Deserialize reconnects every snapshot entry concurrently, layering each
// entry's options over the controller defaults, and rejoins its channels
// once the network is ready. Entries are independent: one failing neither
// blocks nor fails the others. Returns once every entry finished its
// attempt.
func (c *Controller) Deserialize(ctx context.Context, snaps []NetworkSnapshot) {
	var wg sync.WaitGroup
	for _, snap := range snaps {
		wg.Add(1)
		go func(snap NetworkSnapshot) {
			defer wg.Done()
			if err := c.Connect(ctx, snap.Host, snap.Nick, snap.Opts); err != nil {
				log.Warn().Err(err).Str("host", snap.Host).Msg("restoring network failed")
				return
			}
			for _, name := range snap.Chans {
				if err := c.Join(snap.Host, name, snap.Keys[name]); err != nil {
					log.Warn().Err(err).Str("host", snap.Host).Str("chan", name).Msg("rejoining channel failed")
				}
			}
		}(snap)
	}
	wg.Wait()
}
