package irc

import "sync"

// State of a network connection. There is no reconnecting state: a dropped
// network stays disconnected until an explicit connect or process restart.
type State string

const (
	StateConnecting   State = "connecting"
	StateReady        State = "ready"
	StateDisconnected State = "disconnected"
)

// Network is one persistent connection to a chat service: the client handle,
// its joined channels, and the options it was opened with.
type Network struct {
	mu sync.RWMutex

	host   string
	nick   string
	opts   Options
	client Client

	state    State
	channels map[string]*Channel
}

// NetworkState is a read-only snapshot of a network and its channels.
type NetworkState struct {
	Host     string         `json:"host"`
	Nick     string         `json:"nick"`
	State    State          `json:"state"`
	Channels []ChannelState `json:"channels"`
}

func NewNetwork(host, nick string, opts Options, client Client) *Network {
	return &Network{
		host:     host,
		nick:     nick,
		opts:     opts,
		client:   client,
		state:    StateConnecting,
		channels: map[string]*Channel{},
	}
}

func (n *Network) Host() string     { return n.host }
func (n *Network) Nick() string     { return n.nick }
func (n *Network) Options() Options { return n.opts }
func (n *Network) Client() Client   { return n.client }

func (n *Network) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Network) SetState(s State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = s
}

func (n *Network) Channel(name string) (*Channel, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ch, ok := n.channels[name]
	return ch, ok
}

func (n *Network) AddChannel(ch *Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[ch.Name()] = ch
}

func (n *Network) RemoveChannel(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.channels, name)
}

func (n *Network) Channels() []*Channel {
	n.mu.RLock()
	defer n.mu.RUnlock()
	chans := make([]*Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		chans = append(chans, ch)
	}
	return chans
}

// Apply folds one asynchronous client event into channel state. Events for
// channels that were never joined are ignored; the roster is rebuilt by the
// protocol library, never persisted.
func (n *Network) Apply(ev ClientEvent) {
	ch, ok := n.Channel(ev.Channel)
	if !ok {
		return
	}
	switch ev.Kind {
	case EventJoin:
		ch.AddUser(ev.Nick)
	case EventPart:
		ch.RemoveUser(ev.Nick)
	case EventNames:
		ch.SetNames(ev.Names)
	case EventTopic:
		ch.SetTopic(ev.Text)
	case EventMode:
		ch.SetMode(ev.Text)
	}
}

// Snapshot walks the network's channels into a NetworkState.
func (n *Network) Snapshot() NetworkState {
	n.mu.RLock()
	chans := make([]*Channel, 0, len(n.channels))
	for _, ch := range n.channels {
		chans = append(chans, ch)
	}
	state := n.state
	n.mu.RUnlock()

	st := NetworkState{
		Host:     n.host,
		Nick:     n.nick,
		State:    state,
		Channels: make([]ChannelState, 0, len(chans)),
	}
	for _, ch := range chans {
		st.Channels = append(st.Channels, ch.State())
	}
	return st
}
