// Package comm is the HTTP command/event bus: it authenticates clients,
// dispatches commands to a handler, and fans broadcast events out to
// long-poll listeners and websocket subscribers.
package comm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/bouncer/pkg/events"
	"github.com/go-go-golems/bouncer/pkg/keyring"
)

// CommandHandler resolves one method/{name} call to a result object or an
// error. Exactly one of the two is surfaced to the HTTP client.
type CommandHandler interface {
	HandleCommand(ctx context.Context, name string, params map[string]any) (map[string]any, error)
}

// GetHandlerFunc serves the get/ escape hatch; args are the path segments
// after "get".
type GetHandlerFunc func(w http.ResponseWriter, r *http.Request, args []string)

// UploadHandlerFunc receives a consumed upload: the metadata bound at
// initupload time plus the raw request body.
type UploadHandlerFunc func(meta string, body []byte) error

const maxBodyBytes = 16 << 20

// Comm owns the keyrings and the set of event listeners and routes every
// request by its leading path segment.
type Comm struct {
	pass       string
	keys       *keyring.KeyRing
	uploadKeys *keyring.KeyRing

	commands CommandHandler
	get      GetHandlerFunc
	upload   UploadHandlerFunc

	mu           sync.Mutex
	listeners    map[int]*Listener
	nextListener int
	wsConns      map[*wsConn]struct{}

	upgrader websocket.Upgrader
}

type Option func(*Comm)

func WithCommandHandler(h CommandHandler) Option {
	return func(c *Comm) {
		c.commands = h
	}
}

func WithGetHandler(f GetHandlerFunc) Option {
	return func(c *Comm) {
		c.get = f
	}
}

func WithUploadHandler(f UploadHandlerFunc) Option {
	return func(c *Comm) {
		c.upload = f
	}
}

// WithUploadTokenTTL overrides the one-minute default expiry of one-shot
// upload tokens.
func WithUploadTokenTTL(ttl time.Duration) Option {
	return func(c *Comm) {
		c.uploadKeys = keyring.New(keyring.WithTTL(ttl), keyring.WithKeyBytes(32))
	}
}

func NewComm(pass string, opts ...Option) *Comm {
	c := &Comm{
		pass:       pass,
		keys:       keyring.New(),
		uploadKeys: keyring.New(keyring.WithTTL(time.Minute), keyring.WithKeyBytes(32)),
		listeners:  map[int]*Listener{},
		wsConns:    map[*wsConn]struct{}{},
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AttachRouter subscribes the comm broadcast to the event stream: every
// event published on topic reaches every listener and websocket client.
func (c *Comm) AttachRouter(router *events.EventRouter, topic string) {
	router.AddHandler("comm-broadcast", topic, func(msg *message.Message) error {
		ev, err := events.ParseEvent(msg)
		if err != nil {
			return err
		}
		c.SendMessage(ev.Name, ev.Payload())
		return nil
	})
}

// SendMessage pushes an event onto every registered listener, attached or
// not, and to every websocket subscriber.
func (c *Comm) SendMessage(name string, obj any) {
	rec := EventRecord{Name: name, Obj: obj}

	c.mu.Lock()
	listeners := make([]*Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	conns := make([]*wsConn, 0, len(c.wsConns))
	for conn := range c.wsConns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l.Push(rec)
	}
	for _, conn := range conns {
		if err := conn.writeJSON(rec); err != nil {
			log.Debug().Err(err).Msg("websocket write failed, dropping subscriber")
			c.removeWSConn(conn)
		}
	}
}

func (c *Comm) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	args := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	verb := args[0]

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, errors.Wrap(err, "read body"))
		return
	}

	// the upload body is an opaque blob; everything else is JSON
	body := map[string]any{}
	if verb != "upload" && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			log.Debug().Err(err).Str("verb", verb).Msg("malformed request body")
			writeError(w, err)
			return
		}
	}

	key, _ := body["key"].(string)
	if key == "" {
		key = r.URL.Query().Get("key")
	}

	if authRequired(verb) && !c.keys.Validate(key) {
		writeError(w, errors.New("Not logged in."))
		return
	}

	switch verb {
	case "login":
		c.handleLogin(w, body)
	case "validate":
		writeJSON(w, map[string]any{"valid": c.keys.Validate(key)})
	case "register":
		c.handleRegister(w)
	case "event":
		c.handleEvent(w, r, args)
	case "method":
		c.handleMethod(w, r, args, body)
	case "get":
		c.handleGet(w, r, args)
	case "initupload":
		c.handleInitUpload(w, body)
	case "upload":
		c.handleUpload(w, args, raw)
	case "ws":
		c.handleWS(w, r)
	default:
		writeError(w, errors.New("Method doesn't exist"))
	}
}

// authRequired is the uniform rule: everything needs a session key except
// login, validate and the one-shot upload consumption (which carries its own
// token in the path).
func authRequired(verb string) bool {
	switch verb {
	case "login", "validate", "upload":
		return false
	}
	return true
}

func (c *Comm) handleLogin(w http.ResponseWriter, body map[string]any) {
	pass, _ := body["pass"].(string)
	if c.pass == "" || pass != c.pass {
		writeError(w, errors.New("Invalid key."))
		return
	}
	key, err := c.keys.Issue(nil)
	if err != nil {
		log.Error().Err(err).Msg("issuing session key failed")
		writeError(w, errors.New("Invalid key."))
		return
	}
	writeJSON(w, map[string]any{"key": key})
}

func (c *Comm) handleRegister(w http.ResponseWriter) {
	c.mu.Lock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = NewListener()
	c.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strconv.Itoa(id)))
}

func (c *Comm) handleEvent(w http.ResponseWriter, r *http.Request, args []string) {
	if len(args) < 2 {
		writeError(w, errors.New("Listener not registered."))
		return
	}
	id, err := strconv.Atoi(args[1])
	c.mu.Lock()
	listener, ok := c.listeners[id]
	c.mu.Unlock()
	if err != nil || !ok {
		writeError(w, errors.Errorf("Listener %s not registered.", args[1]))
		return
	}

	batch, delivered := listener.Attach(r.Context().Done())
	if !delivered {
		// poller went away before anything arrived; events stay queued
		return
	}
	writeJSON(w, batch)
}

func (c *Comm) handleMethod(w http.ResponseWriter, r *http.Request, args []string, body map[string]any) {
	if c.commands == nil {
		writeError(w, errors.New("Method doesn't exist"))
		return
	}
	if len(args) < 2 {
		writeError(w, errors.New("Method doesn't exist"))
		return
	}
	name := args[1]

	result, err := c.commands.HandleCommand(r.Context(), name, body)
	if err != nil {
		log.Debug().Err(err).Str("method", name).Msg("command rejected")
		writeError(w, err)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	result["success"] = true
	writeJSON(w, result)
}

func (c *Comm) handleGet(w http.ResponseWriter, r *http.Request, args []string) {
	if c.get == nil {
		writeError(w, errors.New("Method doesn't exist"))
		return
	}
	c.get(w, r, args[1:])
}

func (c *Comm) handleInitUpload(w http.ResponseWriter, body map[string]any) {
	meta, _ := body["data"].(string)
	token, err := c.uploadKeys.Issue(meta)
	if err != nil {
		log.Error().Err(err).Msg("issuing upload token failed")
		writeError(w, errors.New("Invalid key."))
		return
	}
	writeJSON(w, map[string]any{"key": token})
}

func (c *Comm) handleUpload(w http.ResponseWriter, args []string, raw []byte) {
	if len(args) < 2 {
		writeError(w, errors.New("Invalid key."))
		return
	}
	// one-shot: the token is consumed before the handler runs, a retry fails
	payload, ok := c.uploadKeys.Take(args[1])
	if !ok {
		writeError(w, errors.New("Invalid key."))
		return
	}

	meta, _ := payload.(string)
	if c.upload == nil {
		writeError(w, errors.New("Method doesn't exist"))
		return
	}
	if err := c.upload(meta, raw); err != nil {
		log.Error().Err(err).Msg("upload handler failed")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, obj any) {
	w.Header().Set("Content-Type", "application/json")
	buf, err := json.Marshal(obj)
	if err != nil {
		log.Error().Err(err).Msg("encoding response failed")
		_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
		return
	}
	_, _ = w.Write(append(buf, '\n'))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, map[string]any{"error": err.Error()})
}
