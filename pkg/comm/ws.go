package comm

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsConn wraps a websocket connection with a write lock; gorilla allows only
// one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// handleWS upgrades the request and streams every broadcast event as one
// JSON frame, same record shape as the long-poll batches. Auth happened in
// ServeHTTP before dispatch (key query parameter).
func (c *Comm) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	wc := &wsConn{conn: conn}
	c.mu.Lock()
	c.wsConns[wc] = struct{}{}
	c.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket subscriber attached")

	// drain the reader to notice the peer going away
	go func() {
		defer c.removeWSConn(wc)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (c *Comm) removeWSConn(wc *wsConn) {
	c.mu.Lock()
	_, ok := c.wsConns[wc]
	delete(c.wsConns, wc)
	c.mu.Unlock()
	if ok {
		_ = wc.conn.Close()
	}
}
