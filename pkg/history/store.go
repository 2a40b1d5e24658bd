// Package history keeps a durable log of channel messages the bouncer has
// seen, both inbound and sent on behalf of the operator.
package history

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type Store struct {
	db *sql.DB
}

// Message is one logged channel line.
type Message struct {
	Host    string    `json:"host"`
	Channel string    `json:"chan"`
	Nick    string    `json:"nick"`
	Text    string    `json:"msg"`
	SentAt  time.Time `json:"sent_at"`
}

// Open opens (or creates) the backlog database at dsn.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open history db")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			channel TEXT NOT NULL,
			nick TEXT NOT NULL,
			body TEXT NOT NULL,
			sent_at_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_host_channel_id
			ON messages (host, channel, id);
	`)
	return errors.Wrap(err, "migrate history db")
}

func (s *Store) Append(ctx context.Context, host, channel, nick, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (host, channel, nick, body, sent_at_ms)
		VALUES (?, ?, ?, ?, ?)
	`, host, channel, nick, text, time.Now().UnixMilli())
	return errors.Wrap(err, "append message")
}

// Recent returns the last limit messages for a channel, oldest first.
func (s *Store) Recent(ctx context.Context, host, channel string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT host, channel, nick, body, sent_at_ms FROM messages
		WHERE host = ? AND channel = ?
		ORDER BY id DESC LIMIT ?
	`, host, channel, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var sentAtMs int64
		if err := rows.Scan(&m.Host, &m.Channel, &m.Nick, &m.Text, &sentAtMs); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		m.SentAt = time.UnixMilli(sentAtMs)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}

	// the query walks newest-first; flip to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
