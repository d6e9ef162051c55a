package storage

import "context"

// Session records one authenticated connection for the lifetime of its
// session token.
type Session struct {
	Token       string `json:"token"`
	ConnID      string `json:"conn_id"`
	ClientName  string `json:"client_name"`
	Address     string `json:"address"`
	ConnectedAt int64  `json:"connected_at"`
}

// Update is pushed to listeners whenever a session is stored or removed.
type Update struct {
	Token   string
	Session *Session
	Removed bool
}

// Store keeps the live session table. Implementations must be safe for
// concurrent use by the accept supervisor and the admin surface.
type Store interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, token string) (*Session, error)
	Remove(ctx context.Context, token string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
