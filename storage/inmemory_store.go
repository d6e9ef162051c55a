package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// InmemoryStore keeps the session table as a single JSON document keyed by
// session token.
type InmemoryStore struct {
	mu     sync.Mutex
	values []byte

	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	if i.isRunning() {
		close(i.stop)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}
	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Put(ctx context.Context, session Session) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.SetBytes(i.values, escapeToken(session.Token), session)
	if err != nil {
		return fmt.Errorf("Failed to store session %s: %w", session.Token, err)
	}

	i.notify(&Update{Token: session.Token, Session: &session})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, token string) (*Session, error) {
	i.mu.Lock()
	result := gjson.GetBytes(i.values, escapeToken(token))
	i.mu.Unlock()

	if !result.Exists() {
		return nil, nil
	}

	var session Session
	if err := json.Unmarshal([]byte(result.Raw), &session); err != nil {
		return nil, err
	}

	return &session, nil
}

func (i *InmemoryStore) Remove(ctx context.Context, token string) (err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.values, err = sjson.DeleteBytes(i.values, escapeToken(token))
	if err != nil {
		return err
	}

	i.notify(&Update{Token: token, Removed: true})

	return nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, 255)
	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(values) == 0 {
		values = []byte("{}")
	}

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) notify(update *Update) {
	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
			// A listener that stopped draining does not block the store.
		}
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// escapeToken neutralises gjson path syntax in tokens. Tokens are UUIDs in
// practice, but the store does not depend on that.
func escapeToken(token string) string {
	out := make([]byte, 0, len(token))
	for i := 0; i < len(token); i++ {
		switch token[i] {
		case '.', '*', '?', '\\', '|', '#', '@':
			out = append(out, '\\')
		}
		out = append(out, token[i])
	}

	return string(out)
}

var _ Store = (*InmemoryStore)(nil)
