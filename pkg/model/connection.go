package model

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Connection represents one client of the scheduler. Atoms belong to exactly
// one connection; cancelling the connection withdraws all of its atoms.
type Connection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	cancelled atomic.Bool
}

// NewConnection creates a connection with a fresh conn_-prefixed ID.
func NewConnection(name string) *Connection {
	return &Connection{
		ID:        "conn_" + uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// Cancel marks the connection as cancelled. Safe to call from any goroutine;
// the scheduler additionally checks the flag before promoting queued atoms,
// so atoms enqueued after cancellation never run.
func (c *Connection) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether the connection has been cancelled.
func (c *Connection) Cancelled() bool {
	return c.cancelled.Load()
}
