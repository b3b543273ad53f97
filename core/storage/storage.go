// Package storage defines the persistence contract for menu sessions.
// A Record is a snapshot of one chat: the stacked menu labels and the
// inline app messages that are still alive. Adapters for memory, bbolt,
// Postgres and Redis live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when no record exists for the chat.
var ErrNotFound = errors.New("storage: session not found")

// AppMessage is the persisted form of one live inline message.
type AppMessage struct {
	Label      string        `json:"label"`
	MessageID  int           `json:"message_id"`
	Content    string        `json:"content"`
	Buttons    []string      `json:"buttons,omitempty"`
	SentAt     time.Time     `json:"sent_at"`
	LastActive time.Time     `json:"last_active"`
	Expiry     time.Duration `json:"expiry"`
}

// Record is the persisted state of one chat session.
// Menus holds screen labels from home (first) to the current menu (last).
type Record struct {
	ChatID    int64        `json:"chat_id"`
	SessionID uuid.UUID    `json:"session_id"`
	Menus     []string     `json:"menus"`
	Messages  []AppMessage `json:"messages,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store persists session records keyed by chat id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put inserts or replaces the record for rec.ChatID.
	Put(ctx context.Context, rec Record) error
	// Get returns the record for the chat or ErrNotFound.
	Get(ctx context.Context, chatID int64) (Record, error)
	// Delete removes the record for the chat. Missing records are not an error.
	Delete(ctx context.Context, chatID int64) error
	// List returns all stored records in no particular order.
	List(ctx context.Context) ([]Record, error)
	// Close releases any resources held by the store.
	Close() error
}
