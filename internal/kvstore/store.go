// Package kvstore provides the externally addressable, TTL-scoped storage
// behind the Session Store and the Dedup Ledger. Backends are selected by
// DSN scheme; get/set/delete and a single atomic check-and-set are the only
// operations.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/fleetworks/invoicebot/internal/intake"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

const (
	DefaultSessionTTL = 6 * time.Hour
	DefaultDedupTTL   = 72 * time.Hour
)

// Store combines the session and dedup surfaces; both live in the same
// backend so one DSN configures the whole shared state.
type Store interface {
	GetDraft(ctx context.Context, chatID int64) (*intake.Draft, error)
	SetDraft(ctx context.Context, chatID int64, d *intake.Draft) error
	DeleteDraft(ctx context.Context, chatID int64) error

	// Seen atomically records key with the dedup TTL and reports whether a
	// live record already existed. Expired keys are reclaimed.
	Seen(ctx context.Context, key string) (bool, error)

	// Committed reports whether a live record exists without claiming the
	// key.
	Committed(ctx context.Context, key string) (bool, error)

	Close() error
}

// Options tune the TTL bounds shared by every backend.
type Options struct {
	SessionTTL time.Duration
	DedupTTL   time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = DefaultDedupTTL
	}
	return o
}
