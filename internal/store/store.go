// File: internal/store/store.go
// Description: Storage abstractions for sessions, execution history and the
// recovery archive. Engine logic depends only on these interfaces so a
// persistence backend can be swapped without touching it.
package store

import (
	"context"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

// SessionStore holds the active session set keyed by id.
type SessionStore interface {
	Save(ctx context.Context, session *schemas.Session) error
	Get(ctx context.Context, id string) (*schemas.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*schemas.Session, error)
}

// HistoryStore is the append-only per-session execution log. It is retained
// for the process lifetime or until explicitly cleared.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, result schemas.StepResult) error
	Get(ctx context.Context, sessionID string) ([]schemas.StepResult, error)
	Clear(ctx context.Context, sessionID string) error
}

// RecoveryStore retains terminal sessions after they leave the active set.
type RecoveryStore interface {
	Archive(ctx context.Context, session *schemas.Session, history []schemas.StepResult) error
}

// NopRecoveryStore discards archives. Used when no database is configured.
type NopRecoveryStore struct{}

// Archive implements RecoveryStore.
func (NopRecoveryStore) Archive(context.Context, *schemas.Session, []schemas.StepResult) error {
	return nil
}

// GatedRecoveryStore suspends archiving while the disabled switch is set, so
// a storage outage degrades to memory-only retention instead of failing
// every termination. The switch is typically the memory_store_only toggle
// flipped by the storage_unavailable degradation strategy.
type GatedRecoveryStore struct {
	Inner    RecoveryStore
	Disabled func() bool
}

// Archive implements RecoveryStore.
func (g GatedRecoveryStore) Archive(ctx context.Context, session *schemas.Session, history []schemas.StepResult) error {
	if g.Disabled != nil && g.Disabled() {
		return nil
	}
	return g.Inner.Archive(ctx, session, history)
}
