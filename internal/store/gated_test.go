// File: internal/store/gated_test.go
package store

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

type countingRecoveryStore struct {
	archived atomic.Int32
}

func (c *countingRecoveryStore) Archive(context.Context, *schemas.Session, []schemas.StepResult) error {
	c.archived.Add(1)
	return nil
}

func TestGatedRecoveryStoreSkipsArchiveWhileDisabled(t *testing.T) {
	inner := &countingRecoveryStore{}
	var disabled atomic.Bool
	gated := GatedRecoveryStore{Inner: inner, Disabled: disabled.Load}
	sess := &schemas.Session{ID: "s1"}
	ctx := context.Background()

	require.NoError(t, gated.Archive(ctx, sess, nil))
	assert.Equal(t, int32(1), inner.archived.Load())

	disabled.Store(true)
	require.NoError(t, gated.Archive(ctx, sess, nil))
	assert.Equal(t, int32(1), inner.archived.Load(), "archiving is suspended while degraded")

	disabled.Store(false)
	require.NoError(t, gated.Archive(ctx, sess, nil))
	assert.Equal(t, int32(2), inner.archived.Load())
}
