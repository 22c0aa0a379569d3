package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

func TestLoadWorkOrderScopesByTenant(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	wo := newWorkOrder("wo-1", "t1", t0)
	require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.InsertWorkOrder(ctx, wo) }))

	require.NoError(t, s.Update(ctx, func(tx Tx) error {
		got, err := LoadWorkOrder(ctx, tx, contracts.Actor{ID: "u1", TenantID: "t1"}, "wo-1", true)
		require.NoError(t, err)
		assert.Equal(t, "wo-1", got.ID)

		_, err = LoadWorkOrder(ctx, tx, contracts.Actor{ID: "u2", TenantID: "t2"}, "wo-1", false)
		var nf *contracts.NotFoundError
		assert.True(t, errors.As(err, &nf))

		_, err = LoadWorkOrder(ctx, tx, contracts.Actor{}, "missing", false)
		assert.True(t, errors.As(err, &nf))
		assert.Equal(t, "missing", nf.ID)
		return nil
	}))
}

func TestAsNotFound(t *testing.T) {
	other := fmt.Errorf("boom")
	assert.Same(t, other, AsNotFound(other, "pack", "p1"))
	var nf *contracts.NotFoundError
	require.True(t, errors.As(AsNotFound(fmt.Errorf("wrap: %w", ErrNotFound), "pack", "p1"), &nf))
	assert.Equal(t, "pack", nf.Kind)
}
