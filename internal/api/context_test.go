package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"election-sim/internal/election"
)

func TestCtxKey(t *testing.T) {
	ctx := SetCtxKey(context.Background(), nodeIDKey, election.NodeID(3))

	id, ok := GetCtxKey(ctx, nodeIDKey)
	assert.True(t, ok)
	assert.Equal(t, election.NodeID(3), id)

	t.Run("keys with the same name but different types do not collide", func(t *testing.T) {
		other := NewCtxKey[string]("node-id")
		_, ok := GetCtxKey(ctx, other)
		assert.False(t, ok)
	})

	t.Run("missing value", func(t *testing.T) {
		_, ok := GetCtxKey(context.Background(), nodeIDKey)
		assert.False(t, ok)
	})

	assert.Equal(t, "Key[election.NodeID](node-id)", nodeIDKey.String())
}
