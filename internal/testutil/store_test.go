package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PengC8899/didi-bot/internal/store"
)

func TestNewStore_Usable(t *testing.T) {
	s := NewStore(t)

	orders, err := s.ListOrders(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestNewClock_StartsAtEpoch(t *testing.T) {
	c := NewClock()
	assert.Equal(t, Epoch, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, Epoch.Add(time.Minute), c.Now())
}
