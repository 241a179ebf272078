package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNoopSweepLeaseAlwaysGrants(t *testing.T) {
	var lease SweepLease = NoopSweepLease{}

	release, acquired, err := lease.TryAcquire(context.Background(), "retention:sweep:user", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
	require.NotNil(t, release)
	release()

	_, acquired, err = lease.TryAcquire(context.Background(), "retention:sweep:user", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "the noop lease never blocks anyone")
}

func TestNewSweepLeaseWithoutRedisFallsBack(t *testing.T) {
	lease := NewSweepLease(nil, zap.NewNop())
	assert.IsType(t, NoopSweepLease{}, lease)
}
