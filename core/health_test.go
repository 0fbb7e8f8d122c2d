package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestHealth(t *testing.T, loaded bool) *HealthMonitor {
	t.Helper()
	log := zap.NewNop().Sugar()
	reg := NewRegistry(&memLoader{gen: validGeneration()}, log)
	if loaded {
		_, err := reg.Reload()
		require.NoError(t, err)
	}
	return NewHealthMonitor(reg, NewPoolRegistry(reg, log), log)
}

func TestHealth_OverallDownBeforeFirstLoad(t *testing.T) {
	m := newTestHealth(t, false)
	assert.Equal(t, StatusDown, m.Overall(context.Background()))
}

func TestHealth_OverallDownWhenConfigFailed(t *testing.T) {
	m := newTestHealth(t, true)
	m.SetConfigFailed(true)
	assert.Equal(t, StatusDown, m.Overall(context.Background()))

	m.SetConfigFailed(false)
	assert.NotEqual(t, StatusDown, m.Overall(context.Background()))
}

func TestHealth_ProbeFailureIsDegradedAndCached(t *testing.T) {
	m := newTestHealth(t, true)

	// no real database behind the descriptor: the probe fails
	h := m.Check(context.Background(), "main-db")
	assert.Equal(t, StatusDown, h.Status)
	assert.NotEmpty(t, h.Message)

	// a second check within the TTL serves the cached result
	again := m.Check(context.Background(), "main-db")
	assert.Equal(t, h.CheckedAt, again.CheckedAt)

	assert.Equal(t, StatusDegraded, m.Overall(context.Background()))
}

func TestHealth_Liveness(t *testing.T) {
	m := newTestHealth(t, true)

	rep := m.Liveness()
	assert.True(t, rep.Alive)
	assert.Greater(t, rep.Goroutines, 0)
	assert.GreaterOrEqual(t, rep.Memory, 0.0)
	assert.LessOrEqual(t, rep.Memory, 1.0)
}

func TestHealth_ReadinessReportsFailingDatabase(t *testing.T) {
	m := newTestHealth(t, true)

	rep := m.Readiness(context.Background())
	assert.False(t, rep.Ready)
	assert.Contains(t, rep.Checks, "database:main-db")
	require.Len(t, rep.Databases, 1)
}

func TestMemoryUsage_Bounded(t *testing.T) {
	u := memoryUsage()
	assert.GreaterOrEqual(t, u, 0.0)
	assert.LessOrEqual(t, u, 1.0)
}
