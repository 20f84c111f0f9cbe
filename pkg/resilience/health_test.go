package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitor_RecordOutcome_ClassifiesByRollingSuccessRate(t *testing.T) {
	m := NewHealthMonitor(nil, nil, time.Minute, time.Second)

	for i := 0; i < 9; i++ {
		m.RecordOutcome("web-scraper", true, 10*time.Millisecond)
	}
	m.RecordOutcome("web-scraper", false, 10*time.Millisecond)

	assert.Equal(t, LevelHealthy, m.Level("web-scraper"))

	for i := 0; i < 15; i++ {
		m.RecordOutcome("web-scraper", false, 10*time.Millisecond)
	}
	assert.Equal(t, LevelCritical, m.Level("web-scraper"))
}

func TestHealthMonitor_Level_DefaultsHealthyWhenUnrecorded(t *testing.T) {
	m := NewHealthMonitor(nil, nil, time.Minute, time.Second)
	assert.Equal(t, LevelHealthy, m.Level("never-seen"))
}

func TestHealthMonitor_OpenBreakerForcesCritical(t *testing.T) {
	breakers := NewBreakerRegistry(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	m := NewHealthMonitor(nil, breakers, time.Minute, time.Second)

	key := Key("security-scan", "")
	require.Error(t, breakers.Execute(context.Background(), key, func() error { return errors.New("down") }))

	m.RecordOutcome(key, true, time.Millisecond) // even a success can't outrun an open breaker
	assert.Equal(t, LevelCritical, m.Level(key))
}

func TestHealthMonitor_CheckAllPing_FeedsSameClassification(t *testing.T) {
	m := NewHealthMonitor(map[string]Pinger{"tech-detect": pingerFunc(func(context.Context) error { return nil })}, nil, time.Hour, time.Second)
	m.checkAll(context.Background())

	statuses := m.Statuses()
	require.Contains(t, statuses, "tech-detect")
	assert.True(t, statuses["tech-detect"].Healthy)
	assert.Equal(t, LevelHealthy, statuses["tech-detect"].Level)
}

func TestHealthMonitor_Ready_TrueWhenNothingProbedYet(t *testing.T) {
	m := NewHealthMonitor(nil, nil, time.Minute, time.Second)
	assert.True(t, m.Ready())
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
