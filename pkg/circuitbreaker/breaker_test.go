package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) SetBreakerState(_ string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestDo_PassesThroughResult(t *testing.T) {
	cb, err := New(testConfig("ok"), nil)
	require.NoError(t, err)

	got, err := Do(context.Background(), cb, func() (string, error) { return "hello", nil })
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.True(t, cb.IsClosed())
}

func TestDo_OpensAfterConsecutiveFailures(t *testing.T) {
	cb, err := New(testConfig("flaky"), nil)
	require.NoError(t, err)
	log := &stateLog{}
	cb.SetObserver(log)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := Do(context.Background(), cb, func() (int, error) { return 0, boom })
		assert.ErrorIs(t, err, boom)
	}
	assert.True(t, cb.IsOpen())

	_, err = Do(context.Background(), cb, func() (int, error) { return 1, nil })
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, []State{StateClosed, StateOpen}, log.states)
}

func TestDo_CancellationDoesNotTrip(t *testing.T) {
	cb, err := New(testConfig("cancel"), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), cb, func() (int, error) { return 0, context.Canceled })
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.True(t, cb.IsClosed())
}

func TestConfig_IsSuccessfulOverride(t *testing.T) {
	notFound := errors.New("not found")
	cfg := testConfig("custom")
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, notFound) }
	cb, err := New(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = Do(context.Background(), cb, func() (int, error) { return 0, notFound })
	}
	assert.True(t, cb.IsClosed())
}

func TestDoWithFallback(t *testing.T) {
	cb, err := New(testConfig("fallback"), nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = Do(context.Background(), cb, func() (string, error) { return "", errors.New("down") })
	}

	live := func() (string, error) { return "live", nil }
	cached := func() (string, error) { return "cached", nil }
	got, err := DoWithFallback(context.Background(), cb, live, cached)
	require.NoError(t, err)
	assert.Equal(t, "cached", got)

	healthy, err := New(testConfig("healthy"), nil)
	require.NoError(t, err)
	got, err = DoWithFallback(context.Background(), healthy, live, cached)
	require.NoError(t, err)
	assert.Equal(t, "live", got)
}

func TestDo_HalfOpenProbeCloses(t *testing.T) {
	cfg := testConfig("probe")
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxRequests = 1
	cb, err := New(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, _ = Do(context.Background(), cb, func() (int, error) { return 0, errors.New("down") })
	}
	require.True(t, cb.IsOpen())

	require.Eventually(t, func() bool { return cb.State() == StateHalfOpen }, time.Second, 5*time.Millisecond)
	_, err = Do(context.Background(), cb, func() (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.True(t, cb.IsClosed())
}

func TestManager(t *testing.T) {
	log := &stateLog{}
	m := NewManager(nil, log)

	a, err := m.GetOrCreate("openfda", testConfig(""))
	require.NoError(t, err)
	again, err := m.GetOrCreate("openfda", testConfig(""))
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.Equal(t, "openfda", a.Name())

	_, err = m.GetOrCreate("gemini", testConfig(""))
	require.NoError(t, err)

	statuses := m.Snapshot()
	require.Len(t, statuses, 2)
	assert.Equal(t, "gemini", statuses[0].Name)
	assert.True(t, statuses[0].Healthy)
	assert.Len(t, log.states, 2)

	_, ok := m.Get("rxnorm")
	assert.False(t, ok)
	got, ok := m.Get("gemini")
	assert.True(t, ok)
	assert.Equal(t, "gemini", got.Name())
}
