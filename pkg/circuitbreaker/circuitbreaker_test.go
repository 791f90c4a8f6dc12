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

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	}
}

func failing() func() error {
	return func() error { return errors.New("dependency down") }
}

func succeeding() func() error {
	return func() error { return nil }
}

func tripOpen(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for i := 0; i < testConfig().FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), failing())
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestExecute_PassesThroughWhenClosed(t *testing.T) {
	cb := New(testConfig())

	assert.NoError(t, cb.Execute(context.Background(), succeeding()))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_WrapsUnderlyingError(t *testing.T) {
	cb := New(testConfig())
	sentinel := errors.New("boom")

	err := cb.Execute(context.Background(), func() error { return sentinel })
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := New(testConfig())
	tripOpen(t, cb)

	err := cb.Execute(context.Background(), succeeding())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecute_SuccessResetsFailureStreak(t *testing.T) {
	cb := New(testConfig())

	_ = cb.Execute(context.Background(), failing())
	_ = cb.Execute(context.Background(), failing())
	require.NoError(t, cb.Execute(context.Background(), succeeding()))

	// The streak restarted; two more failures must not open the circuit.
	_ = cb.Execute(context.Background(), failing())
	_ = cb.Execute(context.Background(), failing())
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_ProbesAfterTimeout(t *testing.T) {
	cb := New(testConfig())
	tripOpen(t, cb)

	time.Sleep(25 * time.Millisecond)

	// First probe is admitted and moves the circuit to half-open.
	require.NoError(t, cb.Execute(context.Background(), succeeding()))
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second success closes it.
	require.NoError(t, cb.Execute(context.Background(), succeeding()))
	assert.Equal(t, StateClosed, cb.State())
}

func TestExecute_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	tripOpen(t, cb)

	time.Sleep(25 * time.Millisecond)

	err := cb.Execute(context.Background(), failing())
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())

	// Reopened circuit rejects immediately again.
	assert.ErrorIs(t, cb.Execute(context.Background(), succeeding()), ErrOpen)
}

func TestExecute_HalfOpenProbeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.SuccessThreshold = 10 // keep the circuit half-open throughout
	cb := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), failing())
	}

	time.Sleep(25 * time.Millisecond)

	require.NoError(t, cb.Execute(context.Background(), succeeding()))
	require.NoError(t, cb.Execute(context.Background(), succeeding()))

	err := cb.Execute(context.Background(), succeeding())
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecute_HonorsContext(t *testing.T) {
	cb := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := cb.Execute(ctx, func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestExecuteWithResult_ReturnsValue(t *testing.T) {
	cb := New(testConfig())

	res, err := cb.ExecuteWithResult(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, res)
}

func TestReset_ForcesClosed(t *testing.T) {
	cb := New(testConfig())
	tripOpen(t, cb)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(context.Background(), succeeding()))
}

func TestOnStateChange_ReportsTransitions(t *testing.T) {
	cb := New(testConfig())

	var mu sync.Mutex
	var transitions []State
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	})

	tripOpen(t, cb)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1 && transitions[0] == StateOpen
	}, time.Second, 5*time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
