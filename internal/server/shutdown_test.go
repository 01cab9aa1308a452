package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_RunsClosersInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())

	var order []int
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, 1); return nil }))
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, 2); return nil }))
	sm.RegisterCloser(CloserFunc(func() error { order = append(order, 3); return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "test"))
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.True(t, sm.IsShuttingDown())
}

func TestShutdown_IsIdempotent(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	calls := 0
	sm.RegisterCloser(CloserFunc(func() error { calls++; return nil }))

	require.NoError(t, sm.Shutdown(context.Background(), "first"))
	require.NoError(t, sm.Shutdown(context.Background(), "second"))
	assert.Equal(t, 1, calls)
}

func TestShutdown_ReturnsFirstCloserError(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	boom := errors.New("boom")
	sm.RegisterCloser(CloserFunc(func() error { return boom }))

	err := sm.Shutdown(context.Background(), "test")
	assert.ErrorContains(t, err, "boom")
}

func TestShutdown_TimesOutOnSlowCloser(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: 10 * time.Millisecond})
	sm.RegisterCloser(CloserFunc(func() error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}))

	err := sm.Shutdown(context.Background(), "slow")
	assert.ErrorContains(t, err, "timed out")
}

func TestMultiCloser_ClosesAllAndReturnsFirstError(t *testing.T) {
	var closed []int
	boom := errors.New("boom")
	mc := NewMultiCloser(
		CloserFunc(func() error { closed = append(closed, 1); return nil }),
		CloserFunc(func() error { closed = append(closed, 2); return boom }),
		CloserFunc(func() error { closed = append(closed, 3); return nil }),
	)

	err := mc.Close()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1, 2, 3}, closed)
}
