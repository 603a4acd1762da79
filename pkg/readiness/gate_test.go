package readiness

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

// freePort returns a port that had a listener a moment ago and now has none.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func fastGate() *Gate {
	return New(Config{DialTimeout: 200 * time.Millisecond, Interval: 50 * time.Millisecond})
}

func TestNew_Defaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, time.Second, g.Config().DialTimeout)
	assert.Equal(t, time.Second, g.Config().Interval)
}

func TestWaitForPort_ListenerAlreadyUp(t *testing.T) {
	_, port := listen(t)

	start := time.Now()
	ok := fastGate().WaitForPort(context.Background(), "127.0.0.1", port, 2*time.Second)
	assert.True(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitForPort_NoListenerTimesOut(t *testing.T) {
	port := freePort(t)
	timeout := 500 * time.Millisecond

	start := time.Now()
	ok := fastGate().WaitForPort(context.Background(), "127.0.0.1", port, timeout)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, elapsed, timeout-100*time.Millisecond)
	assert.Less(t, elapsed, timeout+time.Second)
}

func TestWait_ErrorWrapsNotReady(t *testing.T) {
	port := freePort(t)

	err := fastGate().Wait(context.Background(), "127.0.0.1", port, 200*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotReady))
	assert.Contains(t, err.Error(), "127.0.0.1:")
}

func TestWaitForPort_ListenerOpensDuringWindow(t *testing.T) {
	port := freePort(t)

	opened := make(chan net.Listener, 1)
	go func() {
		time.Sleep(200 * time.Millisecond)
		ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
		if err != nil {
			opened <- nil
			return
		}
		opened <- ln
	}()

	start := time.Now()
	ok := fastGate().WaitForPort(context.Background(), "127.0.0.1", port, 5*time.Second)
	elapsed := time.Since(start)

	ln := <-opened
	if ln == nil {
		t.Skip("port was reused before the test could bind it")
	}
	defer func() { _ = ln.Close() }()

	assert.True(t, ok)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestWait_ZeroTimeoutSingleAttempt(t *testing.T) {
	_, up := listen(t)
	down := freePort(t)
	g := fastGate()

	assert.NoError(t, g.Wait(context.Background(), "127.0.0.1", up, 0))

	start := time.Now()
	err := g.Wait(context.Background(), "127.0.0.1", down, -time.Second)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWait_ParentCancellation(t *testing.T) {
	port := freePort(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := fastGate().Wait(ctx, "127.0.0.1", port, 10*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrNotReady))
	assert.Less(t, time.Since(start), 2*time.Second)
}
