// Package readiness probes whether TCP endpoints accept connections.
//
// A successful connect is treated as "ready". The probe exchanges no data,
// so a listener that accepts but never speaks the expected protocol is
// indistinguishable from a healthy one.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ErrNotReady indicates the endpoint did not accept a connection within the
// wait budget.
var ErrNotReady = errors.New("endpoint not ready")

// Config controls probe pacing.
type Config struct {
	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// Interval is the minimum spacing between the starts of two attempts.
	Interval time.Duration
}

// DefaultConfig returns one-second attempts spaced one second apart.
func DefaultConfig() Config {
	return Config{
		DialTimeout: time.Second,
		Interval:    time.Second,
	}
}

// Gate waits for TCP endpoints to become reachable.
//
// A Gate holds no per-wait state and is safe for concurrent use.
type Gate struct {
	cfg Config
}

// New creates a Gate, filling zero values from DefaultConfig.
func New(cfg Config) *Gate {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Gate{cfg: cfg}
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// WaitForPort reports whether host:port accepted a connection within timeout.
func (g *Gate) WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) bool {
	return g.Wait(ctx, host, port, timeout) == nil
}

// Wait blocks until host:port accepts a TCP connection.
//
// It returns nil once a connection succeeds, an error wrapping ErrNotReady
// when timeout elapses first, or ctx.Err() if ctx is cancelled. A timeout of
// zero or less makes exactly one attempt.
func (g *Gate) Wait(ctx context.Context, host string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	if timeout <= 0 {
		err := g.Probe(ctx, addr)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", ErrNotReady, addr, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Burst of one: the first attempt is immediate, later attempts are
	// spaced by Interval. Wait fails early once the next slot would land
	// past the deadline.
	limiter := rate.NewLimiter(rate.Every(g.cfg.Interval), 1)

	var lastErr error
	attempts := 0
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		attempts++
		err := g.Probe(waitCtx, addr)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if lastErr == nil {
		lastErr = errors.New("no attempt completed")
	}
	return fmt.Errorf("%w: %s after %s (%d attempts): %v", ErrNotReady, addr, timeout, attempts, lastErr)
}

// Probe makes a single connection attempt to addr and closes it immediately.
func (g *Gate) Probe(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: g.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
