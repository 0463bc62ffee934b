package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthChecker pings every dependency concurrently.
type HealthChecker struct {
	deps    map[string]Pinger
	timeout time.Duration
}

func NewHealthChecker(timeout time.Duration, deps map[string]Pinger) *HealthChecker {
	return &HealthChecker{deps: deps, timeout: timeout}
}

// Check returns the status of every dependency and an error if any is down.
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.deps))
	for name := range h.deps {
		names = append(names, name)
	}
	results := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			results[i] = h.deps[name].Ping(ctx)
			return nil
		})
	}
	_ = g.Wait()

	status := make(map[string]string, len(names))
	var firstErr error
	for i, name := range names {
		if results[i] != nil {
			status[name] = "down"
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", name, results[i])
			}
			continue
		}
		status[name] = "up"
	}
	return status, firstErr
}
