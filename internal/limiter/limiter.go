// Package limiter bounds concurrent in-flight requests per remote host.
package limiter

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// HostLimiter holds one counting semaphore per configured host. Hosts without
// a configured capacity are a configuration error, never unlimited.
type HostLimiter struct {
	sems map[string]*semaphore.Weighted
}

// New builds a HostLimiter from host → capacity. Non-positive capacities are
// rejected up front.
func New(capacities map[string]int64) (*HostLimiter, error) {
	sems := make(map[string]*semaphore.Weighted, len(capacities))
	for host, n := range capacities {
		if n <= 0 {
			return nil, eris.Errorf("limiter: host %q has non-positive capacity %d", host, n)
		}
		sems[host] = semaphore.NewWeighted(n)
	}
	return &HostLimiter{sems: sems}, nil
}

// Acquire blocks until a slot for host frees up and returns the release
// function for the permit. Callers must release on every path, normal or
// error, typically via defer.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	sem, ok := l.sems[host]
	if !ok {
		return nil, eris.Errorf("limiter: no capacity configured for host %q", host)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrapf(err, "limiter: acquire %s", host)
	}
	return func() { sem.Release(1) }, nil
}
