package session

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/c360/natspad/metric"
)

// restarter is a manager whose keys can be rebound after a reconnect.
type restarter interface {
	keysFor(addr string) []string
	restart(ctx context.Context, key string) (bool, error)
}

var (
	_ restarter = (*SubscriptionManager)(nil)
	_ restarter = (*ReplyManager)(nil)
)

// recoveryCoordinator replays every loop bound to an address once its
// connection has been recreated.
type recoveryCoordinator struct {
	managers    []restarter
	logger      *slog.Logger
	metrics     *metric.Metrics
	concurrency int
}

// recover restarts every key bound to addr and returns how many came back.
// Failed keys are reported individually and do not stop the others.
func (r *recoveryCoordinator) recover(ctx context.Context, addr string) (int, error) {
	var (
		restored atomic.Int64
		mu       sync.Mutex
		failures []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	total := 0
	for _, m := range r.managers {
		for _, key := range m.keysFor(addr) {
			total++
			g.Go(func() error {
				ok, err := m.restart(gctx, key)
				if err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
					return nil
				}
				if ok {
					restored.Add(1)
				}
				return nil
			})
		}
	}
	_ = g.Wait()

	n := int(restored.Load())
	if len(failures) > 0 {
		r.metrics.RecordRecoveryFailures(len(failures))
		r.logger.Warn("Recovery incomplete", "server", addr, "restored", n, "failed", len(failures), "total", total)
		return n, stderrors.Join(failures...)
	}
	r.logger.Info("Recovery complete", "server", addr, "restored", n)
	return n, nil
}
