package orchestrator

import (
	"context"
	"time"
)

// Prune removes terminal tasks last updated more than olderThan ago.
func (o *Orchestrator) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := o.tasks.Prune(ctx, olderThan)
	if err != nil {
		return n, err
	}
	o.metrics.AddPruned(n)
	return n, nil
}

// RunJanitor prunes terminal tasks older than retention every interval until
// ctx ends. Prune failures are logged and retried on the next tick.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 || retention <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := o.Prune(ctx, retention)
			if err != nil {
				o.logger.Warn("janitor prune failed", "error", err)
				continue
			}
			if n > 0 {
				o.logger.Debug("janitor pruned tasks", "count", n)
			}
		}
	}
}
