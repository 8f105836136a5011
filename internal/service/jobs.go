package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Background runs best-effort side jobs (push, link previews) off the
// request path. Each job gets its own timeout and a failure is only
// logged.
type Background struct {
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewBackground(timeout time.Duration, logger *zap.Logger) *Background {
	return &Background{timeout: timeout, logger: logger.Named("jobs")}
}

func (b *Background) Go(name string, job func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := job(ctx); err != nil {
			b.logger.Warn("background job failed", zap.String("job", name), zap.Error(err))
		}
	}()
}

// Wait blocks until every started job has returned.
func (b *Background) Wait() {
	b.wg.Wait()
}
