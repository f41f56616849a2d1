package worker

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Task is one iteration of a worker loop. The pool calls it again until the
// context is cancelled.
type Task func(ctx context.Context) error

// Pool runs a fixed number of workers. The worker count is the pipeline's
// only backpressure: at most n jobs hit the providers at once.
type Pool struct {
	wg  sync.WaitGroup
	n   int
	log *zerolog.Logger
}

func NewPool(workers int, logger *zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	l := logger.With().Str("component", "WorkerPool").Logger()
	return &Pool{n: workers, log: &l}
}

func (p *Pool) Size() int { return p.n }

// Start launches the workers. Each one calls task in a loop, backing off
// briefly after an error, until ctx is done.
func (p *Pool) Start(ctx context.Context, task Task) {
	for i := 0; i < p.n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				if err := p.runOnce(ctx, task); err != nil {
					p.log.Error().Err(err).Int("worker", id).Msg("worker task error")
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
				}
			}
		}(i)
	}
}

func (p *Pool) runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return task(ctx)
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
