package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/panjf2000/ants/v2"
	logger "github.com/sirupsen/logrus"
)

// Pool runs jobs of different users concurrently on a bounded set of
// goroutines. Overlap of one job name is still prevented by the runner guard.
type Pool struct {
	pool   *ants.Pool
	runner *Runner
	wg     sync.WaitGroup
}

func NewPool(size int, runner *Runner) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	return &Pool{pool: p, runner: runner}, nil
}

// Submit queues job. The returned error only covers queueing.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.wg.Add(1)
	err := p.pool.Submit(func() {
		defer p.wg.Done()
		if err := p.runner.Run(ctx, job); err != nil && !errors.Is(err, ErrOverlap) && !errors.Is(err, context.Canceled) {
			logger.WithError(err).WithField("job", job.Name).Debug("Pooled job ended with error")
		}
	})
	if err != nil {
		p.wg.Done()
		return err
	}
	return nil
}

// Wait blocks until every submitted job has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Running() int {
	return p.pool.Running()
}

func (p *Pool) Release() {
	p.pool.Release()
}
