package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/events"
	"tradejournal/src/model"
)

var ErrOverlap = errors.New("jobs: previous run still in flight")

var (
	FullSyncBackoff  = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}
	QuickSyncBackoff = []time.Duration{5 * time.Second, 15 * time.Second}
)

// Job is one retryable unit of work. Name is the overlap key.
type Job struct {
	Name         string
	Kind         string
	UserID       uint
	ConnectionID uint
	Exchange     string
	Backoff      []time.Duration
	Timeout      time.Duration
	Run          func(ctx context.Context) error
}

// MaxAttempts is one initial try plus one retry per backoff step.
func (j Job) MaxAttempts() int {
	return len(j.Backoff) + 1
}

// Budget is the longest a run can last: every attempt at its timeout plus
// every backoff sleep. Zero when attempts have no timeout.
func (j Job) Budget() time.Duration {
	if j.Timeout <= 0 {
		return 0
	}
	total := time.Duration(j.MaxAttempts()) * j.Timeout
	for _, d := range j.Backoff {
		total += d
	}
	return total
}

type ExceptionSink interface {
	Create(ctx context.Context, exc *model.Exception) error
}

type Runner struct {
	Guard      Guard
	Exceptions ExceptionSink
	Events     events.Publisher
	Service    string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewRunner(guard Guard, exceptions ExceptionSink, publisher events.Publisher) *Runner {
	return &Runner{
		Guard:      guard,
		Exceptions: exceptions,
		Events:     publisher,
		Service:    "worker",
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes job with the retry contract: attempts are spaced by
// job.Backoff, a per-attempt timeout counts as a retryable failure, and a
// Permanent error ends the run at once. A failure that is not retried further
// is persisted as an Exception. ErrOverlap is returned when the job name is
// already running.
func (r *Runner) Run(ctx context.Context, job Job) error {
	log := logger.WithFields(logger.Fields{
		"job":           job.Name,
		"kind":          job.Kind,
		"user_id":       job.UserID,
		"connection_id": job.ConnectionID,
	})

	if r.Guard != nil {
		release, ok, err := r.Guard.TryAcquire(ctx, job.Name, job.Budget())
		if err != nil {
			log.WithError(err).Error("Job guard unavailable")
			return err
		}
		if !ok {
			log.Info("Job already running, trigger skipped")
			return ErrOverlap
		}
		defer release()
	}

	sleep := r.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	maxAttempts := job.MaxAttempts()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		r.emit(ctx, job, events.TypeSyncStarted, attempt, nil)

		lastErr = r.attempt(ctx, job)
		if lastErr == nil {
			r.emit(ctx, job, events.TypeSyncSucceeded, attempt, nil)
			log.WithField("attempt", attempt).Info("Job finished")
			return nil
		}
		if ctx.Err() != nil {
			log.WithError(lastErr).Warn("Job cancelled")
			return ctx.Err()
		}
		if IsPermanent(lastErr) {
			log.WithError(lastErr).WithField("attempt", attempt).Error("Job failed permanently")
			break
		}
		if attempt < maxAttempts {
			delay := job.Backoff[attempt-1]
			log.WithError(lastErr).WithFields(logger.Fields{
				"attempt": attempt,
				"retry":   delay.String(),
			}).Warn("Job attempt failed, retrying")
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	log.WithError(lastErr).WithField("attempts", attempt).Error("Job exhausted retries, not retrying further")
	r.emit(ctx, job, events.TypeSyncFailed, attempt, lastErr)
	r.persist(ctx, job, attempt, lastErr)
	return lastErr
}

func (r *Runner) attempt(ctx context.Context, job Job) (err error) {
	runCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(fmt.Errorf("job %s panicked: %v", job.Name, rec))
		}
	}()
	err = job.Run(runCtx)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("job %s timed out after %s: %w", job.Name, job.Timeout, err)
	}
	return err
}

func (r *Runner) emit(ctx context.Context, job Job, typ string, attempt int, err error) {
	e := events.Event{
		Type:         typ,
		Kind:         job.Kind,
		UserID:       job.UserID,
		ConnectionID: job.ConnectionID,
		Exchange:     job.Exchange,
		Attempt:      attempt,
	}
	if err != nil {
		e.Error = err.Error()
	}
	events.Emit(ctx, r.Events, e)
}

func (r *Runner) persist(ctx context.Context, job Job, attempts int, err error) {
	if r.Exceptions == nil || err == nil {
		return
	}
	extra, _ := json.Marshal(map[string]interface{}{
		"kind":      job.Kind,
		"exchange":  job.Exchange,
		"permanent": IsPermanent(err),
	})
	exc := &model.Exception{
		Service:      r.Service,
		Module:       "jobs",
		Method:       job.Name,
		UserID:       job.UserID,
		ConnectionID: job.ConnectionID,
		Attempts:     attempts,
		Message:      err.Error(),
		Level:        model.ExceptionLevelError,
		Context:      string(extra),
	}
	// ctx may be the reason we are here
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if perr := r.Exceptions.Create(pctx, exc); perr != nil {
		logger.WithError(perr).WithField("job", job.Name).Error("Failed to persist job exception")
	}
}
