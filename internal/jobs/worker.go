package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lbreton/conduit/internal/metrics"
)

const defaultClaimTimeout = 5 * time.Second

// JobRunner executes a decoded job request and reports progress.
type JobRunner interface {
	Run(ctx context.Context, kind string, req *Request, update UpdateFunc) (*Result, error)
}

// Worker drains the queue, executing jobs through a JobRunner and keeping
// the job store current.
type Worker struct {
	queue        *Queue
	store        *Store
	runner       JobRunner
	metrics      *metrics.Metrics
	log          *slog.Logger
	claimTimeout time.Duration
}

type WorkerOption func(*Worker)

// WithClaimTimeout sets how long a single blocking claim waits.
func WithClaimTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.claimTimeout = d }
}

func NewWorker(queue *Queue, store *Store, runner JobRunner, m *metrics.Metrics, log *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:        queue,
		store:        store,
		runner:       runner,
		metrics:      m,
		log:          log,
		claimTimeout: defaultClaimTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "queue", w.queue.Name())
	for {
		if err := ctx.Err(); err != nil {
			w.log.Info("worker stopping", "queue", w.queue.Name())
			return nil
		}
		w.observeDepth(ctx)
		d, err := w.queue.Claim(ctx, w.claimTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("claim failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}
		w.process(ctx, d)
	}
}

// ProcessOne claims and runs a single job, returning whether one was
// available. Used by tests and one-shot invocations.
func (w *Worker) ProcessOne(ctx context.Context, timeout time.Duration) (bool, error) {
	d, err := w.queue.Claim(ctx, timeout)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}
	w.process(ctx, d)
	return true, nil
}

func (w *Worker) process(ctx context.Context, d *Delivery) {
	jobID := d.Message.JobID
	log := w.log.With("job_id", jobID, "kind", d.Message.Kind)

	req, err := DecodeRequest(d.Message.Body)
	if err != nil {
		// Malformed bodies never succeed on retry.
		log.Error("undecodable job body", "error", err)
		w.fail(ctx, d, err)
		if ackErr := w.queue.Ack(ctx, d); ackErr != nil {
			log.Error("ack failed", "error", ackErr)
		}
		w.metrics.JobsProcessed.WithLabelValues(d.Message.Kind, StatusFailed).Inc()
		return
	}

	start := time.Now()
	update := func(fn func(*State)) {
		if _, err := w.store.Update(ctx, jobID, fn); err != nil {
			log.Warn("state update failed", "error", err)
		}
	}

	res, err := w.runner.Run(ctx, d.Message.Kind, req, update)
	if err != nil {
		log.Error("job failed", "error", err, "delivery", d.DeliveryCount())
		poisoned, nackErr := w.queue.Nack(ctx, d)
		if nackErr != nil {
			log.Error("nack failed", "error", nackErr)
		}
		if poisoned || errors.Is(err, context.Canceled) {
			w.fail(ctx, d, err)
			w.metrics.JobsProcessed.WithLabelValues(d.Message.Kind, StatusFailed).Inc()
		} else {
			update(func(s *State) {
				s.Status = StatusQueued
				s.Message = MsgRetrying
				s.Error = err.Error()
			})
		}
		return
	}

	update(func(s *State) {
		s.Status = StatusCompleted
		s.Progress = progressDone
		s.Message = MsgDone
		s.Tool = ""
		s.FinalText = res.Text
		s.Mode = res.Mode
		s.Model = res.Model
		s.UsedTools = res.UsedTools
		s.Error = ""
		s.DurationMS = res.DurationMS
	})
	if err := w.queue.Ack(ctx, d); err != nil {
		log.Error("ack failed", "error", err)
	}
	w.metrics.JobsProcessed.WithLabelValues(d.Message.Kind, StatusCompleted).Inc()
	w.metrics.JobDuration.WithLabelValues(d.Message.Kind).Observe(time.Since(start).Seconds())
	log.Info("job completed", "mode", res.Mode, "model", res.Model, "duration_ms", res.DurationMS)
}

func (w *Worker) fail(ctx context.Context, d *Delivery, cause error) {
	if _, err := w.store.Update(ctx, d.Message.JobID, func(s *State) {
		s.Status = StatusFailed
		s.Message = MsgFailed
		s.Tool = ""
		s.Error = cause.Error()
	}); err != nil {
		w.log.Warn("state update failed", "job_id", d.Message.JobID, "error", err)
	}
}

func (w *Worker) observeDepth(ctx context.Context) {
	if n, err := w.queue.Length(ctx); err == nil {
		w.metrics.QueueDepth.Set(float64(n))
	}
	if n, err := w.queue.PoisonLength(ctx); err == nil {
		w.metrics.PoisonDepth.Set(float64(n))
	}
}
