package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/evcarbon/carbon-credit-api/internal/pkg/apperr"
	"github.com/evcarbon/carbon-credit-api/internal/pkg/metrics"
)

// Handler executes one job. Returning an apperr Retryable error reschedules
// the job; any other error kills it.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Queue is the storage side of the dispatcher.
type Queue interface {
	Claim(ctx context.Context, limit int) ([]Job, error)
	MarkDone(ctx context.Context, id uuid.UUID) error
	MarkRetry(ctx context.Context, id uuid.UUID, next time.Time, lastErr string) error
	MarkDead(ctx context.Context, id uuid.UUID, lastErr string) error
}

// Dispatcher runs due jobs through their registered handlers.
type Dispatcher struct {
	queue    Queue
	handlers map[string]Handler
	batch    int
	now      func() time.Time
}

func NewDispatcher(queue Queue, batch int) *Dispatcher {
	if batch <= 0 {
		batch = 50
	}
	return &Dispatcher{
		queue:    queue,
		handlers: make(map[string]Handler),
		batch:    batch,
		now:      time.Now,
	}
}

// Register binds a handler to a job kind.
func (d *Dispatcher) Register(kind string, h Handler) {
	d.handlers[kind] = h
}

// RunOnce claims one batch and processes it. It returns the number of jobs
// that completed.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.queue.Claim(ctx, d.batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if d.run(ctx, job) {
			done++
		}
	}
	return done, nil
}

func (d *Dispatcher) run(ctx context.Context, job Job) bool {
	l := log.With().Str("job_id", job.ID.String()).Str("kind", job.Kind).Int("attempt", job.Attempts+1).Logger()

	h, ok := d.handlers[job.Kind]
	if !ok {
		l.Error().Msg("No outbox handler registered, marking job dead")
		d.mark(ctx, d.queue.MarkDead(ctx, job.ID, "no handler for kind "+job.Kind), job)
		metrics.OutboxJobs.WithLabelValues(job.Kind, "dead").Inc()
		return false
	}

	err := h(ctx, job.Payload)
	switch {
	case err == nil:
		d.mark(ctx, d.queue.MarkDone(ctx, job.ID), job)
		metrics.OutboxJobs.WithLabelValues(job.Kind, "done").Inc()
		l.Info().Msg("Outbox job completed")
		return true

	case apperr.IsRetryable(err) && job.Attempts+1 < job.MaxAttempts:
		next := d.now().Add(Backoff(job.Attempts))
		d.mark(ctx, d.queue.MarkRetry(ctx, job.ID, next, err.Error()), job)
		metrics.OutboxJobs.WithLabelValues(job.Kind, "retry").Inc()
		l.Warn().Err(err).Time("next_attempt_at", next).Msg("Outbox job failed, rescheduled")
		return false

	default:
		d.mark(ctx, d.queue.MarkDead(ctx, job.ID, err.Error()), job)
		metrics.OutboxJobs.WithLabelValues(job.Kind, "dead").Inc()
		l.Error().Err(err).Msg("Outbox job failed permanently")
		return false
	}
}

func (d *Dispatcher) mark(_ context.Context, err error, job Job) {
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID.String()).Msg("Failed to update outbox job")
	}
}
