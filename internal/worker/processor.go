package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/telemetry"
)

// Handler executes one claimed job and returns a result payload for the
// completion record.
type Handler func(ctx context.Context, job *models.Job) (map[string]any, error)

// Processor drives the worker execution loop: poll the queue per registered
// type, dispatch, and route the outcome back through complete/fail so the
// retry bookkeeping stays inside the queue service.
type Processor struct {
	cfg      config.Config
	queue    *queue.Service
	handlers map[string]Handler
	order    []string
}

func NewProcessor(cfg config.Config, q *queue.Service) *Processor {
	return &Processor{
		cfg:      cfg,
		queue:    q,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a handler to a job type.
func (p *Processor) RegisterHandler(jobType string, handler Handler) {
	if jobType == "" || handler == nil {
		return
	}
	if _, exists := p.handlers[jobType]; !exists {
		p.order = append(p.order, jobType)
	}
	p.handlers[jobType] = handler
}

// Run polls until context cancellation. Dequeue never blocks, so an idle
// pass sleeps for the configured poll interval.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.refreshDepth(ctx)

		worked := false
		for _, jobType := range p.order {
			did, err := p.RunOnce(ctx, jobType)
			if err != nil {
				log.Printf("worker: %s: %v", jobType, err)
				continue
			}
			worked = worked || did
		}

		if !worked {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.WorkerPollInterval):
			}
		}
	}
}

// RunOnce claims and processes at most one job of the given type. It reports
// whether a job was handled.
func (p *Processor) RunOnce(ctx context.Context, jobType string) (bool, error) {
	handler, ok := p.handlers[jobType]
	if !ok {
		return false, fmt.Errorf("no handler registered for type %q", jobType)
	}

	job, err := p.queue.Dequeue(ctx, jobType)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	start := time.Now()
	result, err := handler(ctx, job)
	telemetry.JobDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ferr := p.queue.Fail(ctx, job.ID, err); ferr != nil {
			return true, ferr
		}
		if job.Attempts >= job.MaxAttempts || errors.Is(err, queue.ErrSkipRetry) {
			telemetry.JobsFailed.Inc()
		} else {
			telemetry.JobsRetried.Inc()
		}
		log.Printf("worker: job %s (%s) attempt %d failed: %v", job.ID, jobType, job.Attempts, err)
		return true, nil
	}

	if cerr := p.queue.Complete(ctx, job.ID, result); cerr != nil {
		return true, cerr
	}
	telemetry.JobsCompleted.Inc()
	return true, nil
}

func (p *Processor) refreshDepth(ctx context.Context) {
	stats, err := p.queue.Stats(ctx, "")
	if err != nil {
		return
	}
	var depth int64
	for _, n := range stats {
		depth += n
	}
	telemetry.QueueDepthGauge.Set(float64(depth))
}
