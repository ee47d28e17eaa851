package anthem

import (
	"context"
	"fmt"
	"log"
	"time"

	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/telemetry"
)

// Enqueuer is the slice of the queue façade the request service uses.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload map[string]any, opts queue.Options) (string, error)
}

// Service accepts generation requests and turns them into queued jobs.
type Service struct {
	store       Store
	queue       Enqueuer
	maxAttempts int
}

// NewService wires the request service.
func NewService(store Store, q Enqueuer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Service{store: store, queue: q, maxAttempts: maxAttempts}
}

// GenerationRequest reports an accepted request.
type GenerationRequest struct {
	JobID    string `json:"job_id"`
	AnthemID string `json:"anthem_id"`
	Status   string `json:"status"`
}

// RequestGeneration creates or advances the anthem record for a date and
// enqueues its generation job. Re-requesting a completed date is rejected;
// re-requesting a failed date retries it. A date already processing is
// rejected by the transition guard, so at most one job is in flight per date.
func (s *Service) RequestGeneration(ctx context.Context, date string) (*GenerationRequest, error) {
	if _, err := time.Parse(models.DateFormat, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: use YYYY-MM-DD", date)
	}

	existing, err := s.store.GetAnthemByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.AnthemCompleted {
		return nil, fmt.Errorf("date %s: %w", date, ErrAnthemCompleted)
	}

	anthemID := models.AnthemID(date)
	if existing == nil {
		if _, err := s.store.CreateAnthem(ctx, anthemID, date); err != nil {
			return nil, err
		}
	}

	if err := s.store.MarkAnthemProcessing(ctx, anthemID, time.Now().UTC()); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Enqueue(ctx, models.JobTypeAnthemGeneration, map[string]any{
		"anthem_id": anthemID,
		"date":      date,
	}, queue.Options{Priority: 1, MaxAttempts: s.maxAttempts})
	if err != nil {
		// Roll the anthem back so a later request can start fresh.
		if ferr := s.store.MarkAnthemFailed(ctx, anthemID); ferr != nil {
			log.Printf("anthem: could not roll back %s after enqueue failure: %v", anthemID, ferr)
		}
		return nil, err
	}

	telemetry.EnqueueCounter.Inc()
	log.Printf("anthem: queued generation job %s for %s", jobID, date)
	return &GenerationRequest{JobID: jobID, AnthemID: anthemID, Status: "queued"}, nil
}
