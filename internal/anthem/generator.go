package anthem

import (
	"context"
	"fmt"
	"log"
	"time"

	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/storage"
	"anthem-pipeline/internal/synth"
)

// Generator is the orchestrator for one anthem_generation job. It owns every
// mutation of the anthem record while the job is in flight; nothing else
// writes to that anthem, so its transitions are ordered per date.
type Generator struct {
	store    Store
	synth    synth.Generator
	uploader storage.Uploader
}

// NewGenerator wires the orchestrator.
func NewGenerator(store Store, gen synth.Generator, up storage.Uploader) *Generator {
	return &Generator{store: store, synth: gen, uploader: up}
}

// Handle runs the full generation sequence for a claimed job. Steps are not
// individually checkpointed; a retried job redoes the sequence from the top.
// Any failure marks the anthem failed and propagates to the queue's fail path
// so retry bookkeeping stays centralized there.
func (g *Generator) Handle(ctx context.Context, job *models.Job) (map[string]any, error) {
	anthemID, _ := job.Payload["anthem_id"].(string)
	date, _ := job.Payload["date"].(string)
	if anthemID == "" || date == "" {
		return nil, fmt.Errorf("job %s: payload missing anthem_id or date: %w", job.ID, queue.ErrSkipRetry)
	}

	if err := g.ensureProcessing(ctx, anthemID); err != nil {
		return nil, err
	}

	contributions, err := g.store.ListProcessedContributions(ctx, date)
	if err != nil {
		return nil, g.failed(ctx, anthemID, err)
	}
	if len(contributions) == 0 {
		return nil, g.failed(ctx, anthemID, fmt.Errorf("date %s: %w", date, ErrNoContributions))
	}

	groups := synth.GroupByCountry(contributions)

	result, err := g.synth.Generate(ctx, groups)
	if err != nil {
		return nil, g.failed(ctx, anthemID, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}
	if err := result.Validate(); err != nil {
		return nil, g.failed(ctx, anthemID, fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	key := fmt.Sprintf("anthems/%s.mp3", anthemID)
	uploaded, err := g.uploader.Upload(ctx, key, result.Audio, "audio/mpeg")
	if err != nil {
		return nil, g.failed(ctx, anthemID, fmt.Errorf("%w: %v", ErrUploadFailed, err))
	}

	// Segments and aggregates land before the completed transition. Completed
	// is terminal for the state machine, so any write that could still fail
	// has to happen while the anthem is retryable.
	segments := make([]models.AnthemSegment, 0, len(result.Segments))
	for i, seg := range result.Segments {
		segments = append(segments, models.AnthemSegment{
			AnthemID:      anthemID,
			CountryCode:   seg.CountryCode,
			CountryName:   seg.CountryName,
			StartTimeMs:   seg.StartTimeMs,
			EndTimeMs:     seg.EndTimeMs,
			DurationMs:    seg.DurationMs,
			SequenceOrder: i + 1,
			VoiceCount:    seg.VoiceCount,
		})
	}
	if err := g.store.ReplaceSegments(ctx, anthemID, segments); err != nil {
		return nil, g.failed(ctx, anthemID, err)
	}
	if err := g.store.RefreshAnthemStats(ctx, anthemID, date); err != nil {
		return nil, g.failed(ctx, anthemID, err)
	}

	done := models.AnthemCompletion{
		AudioURL:        uploaded.URL,
		DurationSeconds: int((result.DurationMs + 999) / 1000),
		FileSizeBytes:   uploaded.Size,
		AIModel:         result.Model,
		CompletedAt:     time.Now().UTC(),
	}
	if err := g.store.MarkAnthemCompleted(ctx, anthemID, done); err != nil {
		return nil, g.failed(ctx, anthemID, err)
	}

	log.Printf("anthem: generated %s (%d countries, %d voices, %dms)",
		anthemID, len(groups), len(contributions), result.DurationMs)
	return map[string]any{
		"anthem_id":   anthemID,
		"audio_url":   uploaded.URL,
		"duration_ms": result.DurationMs,
		"countries":   len(groups),
		"voices":      len(contributions),
	}, nil
}

// ensureProcessing re-enters processing for a retried job whose previous run
// marked the anthem failed. The first run is a no-op since the request
// service already made the transition.
func (g *Generator) ensureProcessing(ctx context.Context, anthemID string) error {
	a, err := g.store.GetAnthemByID(ctx, anthemID)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("anthem %s not found: %w", anthemID, queue.ErrSkipRetry)
	}
	if a.Status == models.AnthemProcessing {
		return nil
	}
	return g.store.MarkAnthemProcessing(ctx, anthemID, time.Now().UTC())
}

// failed flips the anthem to failed and passes the cause through. The failed
// status is durable and user visible; only a fresh processing transition
// clears it. Aggregates keep their prior values.
func (g *Generator) failed(ctx context.Context, anthemID string, cause error) error {
	if err := g.store.MarkAnthemFailed(ctx, anthemID); err != nil {
		log.Printf("anthem: could not mark %s failed: %v", anthemID, err)
	}
	return cause
}
