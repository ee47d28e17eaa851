// Package anthem owns the daily anthem lifecycle: accepting generation
// requests and driving a claimed generation job through contributions,
// synthesis, upload, and segment bookkeeping.
package anthem

import (
	"context"
	"errors"
	"time"

	"anthem-pipeline/internal/models"
)

var (
	// ErrAnthemCompleted rejects generation requests for dates already done.
	ErrAnthemCompleted = errors.New("anthem already completed")
	// ErrNoContributions means the date has no processed voice clips. It is
	// retried like any other failure so clips processed late can still make
	// it into a run, but callers can branch on it.
	ErrNoContributions = errors.New("no processed contributions")
	// ErrGenerationFailed wraps synthesis collaborator failures.
	ErrGenerationFailed = errors.New("anthem generation failed")
	// ErrUploadFailed wraps storage collaborator failures.
	ErrUploadFailed = errors.New("anthem upload failed")
)

// Store is the persistence surface the anthem pipeline needs. *store.Store
// implements it; tests substitute fakes.
type Store interface {
	GetAnthemByID(ctx context.Context, anthemID string) (*models.Anthem, error)
	GetAnthemByDate(ctx context.Context, date string) (*models.Anthem, error)
	CreateAnthem(ctx context.Context, anthemID, date string) (*models.Anthem, error)
	MarkAnthemProcessing(ctx context.Context, anthemID string, startedAt time.Time) error
	MarkAnthemCompleted(ctx context.Context, anthemID string, done models.AnthemCompletion) error
	MarkAnthemFailed(ctx context.Context, anthemID string) error
	ReplaceSegments(ctx context.Context, anthemID string, segments []models.AnthemSegment) error
	RefreshAnthemStats(ctx context.Context, anthemID, date string) error
	ListProcessedContributions(ctx context.Context, date string) ([]models.Contribution, error)
}
