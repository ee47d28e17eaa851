package anthem

import (
	"context"
	"sync"
	"time"

	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
	"anthem-pipeline/internal/storage"
)

// fakeStore implements Store in memory with the same transition guards the
// Postgres store enforces.
type fakeStore struct {
	mu            sync.Mutex
	anthems       map[string]*models.Anthem
	segments      map[string][]models.AnthemSegment
	contributions map[string][]models.Contribution
	refreshed     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		anthems:       make(map[string]*models.Anthem),
		segments:      make(map[string][]models.AnthemSegment),
		contributions: make(map[string][]models.Contribution),
	}
}

func (f *fakeStore) GetAnthemByID(_ context.Context, anthemID string) (*models.Anthem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.anthems[anthemID]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeStore) GetAnthemByDate(_ context.Context, date string) (*models.Anthem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.anthems {
		if a.Date == date {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateAnthem(_ context.Context, anthemID, date string) (*models.Anthem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.anthems[anthemID]; ok {
		copied := *a
		return &copied, nil
	}
	now := time.Now().UTC()
	a := &models.Anthem{
		AnthemID:  anthemID,
		Date:      date,
		Status:    models.AnthemCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.anthems[anthemID] = a
	copied := *a
	return &copied, nil
}

func (f *fakeStore) transition(anthemID, to string, mutate func(*models.Anthem)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.anthems[anthemID]
	if !ok {
		return &models.InvalidTransitionError{AnthemID: anthemID, From: "absent", To: to}
	}
	if !models.CanTransition(a.Status, to) {
		return &models.InvalidTransitionError{AnthemID: anthemID, From: a.Status, To: to}
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(a)
	}
	return nil
}

func (f *fakeStore) MarkAnthemProcessing(_ context.Context, anthemID string, startedAt time.Time) error {
	return f.transition(anthemID, models.AnthemProcessing, func(a *models.Anthem) {
		a.GenerationStartedAt = &startedAt
	})
}

func (f *fakeStore) MarkAnthemCompleted(_ context.Context, anthemID string, done models.AnthemCompletion) error {
	return f.transition(anthemID, models.AnthemCompleted, func(a *models.Anthem) {
		a.AudioURL = done.AudioURL
		a.DurationSeconds = done.DurationSeconds
		a.FileSizeBytes = done.FileSizeBytes
		a.AIModel = done.AIModel
		a.GenerationCompletedAt = &done.CompletedAt
	})
}

func (f *fakeStore) MarkAnthemFailed(_ context.Context, anthemID string) error {
	return f.transition(anthemID, models.AnthemFailed, nil)
}

func (f *fakeStore) ReplaceSegments(_ context.Context, anthemID string, segments []models.AnthemSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.segments[anthemID] = append([]models.AnthemSegment(nil), segments...)
	return nil
}

func (f *fakeStore) RefreshAnthemStats(_ context.Context, anthemID, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	a, ok := f.anthems[anthemID]
	if !ok {
		return nil
	}
	var total int64
	countries := make(map[string]struct{})
	for _, c := range f.contributions[date] {
		total += c.DurationMs
		countries[c.CountryCode] = struct{}{}
	}
	a.TotalVoices = len(f.contributions[date])
	a.TotalCountries = len(countries)
	a.TotalDurationMs = total
	return nil
}

func (f *fakeStore) ListProcessedContributions(_ context.Context, date string) ([]models.Contribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Contribution(nil), f.contributions[date]...), nil
}

type enqueueCall struct {
	jobType string
	payload map[string]any
	opts    queue.Options
}

type fakeEnqueuer struct {
	calls []enqueueCall
	err   error
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, jobType string, payload map[string]any, opts queue.Options) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, enqueueCall{jobType: jobType, payload: payload, opts: opts})
	return "job-1", nil
}

type failingUploader struct{ err error }

func (f *failingUploader) Upload(context.Context, string, []byte, string) (storage.UploadResult, error) {
	return storage.UploadResult{}, f.err
}
