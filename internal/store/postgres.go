package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"anthem-pipeline/internal/models"
)

// Store wraps pgxpool for Postgres persistence of anthems, segments, and
// voice contributions. Job state lives in Redis, not here.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const anthemColumns = `anthem_id, anthem_date, status, total_voices, total_countries, total_duration_ms,
	anthem_audio_url, duration_seconds, file_size_bytes, ai_model,
	generation_started_at, generation_completed_at, created_at, updated_at`

// CreateAnthem inserts the record for a date if absent and returns the stored
// row either way. The deterministic anthem_id enforces one anthem per date.
func (s *Store) CreateAnthem(ctx context.Context, anthemID, date string) (*models.Anthem, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_anthems (anthem_id, anthem_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (anthem_id) DO NOTHING
	`, anthemID, date, models.AnthemCollecting)
	if err != nil {
		return nil, fmt.Errorf("insert anthem: %w", err)
	}
	return s.GetAnthemByID(ctx, anthemID)
}

// GetAnthemByID fetches one anthem, or nil when absent.
func (s *Store) GetAnthemByID(ctx context.Context, anthemID string) (*models.Anthem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+anthemColumns+` FROM daily_anthems WHERE anthem_id = $1`, anthemID)
	return scanAnthem(row)
}

// GetAnthemByDate fetches the anthem for a calendar date, or nil when absent.
func (s *Store) GetAnthemByDate(ctx context.Context, date string) (*models.Anthem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+anthemColumns+` FROM daily_anthems WHERE anthem_date = $1`, date)
	return scanAnthem(row)
}

// ListRecentAnthems returns past anthems, newest first.
func (s *Store) ListRecentAnthems(ctx context.Context, page, limit int) ([]models.Anthem, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+anthemColumns+` FROM daily_anthems
		WHERE anthem_date <= CURRENT_DATE
		ORDER BY anthem_date DESC
		LIMIT $1 OFFSET $2
	`, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("query recent anthems: %w", err)
	}
	defer rows.Close()

	var out []models.Anthem
	for rows.Next() {
		a, err := scanAnthem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// MarkAnthemProcessing moves an anthem into processing and stamps the
// generation start. The status guard runs inside the UPDATE so a concurrent
// writer cannot slip an illegal transition through.
func (s *Store) MarkAnthemProcessing(ctx context.Context, anthemID string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE daily_anthems
		SET status = $2, generation_started_at = $3, updated_at = NOW()
		WHERE anthem_id = $1 AND status IN ($4, $5)
	`, anthemID, models.AnthemProcessing, startedAt, models.AnthemCollecting, models.AnthemFailed)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, anthemID, models.AnthemProcessing)
	}
	return nil
}

// MarkAnthemCompleted finalizes a generated anthem with its artifact fields.
func (s *Store) MarkAnthemCompleted(ctx context.Context, anthemID string, done models.AnthemCompletion) error {
	if done.AudioURL == "" {
		return fmt.Errorf("anthem %s: completion requires an audio url", anthemID)
	}
	if done.DurationSeconds < 0 {
		return fmt.Errorf("anthem %s: negative duration %d", anthemID, done.DurationSeconds)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE daily_anthems
		SET status = $2, anthem_audio_url = $3, duration_seconds = $4, file_size_bytes = $5,
		    ai_model = $6, generation_completed_at = $7, updated_at = NOW()
		WHERE anthem_id = $1 AND status = $8
	`, anthemID, models.AnthemCompleted, done.AudioURL, done.DurationSeconds, done.FileSizeBytes,
		done.AIModel, done.CompletedAt, models.AnthemProcessing)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, anthemID, models.AnthemCompleted)
	}
	return nil
}

// MarkAnthemFailed records a failed generation run. Aggregate fields keep
// their prior values; failure never erases historical counts.
func (s *Store) MarkAnthemFailed(ctx context.Context, anthemID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE daily_anthems SET status = $2, updated_at = NOW()
		WHERE anthem_id = $1 AND status = $3
	`, anthemID, models.AnthemFailed, models.AnthemProcessing)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, anthemID, models.AnthemFailed)
	}
	return nil
}

func (s *Store) transitionError(ctx context.Context, anthemID, to string) error {
	from := "absent"
	if a, err := s.GetAnthemByID(ctx, anthemID); err == nil && a != nil {
		from = a.Status
	}
	return &models.InvalidTransitionError{AnthemID: anthemID, From: from, To: to}
}

// ReplaceSegments rewrites the segment rows for an anthem. A retried
// generation run redoes the whole sequence, so prior rows from a failed run
// are discarded rather than merged.
func (s *Store) ReplaceSegments(ctx context.Context, anthemID string, segments []models.AnthemSegment) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM anthem_segments WHERE anthem_id = $1`, anthemID); err != nil {
		return fmt.Errorf("clear segments: %w", err)
	}

	batch := &pgx.Batch{}
	for _, seg := range segments {
		batch.Queue(`
			INSERT INTO anthem_segments (anthem_id, country_code, country_name, start_time_ms,
				end_time_ms, duration_ms, sequence_order, voice_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, anthemID, seg.CountryCode, seg.CountryName, seg.StartTimeMs,
			seg.EndTimeMs, seg.DurationMs, seg.SequenceOrder, seg.VoiceCount)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert segments: %w", err)
	}
	return tx.Commit(ctx)
}

// GetAnthemSegments returns an anthem's segments in playback order.
func (s *Store) GetAnthemSegments(ctx context.Context, anthemID string) ([]models.AnthemSegment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT anthem_id, country_code, country_name, start_time_ms, end_time_ms,
		       duration_ms, sequence_order, voice_count
		FROM anthem_segments
		WHERE anthem_id = $1
		ORDER BY sequence_order ASC
	`, anthemID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var out []models.AnthemSegment
	for rows.Next() {
		var seg models.AnthemSegment
		if err := rows.Scan(&seg.AnthemID, &seg.CountryCode, &seg.CountryName, &seg.StartTimeMs,
			&seg.EndTimeMs, &seg.DurationMs, &seg.SequenceOrder, &seg.VoiceCount); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// RefreshAnthemStats recomputes the aggregate counters from the day's
// processed contributions. Aggregates are never hand-edited.
func (s *Store) RefreshAnthemStats(ctx context.Context, anthemID, date string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE daily_anthems SET
			total_voices = (
				SELECT COUNT(*) FROM voice_contributions
				WHERE DATE(recorded_at AT TIME ZONE 'UTC') = $2 AND status = $3
			),
			total_countries = (
				SELECT COUNT(DISTINCT country_code) FROM voice_contributions
				WHERE DATE(recorded_at AT TIME ZONE 'UTC') = $2 AND status = $3
			),
			total_duration_ms = (
				SELECT COALESCE(SUM(duration_ms), 0) FROM voice_contributions
				WHERE DATE(recorded_at AT TIME ZONE 'UTC') = $2 AND status = $3
			),
			updated_at = NOW()
		WHERE anthem_id = $1
	`, anthemID, date, models.ContributionProcessed)
	if err != nil {
		return fmt.Errorf("refresh anthem stats: %w", err)
	}
	return nil
}

// ListProcessedContributions returns the day's eligible clips in recording
// order, which fixes the country discovery order for segment sequencing.
func (s *Store) ListProcessedContributions(ctx context.Context, date string) ([]models.Contribution, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contribution_id, user_id, audio_url, country_code, duration_ms, status, recorded_at
		FROM voice_contributions
		WHERE DATE(recorded_at AT TIME ZONE 'UTC') = $1 AND status = $2
		ORDER BY recorded_at ASC
	`, date, models.ContributionProcessed)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer rows.Close()

	var out []models.Contribution
	for rows.Next() {
		var c models.Contribution
		if err := rows.Scan(&c.ContributionID, &c.UserID, &c.AudioURL, &c.CountryCode,
			&c.DurationMs, &c.Status, &c.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnthem(row rowScanner) (*models.Anthem, error) {
	var a models.Anthem
	var date time.Time
	var audioURL, aiModel pgtype.Text
	var durationSeconds pgtype.Int4
	var fileSize pgtype.Int8
	var startedAt, completedAt pgtype.Timestamptz

	err := row.Scan(&a.AnthemID, &date, &a.Status, &a.TotalVoices, &a.TotalCountries, &a.TotalDurationMs,
		&audioURL, &durationSeconds, &fileSize, &aiModel,
		&startedAt, &completedAt, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan anthem: %w", err)
	}

	a.Date = date.Format(models.DateFormat)
	a.AudioURL = audioURL.String
	a.AIModel = aiModel.String
	if durationSeconds.Valid {
		a.DurationSeconds = int(durationSeconds.Int32)
	}
	if fileSize.Valid {
		a.FileSizeBytes = fileSize.Int64
	}
	if startedAt.Valid {
		t := startedAt.Time
		a.GenerationStartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.GenerationCompletedAt = &t
	}
	return &a, nil
}
