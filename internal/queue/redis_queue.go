package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/models"
)

var (
	// ErrQueueUnavailable wraps transport failures against the backing Redis.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrUnknownJobType rejects operations on types outside the registry.
	ErrUnknownJobType = errors.New("unknown job type")
	// ErrSkipRetry marks a handler failure as terminal: the remaining retry
	// budget is forfeited because the condition will not resolve on its own.
	ErrSkipRetry = errors.New("skip retry")
)

// Service is the queue façade. Job records live as JSON documents at
// job:<id>; each registered job type has one sorted-set index queue:<type>.
// The index score is the job priority for immediately runnable jobs and the
// ready-time in epoch millis for delayed or retrying ones, so ZRANGE order is
// priority-ascending followed by readiness-ascending.
type Service struct {
	client *redis.Client
	types  map[string]struct{}
}

// NewClient builds the Redis client the service owns. Constructed explicitly
// so callers control the connect/close lifecycle.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// New creates a queue service over the given client, serving only the
// registered job types.
func New(client *redis.Client, jobTypes []string) *Service {
	types := make(map[string]struct{}, len(jobTypes))
	for _, t := range jobTypes {
		types[t] = struct{}{}
	}
	return &Service{client: client, types: types}
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	return s.client.Close()
}

func jobKey(id string) string {
	return "job:" + id
}

func queueKey(jobType string) string {
	return "queue:" + jobType
}

// Options tune a single enqueue. Zero values select the defaults.
type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// Enqueue creates a job record and inserts it into the type's index.
func (s *Service) Enqueue(ctx context.Context, jobType string, payload map[string]any, opts Options) (string, error) {
	if _, ok := s.types[jobType]; !ok {
		return "", fmt.Errorf("enqueue %q: %w", jobType, ErrUnknownJobType)
	}
	if opts.Priority == 0 {
		opts.Priority = 1
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if payload == nil {
		payload = map[string]any{}
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     payload,
		Status:      models.JobQueued,
		Priority:    opts.Priority,
		ReadyAt:     now.Add(opts.Delay),
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   now,
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	score := float64(job.Priority)
	if opts.Delay > 0 {
		score = float64(job.ReadyAt.UnixMilli())
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, queueKey(jobType), redis.Z{Score: score, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", unavailable("enqueue", err)
	}
	return job.ID, nil
}

// dequeueScript pops the minimum-scored entry from the type index if its
// score is not in the future. Delayed entries carry epoch-milli scores, so a
// plain priority score always passes the readiness check. Running as a single
// script makes the read-check-remove claim linearizable: two workers racing
// on the same head entry can never both receive it.
var dequeueScript = redis.NewScript(`
local entry = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #entry == 0 then
  return false
end
if tonumber(entry[2]) > tonumber(ARGV[1]) then
  return false
end
redis.call('ZREM', KEYS[1], entry[1])
return entry[1]
`)

// Dequeue claims the next ready job of the given type, or nil when the queue
// is empty or its head is still delayed. The claimed job is marked processing
// with attempts incremented; the atomic index pop guarantees a single owner,
// so the subsequent record update cannot race another worker.
func (s *Service) Dequeue(ctx context.Context, jobType string) (*models.Job, error) {
	if _, ok := s.types[jobType]; !ok {
		return nil, fmt.Errorf("dequeue %q: %w", jobType, ErrUnknownJobType)
	}

	res, err := dequeueScript.Run(ctx, s.client, []string{queueKey(jobType)}, time.Now().UnixMilli()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("dequeue", err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("dequeue: unexpected script reply %T", res)
	}

	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		// Orphaned index entry; the pop above already removed it.
		log.Printf("queue: dropped orphaned entry %s from %s", id, jobType)
		return nil, nil
	}

	now := time.Now().UTC()
	job.Status = models.JobProcessing
	job.StartedAt = &now
	job.Attempts++
	if err := s.putJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a job finished and removes it from its index. Calling it for
// a missing or already-completed job is a logged no-op.
func (s *Service) Complete(ctx context.Context, id string, result map[string]any) error {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		log.Printf("queue: job %s not found for completion", id)
		return nil
	}

	now := time.Now().UTC()
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	job.Result = result
	job.LastError = ""

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey(job.Type), id)
	pipe.Set(ctx, jobKey(id), raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("complete", err)
	}
	return nil
}

// Fail records a failure. While attempts remain the job is re-indexed at
// now + 2^attempts seconds with status retry; otherwise it turns terminal.
// A cause wrapping ErrSkipRetry forfeits the remaining budget immediately.
func (s *Service) Fail(ctx context.Context, id string, cause error) error {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		log.Printf("queue: job %s not found for failure", id)
		return nil
	}

	now := time.Now().UTC()
	job.LastError = cause.Error()

	if job.Attempts < job.MaxAttempts && !errors.Is(cause, ErrSkipRetry) {
		backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
		job.Status = models.JobRetry
		job.ReadyAt = now.Add(backoff)

		raw, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, queueKey(job.Type), redis.Z{Score: float64(job.ReadyAt.UnixMilli()), Member: id})
		pipe.Set(ctx, jobKey(id), raw, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return unavailable("fail", err)
		}
		log.Printf("queue: job %s retrying in %s (attempt %d/%d)", id, backoff, job.Attempts, job.MaxAttempts)
		return nil
	}

	job.Status = models.JobFailed
	job.FailedAt = &now
	job.Attempts = job.MaxAttempts

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, queueKey(job.Type), id)
	pipe.Set(ctx, jobKey(id), raw, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("fail", err)
	}
	log.Printf("queue: job %s failed permanently after %d attempts: %v", id, job.Attempts, cause)
	return nil
}

// Status fetches a job record.
func (s *Service) Status(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", id, ErrJobNotFound)
	}
	return job, nil
}

// Stats returns the queued count per job type. An empty jobType covers the
// whole registry; types are never discovered by scanning storage keys.
func (s *Service) Stats(ctx context.Context, jobType string) (map[string]int64, error) {
	targets := make([]string, 0, len(s.types))
	if jobType != "" {
		if _, ok := s.types[jobType]; !ok {
			return nil, fmt.Errorf("stats %q: %w", jobType, ErrUnknownJobType)
		}
		targets = append(targets, jobType)
	} else {
		for t := range s.types {
			targets = append(targets, t)
		}
	}

	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(targets))
	for _, t := range targets {
		cmds[t] = pipe.ZCard(ctx, queueKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("stats", err)
	}

	out := make(map[string]int64, len(cmds))
	for t, c := range cmds {
		out[t] = c.Val()
	}
	return out, nil
}

// Cleanup deletes terminal job records whose terminal timestamp is older than
// maxAge. Non-terminal jobs are never touched. Records are found with a
// bounded SCAN over the job prefix since terminal jobs are out of every index.
func (s *Service) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	removed := 0

	iter := s.client.Scan(ctx, 0, jobKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, unavailable("cleanup", err)
		}
		var job models.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			log.Printf("queue: skipping unreadable record %s: %v", key, err)
			continue
		}
		if !job.Terminal() {
			continue
		}
		at, ok := job.TerminalAt()
		if !ok || !at.Before(cutoff) {
			continue
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, queueKey(job.Type), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, unavailable("cleanup", err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("cleanup", err)
	}
	return removed, nil
}

func (s *Service) getJob(ctx context.Context, id string) (*models.Job, error) {
	raw, err := s.client.Get(ctx, jobKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get job", err)
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (s *Service) putJob(ctx context.Context, job *models.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(job.ID), raw, 0).Err(); err != nil {
		return unavailable("put job", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("queue %s: %w", op, errors.Join(ErrQueueUnavailable, err))
}
