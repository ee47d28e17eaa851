package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"anthem-pipeline/internal/config"
	"anthem-pipeline/internal/models"
	"anthem-pipeline/internal/queue"
)

func newTestProcessor(t *testing.T) (*Processor, *queue.Service) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := queue.New(client, []string{models.JobTypeAnthemGeneration})
	return NewProcessor(config.Config{WorkerPollInterval: 10 * time.Millisecond}, q), q
}

func TestRunOnceCompletesJob(t *testing.T) {
	p, q := newTestProcessor(t)
	ctx := context.Background()

	p.RegisterHandler(models.JobTypeAnthemGeneration, func(_ context.Context, job *models.Job) (map[string]any, error) {
		return map[string]any{"anthem_id": job.Payload["anthem_id"]}, nil
	})

	id, err := q.Enqueue(ctx, models.JobTypeAnthemGeneration, map[string]any{"anthem_id": "anthem-2024-01-01"}, queue.Options{})
	require.NoError(t, err)

	worked, err := p.RunOnce(ctx, models.JobTypeAnthemGeneration)
	require.NoError(t, err)
	require.True(t, worked)

	job, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, "anthem-2024-01-01", job.Result["anthem_id"])
}

func TestRunOnceIdleReportsNoWork(t *testing.T) {
	p, _ := newTestProcessor(t)
	p.RegisterHandler(models.JobTypeAnthemGeneration, func(context.Context, *models.Job) (map[string]any, error) {
		return nil, nil
	})

	worked, err := p.RunOnce(context.Background(), models.JobTypeAnthemGeneration)
	require.NoError(t, err)
	require.False(t, worked)
}

func TestRunOnceRejectsUnregisteredType(t *testing.T) {
	p, _ := newTestProcessor(t)
	_, err := p.RunOnce(context.Background(), models.JobTypeAnthemGeneration)
	require.Error(t, err)
}

func TestRunOnceSchedulesRetryOnHandlerError(t *testing.T) {
	p, q := newTestProcessor(t)
	ctx := context.Background()

	p.RegisterHandler(models.JobTypeAnthemGeneration, func(context.Context, *models.Job) (map[string]any, error) {
		return nil, errors.New("synth unreachable")
	})

	id, err := q.Enqueue(ctx, models.JobTypeAnthemGeneration, nil, queue.Options{})
	require.NoError(t, err)

	worked, err := p.RunOnce(ctx, models.JobTypeAnthemGeneration)
	require.NoError(t, err)
	require.True(t, worked)

	job, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobRetry, job.Status)
	require.Equal(t, 1, job.Attempts)
	require.True(t, job.ReadyAt.After(time.Now()), "retry must be deferred by backoff")
	require.Contains(t, job.LastError, "synth unreachable")
}

func TestRunOnceSkipRetryFailsPermanently(t *testing.T) {
	p, q := newTestProcessor(t)
	ctx := context.Background()

	p.RegisterHandler(models.JobTypeAnthemGeneration, func(context.Context, *models.Job) (map[string]any, error) {
		return nil, errors.Join(errors.New("payload missing anthem_id"), queue.ErrSkipRetry)
	})

	id, err := q.Enqueue(ctx, models.JobTypeAnthemGeneration, nil, queue.Options{})
	require.NoError(t, err)

	worked, err := p.RunOnce(ctx, models.JobTypeAnthemGeneration)
	require.NoError(t, err)
	require.True(t, worked)

	job, err := q.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, job.Status)
	require.NotNil(t, job.FailedAt)
	require.Equal(t, job.MaxAttempts, job.Attempts)
}
