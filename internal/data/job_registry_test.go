package data

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainjob "github.com/target/vidrelay/internal/domain/job"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
)

func newTestRegistry(t *testing.T, retention int) (*MemoryJobRegistry, *FixedTimeProvider) {
	t.Helper()
	clock := NewFixedTimeProvider(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemoryJobRegistry(JobRegistryOptions{Retention: retention, TimeProvider: clock}), clock
}

func pendingJob(id string) *model.Job {
	return &model.Job{ID: id, Status: model.JobStatusPending, SourceURL: "https://src.example/" + id}
}

func TestMemoryJobRegistry_InsertGet(t *testing.T) {
	reg, clock := newTestRegistry(t, 10)
	ctx := context.Background()

	job := pendingJob("a")
	require.NoError(t, reg.Insert(ctx, job))
	assert.Equal(t, clock.Now(), job.CreatedAt)

	got, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, clock.Now(), got.CreatedAt)

	// snapshots do not alias stored state
	got.Status = model.JobStatusFailed
	again, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, again.Status)

	err = reg.Insert(ctx, pendingJob("a"))
	require.ErrorIs(t, err, ErrJobExists)

	err = reg.Insert(ctx, &model.Job{ID: "b", Status: model.JobStatusUploading})
	require.ErrorIs(t, err, domainjob.ErrInvalidTransition)

	_, err = reg.Get(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestMemoryJobRegistry_UpdateLifecycle(t *testing.T) {
	reg, clock := newTestRegistry(t, 10)
	ctx := context.Background()
	require.NoError(t, reg.Insert(ctx, pendingJob("a")))

	setStatus := func(s model.JobStatus) func(*model.Job) error {
		return func(j *model.Job) error {
			j.Status = s
			return nil
		}
	}

	clock.AddTime(time.Second)
	job, err := reg.Update(ctx, "a", setStatus(model.JobStatusDownloading))
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), job.UpdatedAt)
	assert.Nil(t, job.CompletedAt)

	_, err = reg.Update(ctx, "a", setStatus(model.JobStatusCompleted))
	require.ErrorIs(t, err, domainjob.ErrInvalidTransition)

	_, err = reg.Update(ctx, "a", setStatus(model.JobStatusUploading))
	require.NoError(t, err)

	clock.AddTime(time.Second)
	job, err = reg.Update(ctx, "a", func(j *model.Job) error {
		j.Status = model.JobStatusCompleted
		j.Attempts = 1
		j.Result = &model.UploadResult{ID: "vid-1"}
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, clock.Now(), *job.CompletedAt)

	_, err = reg.Update(ctx, "a", setStatus(model.JobStatusFailed))
	require.ErrorIs(t, err, domainjob.ErrTerminalJob)

	final, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, job, final)
}

func TestMemoryJobRegistry_UpdateMutateErrorLeavesJobUnchanged(t *testing.T) {
	reg, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	require.NoError(t, reg.Insert(ctx, pendingJob("a")))

	boom := fmt.Errorf("boom")
	_, err := reg.Update(ctx, "a", func(j *model.Job) error {
		j.Status = model.JobStatusDownloading
		return boom
	})
	require.ErrorIs(t, err, boom)

	job, err := reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
}

func TestMemoryJobRegistry_SweepKeepsNewest(t *testing.T) {
	reg, clock := newTestRegistry(t, 3)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, reg.Insert(ctx, pendingJob(fmt.Sprintf("job-%d", i))))
		clock.AddTime(time.Millisecond)
	}
	// two more within the same tick; insertion order breaks the tie
	require.NoError(t, reg.Insert(ctx, pendingJob("same-1")))
	require.NoError(t, reg.Insert(ctx, pendingJob("same-2")))

	removed, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)
	assert.Equal(t, 3, reg.Len())

	jobs, err := reg.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"same-2", "same-1", "job-4"}, ids)

	removed, err = reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestMemoryJobRegistry_Concurrent(t *testing.T) {
	reg := NewMemoryJobRegistry(JobRegistryOptions{Retention: 50})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("job-%d", i)
			assert.NoError(t, reg.Insert(ctx, pendingJob(id)))
			_, err := reg.Update(ctx, id, func(j *model.Job) error {
				j.Status = model.JobStatusFailed
				j.Error = &model.JobError{Kind: "transfer", Message: "x"}
				return nil
			})
			if err != nil {
				// a concurrent sweep may already have evicted it
				assert.True(t, apperrors.IsNotFound(err), err)
			}
			_, _ = reg.List(ctx)
			if i%20 == 0 {
				_, _ = reg.Sweep(ctx)
			}
		}()
	}
	wg.Wait()

	_, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, reg.Len(), 50)
}

func TestMemoryCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCredentialStore("seed")

	tok, err := store.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "seed", tok)

	require.NoError(t, store.StoreRefreshToken(ctx, "rotated"))
	tok, err = store.RefreshToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rotated", tok)
}
