package data

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	domainjob "github.com/target/vidrelay/internal/domain/job"
	"github.com/target/vidrelay/internal/domain/model"
	apperrors "github.com/target/vidrelay/internal/errors"
)

const defaultRetention = 100

// JobRegistryOptions configures a MemoryJobRegistry.
type JobRegistryOptions struct {
	// Retention is the number of most recently created jobs kept by Sweep.
	Retention    int
	TimeProvider TimeProvider
}

type registryEntry struct {
	job *model.Job
	// seq orders jobs created within the same clock tick.
	seq uint64
}

// MemoryJobRegistry is a process-local, concurrency-safe job registry.
type MemoryJobRegistry struct {
	mu        sync.RWMutex
	jobs      map[string]*registryEntry
	seq       uint64
	retention int
	clock     TimeProvider
}

// NewMemoryJobRegistry creates an empty registry.
func NewMemoryJobRegistry(opts JobRegistryOptions) *MemoryJobRegistry {
	retention := opts.Retention
	if retention < 1 {
		retention = defaultRetention
	}
	clock := opts.TimeProvider
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	return &MemoryJobRegistry{
		jobs:      make(map[string]*registryEntry),
		retention: retention,
		clock:     clock,
	}
}

// Insert stores a copy of job, stamping CreatedAt and UpdatedAt.
func (r *MemoryJobRegistry) Insert(_ context.Context, job *model.Job) error {
	if job == nil || job.ID == "" {
		return ErrJobIDRequired
	}
	if job.Status != model.JobStatusPending {
		return fmt.Errorf("%w: new jobs must be %s, got %s",
			domainjob.ErrInvalidTransition, model.JobStatusPending, job.Status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	stored := job.Clone()
	now := r.clock.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.seq++
	r.jobs[job.ID] = &registryEntry{job: stored, seq: r.seq}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// Get returns a snapshot of the job.
func (r *MemoryJobRegistry) Get(_ context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	return e.job.Clone(), nil
}

// Update applies mutate to a working copy and commits it only when the
// resulting status change is allowed. Terminal jobs are never mutated.
func (r *MemoryJobRegistry) Update(
	_ context.Context,
	id string,
	mutate func(*model.Job) error,
) (*model.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if e.job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", domainjob.ErrTerminalJob, id, e.job.Status)
	}

	working := e.job.Clone()
	if err := mutate(working); err != nil {
		return nil, err
	}
	if err := domainjob.ValidateTransition(e.job.Status, working.Status); err != nil {
		return nil, err
	}

	// identity and creation time are owned by the registry
	working.ID = e.job.ID
	working.CreatedAt = e.job.CreatedAt

	now := r.clock.Now()
	working.UpdatedAt = now
	if working.Status.Terminal() {
		working.CompletedAt = &now
	} else {
		working.CompletedAt = nil
		working.Result = nil
		working.Error = nil
	}

	e.job = working
	return working.Clone(), nil
}

// List returns snapshots of all jobs, newest first.
func (r *MemoryJobRegistry) List(_ context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	entries := r.sortedLocked()
	out := make([]*model.Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job.Clone())
	}
	r.mu.RUnlock()
	return out, nil
}

// Sweep evicts the oldest jobs so at most Retention remain.
func (r *MemoryJobRegistry) Sweep(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	excess := len(r.jobs) - r.retention
	if excess <= 0 {
		return 0, nil
	}
	entries := r.sortedLocked()
	for _, e := range entries[r.retention:] {
		delete(r.jobs, e.job.ID)
	}
	return excess, nil
}

// Len returns the number of retained jobs.
func (r *MemoryJobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// sortedLocked returns entries ordered newest first. Caller holds r.mu.
func (r *MemoryJobRegistry) sortedLocked() []*registryEntry {
	entries := make([]*registryEntry, 0, len(r.jobs))
	for _, e := range r.jobs {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *registryEntry) int {
		if c := b.job.CreatedAt.Compare(a.job.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})
	return entries
}
