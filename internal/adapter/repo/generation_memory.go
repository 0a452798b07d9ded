package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"orchestrator/internal/domain"
)

// GenerationRepositoryMemory keeps requests in process memory. Stored values
// are cloned on the way in and out.
type GenerationRepositoryMemory struct {
	mu   sync.RWMutex
	rows map[string]*domain.GenerationRequest
}

func NewGenerationRepositoryMemory() *GenerationRepositoryMemory {
	return &GenerationRepositoryMemory{rows: make(map[string]*domain.GenerationRequest)}
}

func (r *GenerationRepositoryMemory) Create(_ context.Context, req *domain.GenerationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[req.ID]; ok {
		return fmt.Errorf("%w: generation request %s already exists", domain.ErrConflict, req.ID)
	}
	req.Version = 1
	r.rows[req.ID] = req.Clone()
	return nil
}

func (r *GenerationRepositoryMemory) GetByID(_ context.Context, id string) (*domain.GenerationRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return stored.Clone(), nil
}

func (r *GenerationRepositoryMemory) Update(_ context.Context, req *domain.GenerationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[req.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != req.Version {
		return fmt.Errorf("%w: generation request %s is at version %d, not %d", domain.ErrConflict, req.ID, stored.Version, req.Version)
	}
	req.Version++
	r.rows[req.ID] = req.Clone()
	return nil
}

func (r *GenerationRepositoryMemory) ListStalled(_ context.Context, statuses []domain.GenerationStatus, updatedBefore time.Time, limit int) ([]*domain.GenerationRequest, error) {
	want := make(map[domain.GenerationStatus]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	r.mu.RLock()
	var out []*domain.GenerationRequest
	for _, stored := range r.rows {
		if _, ok := want[stored.Status]; ok && stored.UpdatedAt.Before(updatedBefore) {
			out = append(out, stored.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryMemory)(nil)
