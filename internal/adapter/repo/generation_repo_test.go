package repo

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"orchestrator/internal/domain"
	"orchestrator/internal/sqlinline"
)

var base = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newRequest() *domain.GenerationRequest {
	req := domain.NewGenerationRequest("user-1", "project-1", "poster for a coffee shop", "warm", map[string]any{"outputFormat": "Post"}, base)
	return req
}

// exerciseRepository checks the behaviour every backend shares.
func exerciseRepository(t *testing.T, repo domain.GenerationRepository) {
	t.Helper()
	ctx := context.Background()

	req := newRequest()
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if req.Version != 1 {
		t.Fatalf("Version after create = %d, want 1", req.Version)
	}

	got, err := repo.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.UserID != "user-1" || got.InputParameters["outputFormat"] != "Post" || got.Status != domain.StatusPending {
		t.Fatalf("unexpected stored request: %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("CreatedAt = %v, want %v", got.CreatedAt, base)
	}

	stale := got.Clone()

	got.Status = domain.StatusAwaitingSelection
	got.SampleAssets = []domain.AssetInfo{{AssetID: "s1", URL: "https://cdn/s1.png", Format: "png"}}
	got.CreditsCostSample = 0.25
	got.ErrorDetails = map[string]any{"note": "kept"}
	got.UpdatedAt = base.Add(time.Minute)
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("Version after update = %d, want 2", got.Version)
	}

	stale.Status = domain.StatusFailed
	if err := repo.Update(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("stale Update error = %v, want ErrConflict", err)
	}

	reloaded, err := repo.GetByID(ctx, req.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if reloaded.Status != domain.StatusAwaitingSelection || len(reloaded.SampleAssets) != 1 || reloaded.SampleAssets[0].AssetID != "s1" {
		t.Fatalf("unexpected reloaded request: %+v", reloaded)
	}
	if reloaded.CreditsCostSample != 0.25 || reloaded.ErrorDetails["note"] != "kept" || reloaded.FinalAsset != nil {
		t.Fatalf("unexpected reloaded fields: %+v", reloaded)
	}

	if _, err := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing GetByID error = %v, want ErrNotFound", err)
	}
	missing := newRequest()
	missing.Version = 1
	if err := repo.Update(ctx, missing); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing Update error = %v, want ErrNotFound", err)
	}

	old := newRequest()
	old.Status = domain.StatusPublishingToQueue
	old.UpdatedAt = base.Add(-time.Hour)
	if err := repo.Create(ctx, old); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	fresh := newRequest()
	fresh.Status = domain.StatusPublishingToQueue
	fresh.UpdatedAt = base.Add(time.Hour)
	if err := repo.Create(ctx, fresh); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	stalled, err := repo.ListStalled(ctx, []domain.GenerationStatus{domain.StatusPending, domain.StatusPublishingToQueue}, base, 10)
	if err != nil {
		t.Fatalf("ListStalled error: %v", err)
	}
	if len(stalled) != 1 || stalled[0].ID != old.ID {
		t.Fatalf("ListStalled returned %d requests, want only %s", len(stalled), old.ID)
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewGenerationRepositoryMemory())
}

func TestMemoryRepositoryIsolatesCallers(t *testing.T) {
	repo := NewGenerationRepositoryMemory()
	req := newRequest()
	if err := repo.Create(context.Background(), req); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	req.InputParameters["outputFormat"] = "Story"

	got, err := repo.GetByID(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if got.InputParameters["outputFormat"] != "Post" {
		t.Fatalf("stored request mutated through caller reference")
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "generations.db"))
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	exerciseRepository(t, repo)
}

type stubExecutor struct {
	queries []string
	rows    []pgx.Row
	execErr error
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	return pgconn.CommandTag{}, s.execErr
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	if len(s.rows) == 0 {
		return stubRow{err: errors.New("unexpected query")}
	}
	row := s.rows[0]
	s.rows = s.rows[1:]
	return row
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("dest count mismatch")
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = v.(int64)
		case *bool:
			*d = v.(bool)
		default:
			return errors.New("unsupported dest")
		}
	}
	return nil
}

func TestPGUpdateBumpsVersion(t *testing.T) {
	exec := &stubExecutor{rows: []pgx.Row{stubRow{values: []any{int64(4)}}}}
	repo := NewGenerationRepository(exec)
	req := newRequest()
	req.Version = 3

	if err := repo.Update(context.Background(), req); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if req.Version != 4 {
		t.Fatalf("Version = %d, want 4", req.Version)
	}
	if exec.queries[0] != sqlinline.QUpdateGenerationRequest {
		t.Fatalf("unexpected query %q", exec.queries[0])
	}
}

func TestPGUpdateConflictAndMissing(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
		want   error
	}{
		{"conflict", true, domain.ErrConflict},
		{"missing", false, domain.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := &stubExecutor{rows: []pgx.Row{
				stubRow{err: pgx.ErrNoRows},
				stubRow{values: []any{tc.exists}},
			}}
			repo := NewGenerationRepository(exec)
			req := newRequest()
			req.Version = 2
			err := repo.Update(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Update error = %v, want %v", err, tc.want)
			}
			if req.Version != 2 {
				t.Fatalf("Version changed to %d", req.Version)
			}
		})
	}
}

func TestPGGetByIDNotFound(t *testing.T) {
	repo := NewGenerationRepository(&stubExecutor{rows: []pgx.Row{stubRow{err: pgx.ErrNoRows}}})
	if _, err := repo.GetByID(context.Background(), "6f1c2a0e-8d4b-4f7a-9c3e-2b5d7e9f1a3c"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
}

func TestPGMalformedIDIsNotFound(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewGenerationRepository(exec)

	if _, err := repo.GetByID(context.Background(), "abc"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetByID error = %v, want ErrNotFound", err)
	}
	req := newRequest()
	req.ID = "abc"
	if err := repo.Update(context.Background(), req); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
	if len(exec.queries) != 0 {
		t.Fatalf("queries sent for malformed id: %v", exec.queries)
	}
}

func TestPGCreateUsesMarkedInsert(t *testing.T) {
	exec := &stubExecutor{}
	repo := NewGenerationRepository(exec)
	req := newRequest()
	if err := repo.Create(context.Background(), req); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(exec.queries) != 1 || exec.queries[0] != sqlinline.QInsertGenerationRequest {
		t.Fatalf("unexpected queries %v", exec.queries)
	}
	if req.Version != 1 {
		t.Fatalf("Version = %d, want 1", req.Version)
	}
}
