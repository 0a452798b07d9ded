package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository on PostgreSQL.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewGenerationRepository creates a repository that runs its queries through sql.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql}
}

// Migrate creates the table when it does not exist yet.
func (r *GenerationRepositoryPG) Migrate(ctx context.Context) error {
	_, err := r.sql.Exec(ctx, sqlinline.QCreateGenerationRequestsTable)
	return err
}

// Create inserts req with version 1.
func (r *GenerationRepositoryPG) Create(ctx context.Context, req *domain.GenerationRequest) error {
	cols, err := encodeColumns(req)
	if err != nil {
		return err
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGenerationRequest,
		req.ID,
		req.UserID,
		req.ProjectID,
		req.InputPrompt,
		req.StyleGuidance,
		cols.params,
		string(req.Status),
		cols.samples,
		req.SelectedSampleID,
		req.DesiredResolution,
		cols.finalAsset,
		req.CreditsCostSample,
		req.CreditsCostFinal,
		req.CreditsRefundedSample,
		req.CreditsRefundedFinal,
		req.RegenerationCount,
		req.ErrorMessage,
		cols.errorDetails,
		int64(1),
		req.CreatedAt,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation request: %w", err)
	}
	req.Version = 1
	return nil
}

// GetByID fetches a request by its identifier.
func (r *GenerationRepositoryPG) GetByID(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	if !validID(id) {
		return nil, domain.ErrNotFound
	}
	row := r.sql.QueryRow(ctx, sqlinline.QSelectGenerationRequestByID, id)
	req, err := scanPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// Update writes req if the stored version still equals req.Version and bumps
// req.Version on success.
func (r *GenerationRepositoryPG) Update(ctx context.Context, req *domain.GenerationRequest) error {
	if !validID(req.ID) {
		return domain.ErrNotFound
	}
	cols, err := encodeColumns(req)
	if err != nil {
		return err
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateGenerationRequest,
		req.ID,
		req.UserID,
		req.ProjectID,
		req.InputPrompt,
		req.StyleGuidance,
		cols.params,
		string(req.Status),
		cols.samples,
		req.SelectedSampleID,
		req.DesiredResolution,
		cols.finalAsset,
		req.CreditsCostSample,
		req.CreditsCostFinal,
		req.CreditsRefundedSample,
		req.CreditsRefundedFinal,
		req.RegenerationCount,
		req.ErrorMessage,
		cols.errorDetails,
		req.Version,
		req.UpdatedAt,
	)
	var version int64
	if err := row.Scan(&version); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update generation request: %w", err)
		}
		var exists bool
		if err := r.sql.QueryRow(ctx, sqlinline.QGenerationRequestExists, req.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check generation request: %w", err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: generation request %s changed since version %d", domain.ErrConflict, req.ID, req.Version)
	}
	req.Version = version
	return nil
}

// ListStalled returns requests in statuses last updated before updatedBefore,
// oldest first.
func (r *GenerationRepositoryPG) ListStalled(ctx context.Context, statuses []domain.GenerationStatus, updatedBefore time.Time, limit int) ([]*domain.GenerationRequest, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListStalledGenerationRequests, statusStrings(statuses), updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.GenerationRequest
	for rows.Next() {
		req, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanPG(row rowScanner) (*domain.GenerationRequest, error) {
	var (
		req    domain.GenerationRequest
		cols   jsonColumns
		status string
	)
	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.ProjectID,
		&req.InputPrompt,
		&req.StyleGuidance,
		&cols.params,
		&status,
		&cols.samples,
		&req.SelectedSampleID,
		&req.DesiredResolution,
		&cols.finalAsset,
		&req.CreditsCostSample,
		&req.CreditsCostFinal,
		&req.CreditsRefundedSample,
		&req.CreditsRefundedFinal,
		&req.RegenerationCount,
		&req.ErrorMessage,
		&cols.errorDetails,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, err
	}
	req.Status = domain.GenerationStatus(status)
	if err := cols.decodeInto(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)

// validID reports whether id can match the uuid primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
