package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"orchestrator/internal/domain"
	"orchestrator/internal/sqlinline"
)

// sqliteTimeLayout is fixed width so stored timestamps compare as text.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// GenerationRepositorySQLite implements domain.GenerationRepository on an
// embedded SQLite database. Used for single-node deployments and local runs.
type GenerationRepositorySQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*GenerationRepositorySQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases alive.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqlinline.QSQLiteCreateGenerationRequestsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return &GenerationRepositorySQLite{db: db}, nil
}

// Ping checks the database handle.
func (r *GenerationRepositorySQLite) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close releases the database handle.
func (r *GenerationRepositorySQLite) Close() error {
	return r.db.Close()
}

func (r *GenerationRepositorySQLite) Create(ctx context.Context, req *domain.GenerationRequest) error {
	cols, err := encodeColumns(req)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, sqlinline.QSQLiteInsertGenerationRequest,
		req.ID,
		req.UserID,
		req.ProjectID,
		req.InputPrompt,
		req.StyleGuidance,
		string(cols.params),
		string(req.Status),
		string(cols.samples),
		req.SelectedSampleID,
		req.DesiredResolution,
		nullableText(cols.finalAsset),
		req.CreditsCostSample,
		req.CreditsCostFinal,
		req.CreditsRefundedSample,
		req.CreditsRefundedFinal,
		req.RegenerationCount,
		req.ErrorMessage,
		nullableText(cols.errorDetails),
		int64(1),
		formatSQLiteTime(req.CreatedAt),
		formatSQLiteTime(req.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert generation request: %w", err)
	}
	req.Version = 1
	return nil
}

func (r *GenerationRepositorySQLite) GetByID(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	row := r.db.QueryRowContext(ctx, sqlinline.QSQLiteSelectGenerationRequestByID, id)
	req, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return req, err
}

func (r *GenerationRepositorySQLite) Update(ctx context.Context, req *domain.GenerationRequest) error {
	cols, err := encodeColumns(req)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, sqlinline.QSQLiteUpdateGenerationRequest,
		req.UserID,
		req.ProjectID,
		req.InputPrompt,
		req.StyleGuidance,
		string(cols.params),
		string(req.Status),
		string(cols.samples),
		req.SelectedSampleID,
		req.DesiredResolution,
		nullableText(cols.finalAsset),
		req.CreditsCostSample,
		req.CreditsCostFinal,
		req.CreditsRefundedSample,
		req.CreditsRefundedFinal,
		req.RegenerationCount,
		req.ErrorMessage,
		nullableText(cols.errorDetails),
		formatSQLiteTime(req.UpdatedAt),
		req.ID,
		req.Version,
	)
	if err != nil {
		return fmt.Errorf("update generation request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update generation request: %w", err)
	}
	if n == 1 {
		req.Version++
		return nil
	}

	var count int
	if err := r.db.QueryRowContext(ctx, sqlinline.QSQLiteGenerationRequestExists, req.ID).Scan(&count); err != nil {
		return fmt.Errorf("check generation request: %w", err)
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: generation request %s changed since version %d", domain.ErrConflict, req.ID, req.Version)
}

func (r *GenerationRepositorySQLite) ListStalled(ctx context.Context, statuses []domain.GenerationStatus, updatedBefore time.Time, limit int) ([]*domain.GenerationRequest, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := fmt.Sprintf(sqlinline.QSQLiteListStalledGenerationRequests, placeholders)

	args := make([]any, 0, len(statuses)+2)
	for _, s := range statusStrings(statuses) {
		args = append(args, s)
	}
	args = append(args, formatSQLiteTime(updatedBefore), limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.GenerationRequest
	for rows.Next() {
		req, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanSQLite(row rowScanner) (*domain.GenerationRequest, error) {
	var (
		req                  domain.GenerationRequest
		params, samples      string
		finalAsset, details  sql.NullString
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&req.ID,
		&req.UserID,
		&req.ProjectID,
		&req.InputPrompt,
		&req.StyleGuidance,
		&params,
		&status,
		&samples,
		&req.SelectedSampleID,
		&req.DesiredResolution,
		&finalAsset,
		&req.CreditsCostSample,
		&req.CreditsCostFinal,
		&req.CreditsRefundedSample,
		&req.CreditsRefundedFinal,
		&req.RegenerationCount,
		&req.ErrorMessage,
		&details,
		&req.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	req.Status = domain.GenerationStatus(status)

	cols := jsonColumns{params: []byte(params), samples: []byte(samples)}
	if finalAsset.Valid {
		cols.finalAsset = []byte(finalAsset.String)
	}
	if details.Valid {
		cols.errorDetails = []byte(details.String)
	}
	if err := cols.decodeInto(&req); err != nil {
		return nil, err
	}

	var err error
	if req.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if req.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &req, nil
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func nullableText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

var _ domain.GenerationRepository = (*GenerationRepositorySQLite)(nil)
