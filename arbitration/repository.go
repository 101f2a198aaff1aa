package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("arbitration: dispute not found")
	// ErrDuplicateReport signals the report id was already submitted.
	ErrDuplicateReport = errors.New("arbitration: duplicate report id")
)

// Repository persists dispute state. Each mutation is a single statement:
// the enforcement saga is deliberately not one transaction, and the dispute
// row records how far it got.
type Repository interface {
	Create(ctx context.Context, d Dispute) (Dispute, error)
	Get(ctx context.Context, reportID string) (Dispute, error)
	SetStatus(ctx context.Context, reportID string, status Status, note string) error
	StoreAssessment(ctx context.Context, reportID string, a Assessment) error
	StoreOutcome(ctx context.Context, reportID string, status Status, actionTaken, note string) error
	MarkResolved(ctx context.Context, reportID string, note string) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]Dispute, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `report_id, reported_work_id, original_work_id, accused_id, reporter_id, status,
	similarity_score, recommendation, disputed_areas, confidence, action_taken, note,
	created_at, updated_at, resolved_at`

func (r *PGRepository) Create(ctx context.Context, d Dispute) (Dispute, error) {
	insertSQL := `
		INSERT INTO disputes (report_id, reported_work_id, original_work_id, accused_id, reporter_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + disputeColumns
	created, err := scanDispute(r.pool.QueryRow(ctx, insertSQL,
		d.ReportID, d.ReportedWorkID, d.OriginalWorkID, d.AccusedID, d.ReporterID))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrDuplicateReport
		}
		return Dispute{}, fmt.Errorf("arbitration: create dispute: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, reportID string) (Dispute, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE report_id = $1`
	d, err := scanDispute(r.pool.QueryRow(ctx, query, reportID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("arbitration: get dispute: %w", err)
	}
	return d, nil
}

func (r *PGRepository) SetStatus(ctx context.Context, reportID string, status Status, note string) error {
	const updateSQL = `
		UPDATE disputes
		SET status = $1, note = CASE WHEN $2 <> '' THEN $2 ELSE note END, updated_at = get_tx_timestamp()
		WHERE report_id = $3
	`
	tag, err := r.pool.Exec(ctx, updateSQL, status, note, reportID)
	if err != nil {
		return fmt.Errorf("arbitration: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) StoreAssessment(ctx context.Context, reportID string, a Assessment) error {
	const updateSQL = `
		UPDATE disputes
		SET similarity_score = $1, recommendation = $2, disputed_areas = $3, confidence = $4,
		    updated_at = get_tx_timestamp()
		WHERE report_id = $5
	`
	tag, err := r.pool.Exec(ctx, updateSQL,
		a.SimilarityScore, a.Recommendation, a.DisputedAreas, a.Confidence, reportID)
	if err != nil {
		return fmt.Errorf("arbitration: store assessment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) StoreOutcome(ctx context.Context, reportID string, status Status, actionTaken, note string) error {
	const updateSQL = `
		UPDATE disputes
		SET status = $1, action_taken = $2, note = $3, updated_at = get_tx_timestamp()
		WHERE report_id = $4
	`
	tag, err := r.pool.Exec(ctx, updateSQL, status, actionTaken, note, reportID)
	if err != nil {
		return fmt.Errorf("arbitration: store outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) MarkResolved(ctx context.Context, reportID string, note string) error {
	const updateSQL = `
		UPDATE disputes
		SET status = 'resolved', note = $1, resolved_at = get_tx_timestamp(), updated_at = get_tx_timestamp()
		WHERE report_id = $2
	`
	tag, err := r.pool.Exec(ctx, updateSQL, note, reportID)
	if err != nil {
		return fmt.Errorf("arbitration: mark resolved: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListByStatus(ctx context.Context, status Status, limit int) ([]Dispute, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("arbitration: list disputes: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, limit)
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("arbitration: scan dispute: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("arbitration: iterate disputes: %w", err)
	}
	return out, nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var d Dispute
	err := row.Scan(
		&d.ReportID,
		&d.ReportedWorkID,
		&d.OriginalWorkID,
		&d.AccusedID,
		&d.ReporterID,
		&d.Status,
		&d.SimilarityScore,
		&d.Recommendation,
		&d.DisputedAreas,
		&d.Confidence,
		&d.ActionTaken,
		&d.Note,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.ResolvedAt,
	)
	return d, err
}
