package work

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested work does not exist.
	ErrNotFound = errors.New("work: not found")
)

// Repository defines the data access used by the genealogy service.
type Repository interface {
	Get(ctx context.Context, id string) (Work, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Work, error)
	Insert(ctx context.Context, tx pgx.Tx, params RegisterParams) (Work, error)
	SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) error
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]Work, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const workColumns = `id, creator_id, parent_id, license_fee, allow_derivative, metadata_ref, active, created_at, updated_at`

// Get fetches a work by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Work, error) {
	query := `SELECT ` + workColumns + ` FROM works WHERE id = $1`
	w, err := scanWork(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Work{}, ErrNotFound
		}
		return Work{}, fmt.Errorf("work: get: %w", err)
	}
	return w, nil
}

// GetForUpdate fetches and row-locks a work inside the caller's transaction.
// Registration locks the parent row so its allow_derivative flag cannot flip
// underneath the insert.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Work, error) {
	query := `SELECT ` + workColumns + ` FROM works WHERE id = $1 FOR UPDATE`
	w, err := scanWork(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Work{}, ErrNotFound
		}
		return Work{}, fmt.Errorf("work: get for update: %w", err)
	}
	return w, nil
}

// Insert creates the work row.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params RegisterParams) (Work, error) {
	insertSQL := `
		INSERT INTO works (creator_id, parent_id, license_fee, allow_derivative, metadata_ref)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + workColumns
	w, err := scanWork(tx.QueryRow(ctx, insertSQL,
		params.CreatorID,
		params.ParentID,
		params.LicenseFee,
		params.AllowDerivative,
		params.MetadataRef,
	))
	if err != nil {
		return Work{}, fmt.Errorf("work: insert: %w", err)
	}
	return w, nil
}

// SetActive flips the only mutable flag on a work.
func (r *PGRepository) SetActive(ctx context.Context, tx pgx.Tx, id string, active bool) error {
	const updateSQL = `
		UPDATE works SET active = $1, updated_at = get_tx_timestamp() WHERE id = $2
	`
	tag, err := tx.Exec(ctx, updateSQL, active, id)
	if err != nil {
		return fmt.Errorf("work: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByCreator returns the creator's works, newest first.
func (r *PGRepository) ListByCreator(ctx context.Context, creatorID string, limit int) ([]Work, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + workColumns + ` FROM works WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("work: list: %w", err)
	}
	defer rows.Close()

	out := make([]Work, 0, limit)
	for rows.Next() {
		w, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("work: scan: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("work: iterate: %w", err)
	}
	return out, nil
}

func scanWork(row pgx.Row) (Work, error) {
	var w Work
	err := row.Scan(
		&w.ID,
		&w.CreatorID,
		&w.ParentID,
		&w.LicenseFee,
		&w.AllowDerivative,
		&w.MetadataRef,
		&w.Active,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	return w, err
}
