package revenue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrReceiptNotFound signals the requested receipt does not exist.
var ErrReceiptNotFound = errors.New("revenue: receipt not found")

// Repository persists distribution receipts.
type Repository interface {
	InsertReceipt(ctx context.Context, tx pgx.Tx, receipt Receipt) (Receipt, error)
	GetReceipt(ctx context.Context, id string) (Receipt, error)
	ListByCreator(ctx context.Context, creatorID string, limit int) ([]Receipt, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const receiptColumns = `id, work_id, creator_id, kind, amount, platform_fee, creator_share, ancestor_share, ancestor_count, remainder, created_at`

// InsertReceipt writes the receipt row inside the distribution transaction so
// the audit record and the credits land together or not at all.
func (r *PGRepository) InsertReceipt(ctx context.Context, tx pgx.Tx, receipt Receipt) (Receipt, error) {
	insertSQL := `
		INSERT INTO payments (work_id, creator_id, kind, amount, platform_fee, creator_share, ancestor_share, ancestor_count, remainder)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + receiptColumns
	created, err := scanReceipt(tx.QueryRow(ctx, insertSQL,
		receipt.WorkID,
		receipt.CreatorID,
		receipt.Kind,
		receipt.Amount,
		receipt.PlatformFee,
		receipt.CreatorShare,
		receipt.AncestorShare,
		receipt.AncestorCount,
		receipt.Remainder,
	))
	if err != nil {
		return Receipt{}, fmt.Errorf("revenue: insert receipt: %w", err)
	}
	return created, nil
}

// GetReceipt fetches one receipt by id.
func (r *PGRepository) GetReceipt(ctx context.Context, id string) (Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM payments WHERE id = $1`
	receipt, err := scanReceipt(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, fmt.Errorf("revenue: get receipt: %w", err)
	}
	return receipt, nil
}

// ListByCreator returns receipts crediting the creator, newest first.
func (r *PGRepository) ListByCreator(ctx context.Context, creatorID string, limit int) ([]Receipt, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := `SELECT ` + receiptColumns + ` FROM payments WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, creatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("revenue: list receipts: %w", err)
	}
	defer rows.Close()

	out := make([]Receipt, 0, limit)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("revenue: scan receipt: %w", err)
		}
		out = append(out, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("revenue: iterate receipts: %w", err)
	}
	return out, nil
}

func scanReceipt(row pgx.Row) (Receipt, error) {
	var receipt Receipt
	err := row.Scan(
		&receipt.ID,
		&receipt.WorkID,
		&receipt.CreatorID,
		&receipt.Kind,
		&receipt.Amount,
		&receipt.PlatformFee,
		&receipt.CreatorShare,
		&receipt.AncestorShare,
		&receipt.AncestorCount,
		&receipt.Remainder,
		&receipt.CreatedAt,
	)
	return receipt, err
}
