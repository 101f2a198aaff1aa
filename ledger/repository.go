package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound signals the address has no ledger row yet.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrAlreadyLocked signals an active fund lock already exists for the address.
	ErrAlreadyLocked = errors.New("ledger: funds already locked")
	// ErrAlreadyDisabled signals withdrawals are already disabled for the address.
	ErrAlreadyDisabled = errors.New("ledger: withdrawals already disabled")
	// ErrNotLocked signals there is no active lock to release.
	ErrNotLocked = errors.New("ledger: no active fund lock")
	// ErrNotDisabled signals there is no active restriction to release.
	ErrNotDisabled = errors.New("ledger: withdrawals not disabled")
	// ErrDisputeMismatch signals the release referenced a different dispute than
	// the one that created the lock or restriction.
	ErrDisputeMismatch = errors.New("ledger: dispute id mismatch")
)

// Repository defines the data access the ledger service composes inside
// transactions. All mutating methods operate on rows already serialized by
// FOR UPDATE through EnsureAccount/GetAccount.
type Repository interface {
	GetAccount(ctx context.Context, tx pgx.Tx, address string) (Account, error)
	EnsureAccount(ctx context.Context, tx pgx.Tx, address string) (Account, error)
	SetBalances(ctx context.Context, tx pgx.Tx, address string, available, locked int64) error
	SetWithdrawalDisabled(ctx context.Context, tx pgx.Tx, address string, disabled bool) error

	ActiveLock(ctx context.Context, tx pgx.Tx, address string) (*FundLock, error)
	InsertLock(ctx context.Context, tx pgx.Tx, lock FundLock) (FundLock, error)
	ReleaseLock(ctx context.Context, tx pgx.Tx, lockID string) error

	ActiveRestriction(ctx context.Context, tx pgx.Tx, address string) (*WithdrawalRestriction, error)
	InsertRestriction(ctx context.Context, tx pgx.Tx, r WithdrawalRestriction) (WithdrawalRestriction, error)
	ReleaseRestriction(ctx context.Context, tx pgx.Tx, restrictionID string) error

	Status(ctx context.Context, address string) (LockStatus, error)
	Balance(ctx context.Context, address string) (Account, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const accountColumns = `address, available_balance, locked_amount, withdrawal_disabled, created_at, updated_at`

// GetAccount loads and row-locks the account for the duration of the transaction.
func (r *PGRepository) GetAccount(ctx context.Context, tx pgx.Tx, address string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1 FOR UPDATE`
	acct, err := scanAccount(tx.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: get account: %w", err)
	}
	return acct, nil
}

// EnsureAccount creates the account row if missing, then row-locks it.
// Accounts come into existence on first use; there is no explicit open call.
func (r *PGRepository) EnsureAccount(ctx context.Context, tx pgx.Tx, address string) (Account, error) {
	const upsertSQL = `
		INSERT INTO accounts (address) VALUES ($1)
		ON CONFLICT (address) DO NOTHING
	`
	if _, err := tx.Exec(ctx, upsertSQL, address); err != nil {
		return Account{}, fmt.Errorf("ledger: ensure account: %w", err)
	}
	return r.GetAccount(ctx, tx, address)
}

func (r *PGRepository) SetBalances(ctx context.Context, tx pgx.Tx, address string, available, locked int64) error {
	const updateSQL = `
		UPDATE accounts
		SET available_balance = $1, locked_amount = $2, updated_at = get_tx_timestamp()
		WHERE address = $3
	`
	tag, err := tx.Exec(ctx, updateSQL, available, locked, address)
	if err != nil {
		return fmt.Errorf("ledger: set balances: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PGRepository) SetWithdrawalDisabled(ctx context.Context, tx pgx.Tx, address string, disabled bool) error {
	const updateSQL = `
		UPDATE accounts
		SET withdrawal_disabled = $1, updated_at = get_tx_timestamp()
		WHERE address = $2
	`
	tag, err := tx.Exec(ctx, updateSQL, disabled, address)
	if err != nil {
		return fmt.Errorf("ledger: set withdrawal flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

const lockColumns = `id, address, dispute_id, amount, reason, active, locked_at, released_at`

// ActiveLock returns the active lock for the address, or nil when none exists.
func (r *PGRepository) ActiveLock(ctx context.Context, tx pgx.Tx, address string) (*FundLock, error) {
	query := `SELECT ` + lockColumns + ` FROM fund_locks WHERE address = $1 AND active FOR UPDATE`
	lock, err := scanLock(tx.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: active lock: %w", err)
	}
	return &lock, nil
}

// InsertLock creates the active lock row. The partial unique index on
// (address) WHERE active turns a double-lock race into ErrAlreadyLocked.
func (r *PGRepository) InsertLock(ctx context.Context, tx pgx.Tx, lock FundLock) (FundLock, error) {
	insertSQL := `
		INSERT INTO fund_locks (address, dispute_id, amount, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + lockColumns
	created, err := scanLock(tx.QueryRow(ctx, insertSQL, lock.Address, lock.DisputeID, lock.Amount, lock.Reason))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return FundLock{}, ErrAlreadyLocked
		}
		return FundLock{}, fmt.Errorf("ledger: insert lock: %w", err)
	}
	return created, nil
}

func (r *PGRepository) ReleaseLock(ctx context.Context, tx pgx.Tx, lockID string) error {
	const releaseSQL = `
		UPDATE fund_locks
		SET active = false, released_at = get_tx_timestamp()
		WHERE id = $1 AND active
	`
	tag, err := tx.Exec(ctx, releaseSQL, lockID)
	if err != nil {
		return fmt.Errorf("ledger: release lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotLocked
	}
	return nil
}

const restrictionColumns = `id, address, dispute_id, reason, severity, active, disabled_at, released_at`

// ActiveRestriction returns the active restriction for the address, or nil.
func (r *PGRepository) ActiveRestriction(ctx context.Context, tx pgx.Tx, address string) (*WithdrawalRestriction, error) {
	query := `SELECT ` + restrictionColumns + ` FROM withdrawal_restrictions WHERE address = $1 AND active FOR UPDATE`
	restriction, err := scanRestriction(tx.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("ledger: active restriction: %w", err)
	}
	return &restriction, nil
}

func (r *PGRepository) InsertRestriction(ctx context.Context, tx pgx.Tx, restriction WithdrawalRestriction) (WithdrawalRestriction, error) {
	insertSQL := `
		INSERT INTO withdrawal_restrictions (address, dispute_id, reason, severity)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + restrictionColumns
	created, err := scanRestriction(tx.QueryRow(ctx, insertSQL,
		restriction.Address, restriction.DisputeID, restriction.Reason, restriction.Severity))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return WithdrawalRestriction{}, ErrAlreadyDisabled
		}
		return WithdrawalRestriction{}, fmt.Errorf("ledger: insert restriction: %w", err)
	}
	return created, nil
}

func (r *PGRepository) ReleaseRestriction(ctx context.Context, tx pgx.Tx, restrictionID string) error {
	const releaseSQL = `
		UPDATE withdrawal_restrictions
		SET active = false, released_at = get_tx_timestamp()
		WHERE id = $1 AND active
	`
	tag, err := tx.Exec(ctx, releaseSQL, restrictionID)
	if err != nil {
		return fmt.Errorf("ledger: release restriction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDisabled
	}
	return nil
}

// Status reads the lock/restriction view for an address without locking rows.
func (r *PGRepository) Status(ctx context.Context, address string) (LockStatus, error) {
	var status LockStatus

	lockQuery := `SELECT ` + lockColumns + ` FROM fund_locks WHERE address = $1 AND active`
	lock, err := scanLock(r.pool.QueryRow(ctx, lockQuery, address))
	switch {
	case err == nil:
		status.IsLocked = true
		status.Lock = &lock
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return LockStatus{}, fmt.Errorf("ledger: status lock: %w", err)
	}

	restrictionQuery := `SELECT ` + restrictionColumns + ` FROM withdrawal_restrictions WHERE address = $1 AND active`
	restriction, err := scanRestriction(r.pool.QueryRow(ctx, restrictionQuery, address))
	switch {
	case err == nil:
		status.IsWithdrawalDisabled = true
		status.Restriction = &restriction
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return LockStatus{}, fmt.Errorf("ledger: status restriction: %w", err)
	}

	return status, nil
}

// Balance reads the account row without locking it.
func (r *PGRepository) Balance(ctx context.Context, address string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`
	acct, err := scanAccount(r.pool.QueryRow(ctx, query, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: balance: %w", err)
	}
	return acct, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var acct Account
	err := row.Scan(
		&acct.Address,
		&acct.AvailableBalance,
		&acct.LockedAmount,
		&acct.WithdrawalDisabled,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	return acct, err
}

func scanLock(row pgx.Row) (FundLock, error) {
	var lock FundLock
	err := row.Scan(
		&lock.ID,
		&lock.Address,
		&lock.DisputeID,
		&lock.Amount,
		&lock.Reason,
		&lock.Active,
		&lock.LockedAt,
		&lock.ReleasedAt,
	)
	return lock, err
}

func scanRestriction(row pgx.Row) (WithdrawalRestriction, error) {
	var restriction WithdrawalRestriction
	err := row.Scan(
		&restriction.ID,
		&restriction.Address,
		&restriction.DisputeID,
		&restriction.Reason,
		&restriction.Severity,
		&restriction.Active,
		&restriction.DisabledAt,
		&restriction.ReleasedAt,
	)
	return restriction, err
}
