package voting

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the voting does not exist.
	ErrNotFound = errors.New("voting: not found")
	// ErrAlreadyVoted signals the voter already holds a vote record here.
	ErrAlreadyVoted = errors.New("voting: already voted")
	// ErrNoVote signals the voter has no vote record to withdraw.
	ErrNoVote = errors.New("voting: no vote record")
	// ErrInvalidOption signals the option index does not exist.
	ErrInvalidOption = errors.New("voting: invalid option")
)

// Repository defines the data access used by the voting service.
type Repository interface {
	InsertVoting(ctx context.Context, tx pgx.Tx, v Voting, options []string) (Voting, error)
	GetVoting(ctx context.Context, id string) (Voting, error)
	GetVotingForUpdate(ctx context.Context, tx pgx.Tx, id string) (Voting, error)
	SetEnded(ctx context.Context, tx pgx.Tx, id string, status Status, winningOption *int) error

	Options(ctx context.Context, votingID string) ([]Option, error)
	OptionsTx(ctx context.Context, tx pgx.Tx, votingID string) ([]Option, error)
	AddStake(ctx context.Context, tx pgx.Tx, votingID string, optionIndex int, amount int64) error

	InsertVote(ctx context.Context, tx pgx.Tx, rec VoteRecord) error
	GetVoteForUpdate(ctx context.Context, tx pgx.Tx, votingID, voterID string) (VoteRecord, error)
	MarkWithdrawn(ctx context.Context, tx pgx.Tx, votingID, voterID string) error
	HasVotes(ctx context.Context, tx pgx.Tx, votingID string) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const votingColumns = `id, work_id, creator_id, status, min_stake, starts_at, ends_at, winning_option, created_at, updated_at`

// InsertVoting writes the voting row plus one option row per label.
func (r *PGRepository) InsertVoting(ctx context.Context, tx pgx.Tx, v Voting, options []string) (Voting, error) {
	insertSQL := `
		INSERT INTO votings (work_id, creator_id, min_stake, starts_at, ends_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + votingColumns
	created, err := scanVoting(tx.QueryRow(ctx, insertSQL, v.WorkID, v.CreatorID, v.MinStake, v.StartsAt, v.EndsAt))
	if err != nil {
		return Voting{}, fmt.Errorf("voting: insert voting: %w", err)
	}

	const optionSQL = `
		INSERT INTO voting_options (voting_id, option_index, label)
		VALUES ($1, $2, $3)
	`
	for i, label := range options {
		if _, err := tx.Exec(ctx, optionSQL, created.ID, i, label); err != nil {
			return Voting{}, fmt.Errorf("voting: insert option %d: %w", i, err)
		}
	}
	return created, nil
}

func (r *PGRepository) GetVoting(ctx context.Context, id string) (Voting, error) {
	query := `SELECT ` + votingColumns + ` FROM votings WHERE id = $1`
	v, err := scanVoting(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voting{}, ErrNotFound
		}
		return Voting{}, fmt.Errorf("voting: get: %w", err)
	}
	return v, nil
}

// GetVotingForUpdate row-locks the voting, serializing concurrent casts and
// the end transition against each other.
func (r *PGRepository) GetVotingForUpdate(ctx context.Context, tx pgx.Tx, id string) (Voting, error) {
	query := `SELECT ` + votingColumns + ` FROM votings WHERE id = $1 FOR UPDATE`
	v, err := scanVoting(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voting{}, ErrNotFound
		}
		return Voting{}, fmt.Errorf("voting: get for update: %w", err)
	}
	return v, nil
}

func (r *PGRepository) SetEnded(ctx context.Context, tx pgx.Tx, id string, status Status, winningOption *int) error {
	const updateSQL = `
		UPDATE votings
		SET status = $1, winning_option = $2, updated_at = get_tx_timestamp()
		WHERE id = $3
	`
	tag, err := tx.Exec(ctx, updateSQL, status, winningOption, id)
	if err != nil {
		return fmt.Errorf("voting: set ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const optionColumns = `voting_id, option_index, label, total_stake`

func (r *PGRepository) Options(ctx context.Context, votingID string) ([]Option, error) {
	query := `SELECT ` + optionColumns + ` FROM voting_options WHERE voting_id = $1 ORDER BY option_index`
	rows, err := r.pool.Query(ctx, query, votingID)
	if err != nil {
		return nil, fmt.Errorf("voting: options: %w", err)
	}
	defer rows.Close()
	return collectOptions(rows)
}

func (r *PGRepository) OptionsTx(ctx context.Context, tx pgx.Tx, votingID string) ([]Option, error) {
	query := `SELECT ` + optionColumns + ` FROM voting_options WHERE voting_id = $1 ORDER BY option_index`
	rows, err := tx.Query(ctx, query, votingID)
	if err != nil {
		return nil, fmt.Errorf("voting: options tx: %w", err)
	}
	defer rows.Close()
	return collectOptions(rows)
}

// AddStake increments the option total as a single read-modify-write inside
// the row's own lock, so concurrent casts never lose an update.
func (r *PGRepository) AddStake(ctx context.Context, tx pgx.Tx, votingID string, optionIndex int, amount int64) error {
	const updateSQL = `
		UPDATE voting_options
		SET total_stake = total_stake + $1
		WHERE voting_id = $2 AND option_index = $3
	`
	tag, err := tx.Exec(ctx, updateSQL, amount, votingID, optionIndex)
	if err != nil {
		return fmt.Errorf("voting: add stake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidOption
	}
	return nil
}

func (r *PGRepository) InsertVote(ctx context.Context, tx pgx.Tx, rec VoteRecord) error {
	const insertSQL = `
		INSERT INTO vote_records (voting_id, voter_id, option_index, staked_amount)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := tx.Exec(ctx, insertSQL, rec.VotingID, rec.VoterID, rec.OptionIndex, rec.StakedAmount); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyVoted
		}
		return fmt.Errorf("voting: insert vote: %w", err)
	}
	return nil
}

func (r *PGRepository) GetVoteForUpdate(ctx context.Context, tx pgx.Tx, votingID, voterID string) (VoteRecord, error) {
	const query = `
		SELECT voting_id, voter_id, option_index, staked_amount, withdrawn, created_at
		FROM vote_records
		WHERE voting_id = $1 AND voter_id = $2
		FOR UPDATE
	`
	var rec VoteRecord
	err := tx.QueryRow(ctx, query, votingID, voterID).Scan(
		&rec.VotingID,
		&rec.VoterID,
		&rec.OptionIndex,
		&rec.StakedAmount,
		&rec.Withdrawn,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoteRecord{}, ErrNoVote
		}
		return VoteRecord{}, fmt.Errorf("voting: get vote: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) MarkWithdrawn(ctx context.Context, tx pgx.Tx, votingID, voterID string) error {
	const updateSQL = `
		UPDATE vote_records SET withdrawn = true
		WHERE voting_id = $1 AND voter_id = $2 AND NOT withdrawn
	`
	tag, err := tx.Exec(ctx, updateSQL, votingID, voterID)
	if err != nil {
		return fmt.Errorf("voting: mark withdrawn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoVote
	}
	return nil
}

func (r *PGRepository) HasVotes(ctx context.Context, tx pgx.Tx, votingID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM vote_records WHERE voting_id = $1)`
	var exists bool
	if err := tx.QueryRow(ctx, query, votingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("voting: has votes: %w", err)
	}
	return exists, nil
}

func collectOptions(rows pgx.Rows) ([]Option, error) {
	out := make([]Option, 0, MaxOptions)
	for rows.Next() {
		var opt Option
		if err := rows.Scan(&opt.VotingID, &opt.OptionIndex, &opt.Label, &opt.TotalStake); err != nil {
			return nil, fmt.Errorf("voting: scan option: %w", err)
		}
		out = append(out, opt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("voting: iterate options: %w", err)
	}
	return out, nil
}

func scanVoting(row pgx.Row) (Voting, error) {
	var v Voting
	err := row.Scan(
		&v.ID,
		&v.WorkID,
		&v.CreatorID,
		&v.Status,
		&v.MinStake,
		&v.StartsAt,
		&v.EndsAt,
		&v.WinningOption,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	return v, err
}
