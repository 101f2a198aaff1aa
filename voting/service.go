package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"lineage/work"
)

var (
	// ErrNotCreator signals the caller does not own the voted-on work.
	ErrNotCreator = errors.New("voting: caller is not the work creator")
	// ErrVotingNotActive signals the voting ended, was cancelled, or expired.
	ErrVotingNotActive = errors.New("voting: not active")
	// ErrVotingStillActive signals an operation that requires the voting to
	// have ended.
	ErrVotingStillActive = errors.New("voting: still active")
	// ErrStakeTooLow signals the stake is below the voting's minimum.
	ErrStakeTooLow = errors.New("voting: stake below minimum")
	// ErrAlreadyWithdrawn signals the stake principal was already returned.
	ErrAlreadyWithdrawn = errors.New("voting: stake already withdrawn")
	// ErrVotesCast signals a cancel attempt after stakes were placed.
	ErrVotesCast = errors.New("voting: votes already cast")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WorkGetter is the slice of the work service the voting subsystem needs.
type WorkGetter interface {
	Get(ctx context.Context, id string) (work.Work, error)
}

// StakeLedger escrows and returns stake principal inside the caller's
// transaction. Implemented by the ledger service.
type StakeLedger interface {
	DebitTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error
	CreditTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error
}

// Service implements creator-initiated, stake-weighted votes on works.
type Service struct {
	pool  TxBeginner
	repo  Repository
	works WorkGetter
	funds StakeLedger
	now   func() time.Time
}

// NewService builds the voting service.
func NewService(pool TxBeginner, repo Repository, works WorkGetter, funds StakeLedger) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		works: works,
		funds: funds,
		now:   time.Now,
	}
}

// WithClock fixes the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create opens a voting on a work. Only the work's registered creator may
// call this.
func (s *Service) Create(ctx context.Context, params CreateParams) (Voting, error) {
	if len(params.Options) < MinOptions || len(params.Options) > MaxOptions {
		return Voting{}, fmt.Errorf("voting: need %d..%d options, got %d", MinOptions, MaxOptions, len(params.Options))
	}
	if params.DurationSeconds <= 0 {
		return Voting{}, fmt.Errorf("voting: invalid duration")
	}
	if params.MinStake <= 0 {
		return Voting{}, fmt.Errorf("voting: invalid min stake")
	}

	w, err := s.works.Get(ctx, params.WorkID)
	if err != nil {
		return Voting{}, err
	}
	if w.CreatorID != params.CreatorID {
		return Voting{}, ErrNotCreator
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Voting{}, fmt.Errorf("voting: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	created, err := s.repo.InsertVoting(ctx, tx, Voting{
		WorkID:    params.WorkID,
		CreatorID: params.CreatorID,
		MinStake:  params.MinStake,
		StartsAt:  now,
		EndsAt:    now.Add(time.Duration(params.DurationSeconds) * time.Second),
	}, params.Options)
	if err != nil {
		return Voting{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Voting{}, fmt.Errorf("voting: commit create: %w", err)
	}
	return created, nil
}

// CastVote escrows the voter's stake on one option. The voting row lock
// orders concurrent casts; the vote-record primary key rejects re-votes; the
// option increment and the ledger debit commit together.
func (s *Service) CastVote(ctx context.Context, votingID, voterID string, optionIndex int, stake int64) error {
	if stake <= 0 {
		return ErrStakeTooLow
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("voting: begin cast: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVotingForUpdate(ctx, tx, votingID)
	if err != nil {
		return err
	}
	if v.Status != StatusActive || s.now().After(v.EndsAt) {
		return ErrVotingNotActive
	}
	if stake < v.MinStake {
		return ErrStakeTooLow
	}

	if err := s.repo.InsertVote(ctx, tx, VoteRecord{
		VotingID:     votingID,
		VoterID:      voterID,
		OptionIndex:  optionIndex,
		StakedAmount: stake,
	}); err != nil {
		return err
	}
	if err := s.funds.DebitTx(ctx, tx, voterID, stake); err != nil {
		return err
	}
	if err := s.repo.AddStake(ctx, tx, votingID, optionIndex, stake); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("voting: commit cast: %w", err)
	}
	return nil
}

// Tally returns each option's staked total and its share of all stakes in
// basis points. Weight is stake magnitude, not voter count.
func (s *Service) Tally(ctx context.Context, votingID string) (TallyResult, error) {
	v, err := s.repo.GetVoting(ctx, votingID)
	if err != nil {
		return TallyResult{}, err
	}
	options, err := s.repo.Options(ctx, votingID)
	if err != nil {
		return TallyResult{}, err
	}

	var total int64
	for _, opt := range options {
		total += opt.TotalStake
	}

	result := TallyResult{VotingID: votingID, Status: v.Status, TotalStake: total}
	for _, opt := range options {
		res := OptionResult{
			OptionIndex: opt.OptionIndex,
			Label:       opt.Label,
			TotalStake:  opt.TotalStake,
		}
		if total > 0 {
			res.ShareBps = opt.TotalStake * 10000 / total
		}
		result.Options = append(result.Options, res)
	}
	return result, nil
}

// End closes the voting and records the winner: the option with the highest
// staked total, ties broken by the lowest option index. Anyone may end a
// voting past its deadline; only the creator may end it early.
func (s *Service) End(ctx context.Context, votingID, actorID string) (Voting, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Voting{}, fmt.Errorf("voting: begin end: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVotingForUpdate(ctx, tx, votingID)
	if err != nil {
		return Voting{}, err
	}
	if v.Status != StatusActive {
		return Voting{}, ErrVotingNotActive
	}
	if s.now().Before(v.EndsAt) && actorID != v.CreatorID {
		return Voting{}, ErrNotCreator
	}

	options, err := s.repo.OptionsTx(ctx, tx, votingID)
	if err != nil {
		return Voting{}, err
	}
	winner := 0
	var best int64 = -1
	for _, opt := range options {
		if opt.TotalStake > best {
			best = opt.TotalStake
			winner = opt.OptionIndex
		}
	}

	if err := s.repo.SetEnded(ctx, tx, votingID, StatusEnded, &winner); err != nil {
		return Voting{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Voting{}, fmt.Errorf("voting: commit end: %w", err)
	}

	v.Status = StatusEnded
	v.WinningOption = &winner
	return v, nil
}

// Cancel voids a voting that has no stakes yet. Creator only.
func (s *Service) Cancel(ctx context.Context, votingID, actorID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("voting: begin cancel: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVotingForUpdate(ctx, tx, votingID)
	if err != nil {
		return err
	}
	if v.CreatorID != actorID {
		return ErrNotCreator
	}
	if v.Status != StatusActive {
		return ErrVotingNotActive
	}
	voted, err := s.repo.HasVotes(ctx, tx, votingID)
	if err != nil {
		return err
	}
	if voted {
		return ErrVotesCast
	}

	if err := s.repo.SetEnded(ctx, tx, votingID, StatusCancelled, nil); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("voting: commit cancel: %w", err)
	}
	return nil
}

// WithdrawStake returns the voter's principal once the voting is no longer
// active. The refund carries no reward or penalty.
func (s *Service) WithdrawStake(ctx context.Context, votingID, voterID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("voting: begin withdraw: %w", err)
	}
	defer tx.Rollback(ctx)

	v, err := s.repo.GetVotingForUpdate(ctx, tx, votingID)
	if err != nil {
		return 0, err
	}
	if v.Status == StatusActive {
		return 0, ErrVotingStillActive
	}

	rec, err := s.repo.GetVoteForUpdate(ctx, tx, votingID, voterID)
	if err != nil {
		return 0, err
	}
	if rec.Withdrawn {
		return 0, ErrAlreadyWithdrawn
	}

	if err := s.repo.MarkWithdrawn(ctx, tx, votingID, voterID); err != nil {
		return 0, err
	}
	if err := s.funds.CreditTx(ctx, tx, voterID, rec.StakedAmount); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("voting: commit withdraw: %w", err)
	}
	return rec.StakedAmount, nil
}

// Get returns the voting row.
func (s *Service) Get(ctx context.Context, votingID string) (Voting, error) {
	return s.repo.GetVoting(ctx, votingID)
}
