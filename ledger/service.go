package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInvalidAmount signals a non-positive amount.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
	// ErrInsufficientFunds signals the withdrawable balance cannot cover the request.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrWithdrawalDisabled signals the account is blocked from withdrawing.
	ErrWithdrawalDisabled = errors.New("ledger: withdrawals disabled")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service owns all balance mutations. Every operation runs in its own
// transaction with the touched account rows locked FOR UPDATE, so concurrent
// distributions, stakes, and enforcement actions serialize per address.
type Service struct {
	pool TxBeginner
	repo Repository
}

// NewService builds the ledger service. A nil repo requires a *pgxpool.Pool
// elsewhere; callers in tests pass a fake repository.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{pool: pool, repo: repo}
}

// Credit adds amount to the address's available balance, creating the account
// on first use.
func (s *Service) Credit(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin credit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.creditTx(ctx, tx, address, amount); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit credit: %w", err)
	}
	return nil
}

func (s *Service) creditTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	acct, err := s.repo.EnsureAccount(ctx, tx, address)
	if err != nil {
		return err
	}
	return s.repo.SetBalances(ctx, tx, address, acct.AvailableBalance+amount, acct.LockedAmount)
}

// CreditManyTx applies a batch of credits inside the caller's transaction so
// a multi-party distribution lands atomically. Credits to the same address
// are merged and accounts are locked in address order to avoid deadlocks
// between concurrent batches.
func (s *Service) CreditManyTx(ctx context.Context, tx pgx.Tx, credits []Credit) error {
	merged := make(map[string]int64, len(credits))
	for _, c := range credits {
		if c.Amount < 0 {
			return ErrInvalidAmount
		}
		if c.Amount == 0 {
			continue
		}
		merged[c.Address] += c.Amount
	}

	addresses := make([]string, 0, len(merged))
	for addr := range merged {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	for _, addr := range addresses {
		if err := s.creditTx(ctx, tx, addr, merged[addr]); err != nil {
			return err
		}
	}
	return nil
}

// DebitTx removes amount from the address's withdrawable balance inside the
// caller's transaction. Used by the voting subsystem to escrow stakes.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	acct, err := s.repo.GetAccount(ctx, tx, address)
	if err != nil {
		return err
	}
	if amount > acct.Withdrawable() {
		return ErrInsufficientFunds
	}
	return s.repo.SetBalances(ctx, tx, address, acct.AvailableBalance-amount, acct.LockedAmount)
}

// CreditTx adds amount inside the caller's transaction. Used by the voting
// subsystem to return stakes.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.creditTx(ctx, tx, address, amount)
}

// Withdraw debits from the withdrawable portion only. Locked funds never
// leave the account and a withdrawal restriction blocks the whole operation.
func (s *Service) Withdraw(ctx context.Context, address string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin withdraw: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.GetAccount(ctx, tx, address)
	if err != nil {
		return err
	}
	if acct.WithdrawalDisabled {
		return ErrWithdrawalDisabled
	}
	if amount > acct.Withdrawable() {
		return ErrInsufficientFunds
	}
	if err := s.repo.SetBalances(ctx, tx, address, acct.AvailableBalance-amount, acct.LockedAmount); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit withdraw: %w", err)
	}
	return nil
}

// LockFunds places a hold tied to disputeID. A nil amount locks the full
// available balance. A second active lock for the address fails with
// ErrAlreadyLocked regardless of the dispute.
func (s *Service) LockFunds(ctx context.Context, address, reason, disputeID string, amount *int64) (FundLock, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FundLock{}, fmt.Errorf("ledger: begin lock: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.EnsureAccount(ctx, tx, address)
	if err != nil {
		return FundLock{}, err
	}
	if existing, err := s.repo.ActiveLock(ctx, tx, address); err != nil {
		return FundLock{}, err
	} else if existing != nil {
		return FundLock{}, ErrAlreadyLocked
	}

	amt := acct.AvailableBalance
	if amount != nil {
		if *amount < 0 {
			return FundLock{}, ErrInvalidAmount
		}
		if *amount > acct.AvailableBalance {
			return FundLock{}, ErrInsufficientFunds
		}
		amt = *amount
	}

	lock, err := s.repo.InsertLock(ctx, tx, FundLock{
		Address:   address,
		DisputeID: disputeID,
		Amount:    amt,
		Reason:    reason,
	})
	if err != nil {
		return FundLock{}, err
	}
	if err := s.repo.SetBalances(ctx, tx, address, acct.AvailableBalance, amt); err != nil {
		return FundLock{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FundLock{}, fmt.Errorf("ledger: commit lock: %w", err)
	}
	return lock, nil
}

// DisableWithdrawals places the stronger restriction that blocks all
// withdrawals regardless of lock amount.
func (s *Service) DisableWithdrawals(ctx context.Context, address, reason, disputeID string, severity Severity) (WithdrawalRestriction, error) {
	if severity != SeverityHigh && severity != SeverityCritical {
		return WithdrawalRestriction{}, fmt.Errorf("ledger: invalid severity %q", severity)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WithdrawalRestriction{}, fmt.Errorf("ledger: begin disable: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.EnsureAccount(ctx, tx, address); err != nil {
		return WithdrawalRestriction{}, err
	}
	if existing, err := s.repo.ActiveRestriction(ctx, tx, address); err != nil {
		return WithdrawalRestriction{}, err
	} else if existing != nil {
		return WithdrawalRestriction{}, ErrAlreadyDisabled
	}

	restriction, err := s.repo.InsertRestriction(ctx, tx, WithdrawalRestriction{
		Address:   address,
		DisputeID: disputeID,
		Reason:    reason,
		Severity:  severity,
	})
	if err != nil {
		return WithdrawalRestriction{}, err
	}
	if err := s.repo.SetWithdrawalDisabled(ctx, tx, address, true); err != nil {
		return WithdrawalRestriction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return WithdrawalRestriction{}, fmt.Errorf("ledger: commit disable: %w", err)
	}
	return restriction, nil
}

// UnlockFunds releases the active lock, which must reference disputeID.
func (s *Service) UnlockFunds(ctx context.Context, address, disputeID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin unlock: %w", err)
	}
	defer tx.Rollback(ctx)

	acct, err := s.repo.GetAccount(ctx, tx, address)
	if err != nil {
		return err
	}
	lock, err := s.repo.ActiveLock(ctx, tx, address)
	if err != nil {
		return err
	}
	if lock == nil {
		return ErrNotLocked
	}
	if lock.DisputeID != disputeID {
		return ErrDisputeMismatch
	}

	if err := s.repo.ReleaseLock(ctx, tx, lock.ID); err != nil {
		return err
	}
	if err := s.repo.SetBalances(ctx, tx, address, acct.AvailableBalance, 0); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit unlock: %w", err)
	}
	return nil
}

// EnableWithdrawals releases the active restriction, which must reference
// disputeID.
func (s *Service) EnableWithdrawals(ctx context.Context, address, disputeID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin enable: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.repo.GetAccount(ctx, tx, address); err != nil {
		return err
	}
	restriction, err := s.repo.ActiveRestriction(ctx, tx, address)
	if err != nil {
		return err
	}
	if restriction == nil {
		return ErrNotDisabled
	}
	if restriction.DisputeID != disputeID {
		return ErrDisputeMismatch
	}

	if err := s.repo.ReleaseRestriction(ctx, tx, restriction.ID); err != nil {
		return err
	}
	if err := s.repo.SetWithdrawalDisabled(ctx, tx, address, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit enable: %w", err)
	}
	return nil
}

// TransferLockedFunds moves the entire locked amount from one account into
// another's available balance and clears the lock. Both rows are locked in
// address order so two opposing transfers cannot deadlock.
func (s *Service) TransferLockedFunds(ctx context.Context, from, to, disputeID string) error {
	if from == to {
		return fmt.Errorf("ledger: transfer to self")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin transfer: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	if _, err := s.repo.EnsureAccount(ctx, tx, first); err != nil {
		return err
	}
	if _, err := s.repo.EnsureAccount(ctx, tx, second); err != nil {
		return err
	}

	fromAcct, err := s.repo.GetAccount(ctx, tx, from)
	if err != nil {
		return err
	}
	toAcct, err := s.repo.GetAccount(ctx, tx, to)
	if err != nil {
		return err
	}

	lock, err := s.repo.ActiveLock(ctx, tx, from)
	if err != nil {
		return err
	}
	if lock == nil {
		return ErrNotLocked
	}
	if lock.DisputeID != disputeID {
		return ErrDisputeMismatch
	}

	if err := s.repo.ReleaseLock(ctx, tx, lock.ID); err != nil {
		return err
	}
	if err := s.repo.SetBalances(ctx, tx, from, fromAcct.AvailableBalance-lock.Amount, 0); err != nil {
		return err
	}
	if err := s.repo.SetBalances(ctx, tx, to, toAcct.AvailableBalance+lock.Amount, toAcct.LockedAmount); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit transfer: %w", err)
	}
	return nil
}

// Status returns the lock/restriction view for an address.
func (s *Service) Status(ctx context.Context, address string) (LockStatus, error) {
	return s.repo.Status(ctx, address)
}

// Balance returns the account row for an address.
func (s *Service) Balance(ctx context.Context, address string) (Account, error) {
	return s.repo.Balance(ctx, address)
}
