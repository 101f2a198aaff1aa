package revenue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"lineage/ledger"
	"lineage/work"
)

var (
	// ErrInvalidAmount signals a non-positive payment or tip.
	ErrInvalidAmount = errors.New("revenue: invalid amount")
)

// DefaultFeeRateBps is the platform cut in basis points (5%).
const DefaultFeeRateBps = 500

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GenealogyStore is the slice of the work service the engine needs.
type GenealogyStore interface {
	Get(ctx context.Context, id string) (work.Work, error)
	AncestorChain(ctx context.Context, workID string) ([]work.Ancestor, error)
}

// Crediter applies a batch of balance credits inside the caller's
// transaction. Implemented by the ledger service.
type Crediter interface {
	CreditManyTx(ctx context.Context, tx pgx.Tx, credits []ledger.Credit) error
}

// Service routes settled payments through the genealogy-aware split and
// writes all resulting credits plus the receipt in one transaction.
type Service struct {
	pool            TxBeginner
	repo            Repository
	works           GenealogyStore
	crediter        Crediter
	feeRateBps      int64
	platformAddress string
}

// NewService builds the distribution engine.
func NewService(pool TxBeginner, repo Repository, works GenealogyStore, crediter Crediter, platformAddress string) *Service {
	return &Service{
		pool:            pool,
		repo:            repo,
		works:           works,
		crediter:        crediter,
		feeRateBps:      DefaultFeeRateBps,
		platformAddress: platformAddress,
	}
}

// WithFeeRate overrides the platform fee in basis points.
func (s *Service) WithFeeRate(bps int64) *Service {
	if bps >= 0 && bps <= 10000 {
		s.feeRateBps = bps
	}
	return s
}

// ProcessPayment splits amount across platform, the work's creator, and the
// creators of its ancestor chain. Every credit and the receipt commit
// atomically; a failure on any account leaves no partial distribution.
func (s *Service) ProcessPayment(ctx context.Context, workID string, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}

	w, err := s.works.Get(ctx, workID)
	if err != nil {
		return Receipt{}, err
	}
	chain, err := s.works.AncestorChain(ctx, workID)
	if err != nil {
		return Receipt{}, err
	}

	split := ComputeSplit(amount, s.feeRateBps, len(chain))

	credits := make([]ledger.Credit, 0, len(chain)+2)
	credits = append(credits,
		ledger.Credit{Address: s.platformAddress, Amount: split.PlatformFee + split.Remainder},
		ledger.Credit{Address: w.CreatorID, Amount: split.CreatorShare},
	)
	for _, ancestor := range chain {
		credits = append(credits, ledger.Credit{Address: ancestor.CreatorID, Amount: split.PerAncestor})
	}

	receipt := Receipt{
		WorkID:        &w.ID,
		CreatorID:     w.CreatorID,
		Kind:          KindPayment,
		Amount:        amount,
		PlatformFee:   split.PlatformFee,
		CreatorShare:  split.CreatorShare,
		AncestorShare: split.AncestorTotal,
		AncestorCount: len(chain),
		Remainder:     split.Remainder,
	}

	return s.distribute(ctx, receipt, credits)
}

// ProcessTip bypasses genealogy entirely: platform fee to the platform
// account, the rest straight to the named creator.
func (s *Service) ProcessTip(ctx context.Context, creatorID string, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	if creatorID == "" {
		return Receipt{}, fmt.Errorf("revenue: missing creator id")
	}

	split := ComputeSplit(amount, s.feeRateBps, 0)

	receipt := Receipt{
		CreatorID:    creatorID,
		Kind:         KindTip,
		Amount:       amount,
		PlatformFee:  split.PlatformFee,
		CreatorShare: split.CreatorShare,
	}
	credits := []ledger.Credit{
		{Address: s.platformAddress, Amount: split.PlatformFee},
		{Address: creatorID, Amount: split.CreatorShare},
	}

	return s.distribute(ctx, receipt, credits)
}

func (s *Service) distribute(ctx context.Context, receipt Receipt, credits []ledger.Credit) (Receipt, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("revenue: begin distribution: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.crediter.CreditManyTx(ctx, tx, credits); err != nil {
		return Receipt{}, err
	}
	created, err := s.repo.InsertReceipt(ctx, tx, receipt)
	if err != nil {
		return Receipt{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Receipt{}, fmt.Errorf("revenue: commit distribution: %w", err)
	}
	return created, nil
}

// Receipt fetches a single receipt by id.
func (s *Service) Receipt(ctx context.Context, id string) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// History returns receipts crediting a creator, newest first.
func (s *Service) History(ctx context.Context, creatorID string, limit int) ([]Receipt, error) {
	return s.repo.ListByCreator(ctx, creatorID, limit)
}
