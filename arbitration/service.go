package arbitration

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"lineage/ledger"
	"lineage/work"
)

var (
	// ErrInvalidState signals the dispute is not in a state that permits the
	// requested transition.
	ErrInvalidState = errors.New("arbitration: invalid dispute state")
	// ErrSameWork signals a report naming one work as its own original.
	ErrSameWork = errors.New("arbitration: reported and original work are the same")
)

// manualReviewNote annotates disputes the pipeline could not score.
const manualReviewNote = "manual_review_required"

// WorkGetter is the slice of the work service the arbitration machine needs.
type WorkGetter interface {
	Get(ctx context.Context, id string) (work.Work, error)
}

// EnforcementLedger is the slice of the ledger the enforcement saga drives.
// Every call is its own transaction; the saga persists which ones landed.
type EnforcementLedger interface {
	LockFunds(ctx context.Context, address, reason, disputeID string, amount *int64) (ledger.FundLock, error)
	DisableWithdrawals(ctx context.Context, address, reason, disputeID string, severity ledger.Severity) (ledger.WithdrawalRestriction, error)
	UnlockFunds(ctx context.Context, address, disputeID string) error
	EnableWithdrawals(ctx context.Context, address, disputeID string) error
	TransferLockedFunds(ctx context.Context, from, to, disputeID string) error
}

// Service drives the tiered copyright-arbitration state machine.
type Service struct {
	repo   Repository
	works  WorkGetter
	funds  EnforcementLedger
	scorer Scorer
	policy Policy
	idGen  func() string
}

// NewService builds the arbitration service with the default policy ladder.
func NewService(repo Repository, works WorkGetter, funds EnforcementLedger, scorer Scorer) *Service {
	return &Service{
		repo:   repo,
		works:  works,
		funds:  funds,
		scorer: scorer,
		policy: DefaultPolicy(),
		idGen:  func() string { return uuid.NewString() },
	}
}

// WithPolicy overrides the enforcement ladder.
func (s *Service) WithPolicy(p Policy) *Service {
	if len(p) > 0 {
		s.policy = p
	}
	return s
}

// WithIDGenerator fixes report id generation for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Submit files a report, obtains a similarity score, and applies the policy
// tier's enforcement. The pipeline spans the external classifier call and up
// to two independent ledger transactions; it is a saga, not one atomic
// operation. A classifier failure degrades to a safe default and leaves the
// dispute pending with a manual-review note instead of failing the call.
func (s *Service) Submit(ctx context.Context, params SubmitParams) (Dispute, error) {
	if params.ReportedWorkID == params.OriginalWorkID {
		return Dispute{}, ErrSameWork
	}

	reported, err := s.works.Get(ctx, params.ReportedWorkID)
	if err != nil {
		return Dispute{}, err
	}
	original, err := s.works.Get(ctx, params.OriginalWorkID)
	if err != nil {
		return Dispute{}, err
	}

	reportID := params.ReportID
	if reportID == "" {
		reportID = s.idGen()
	}
	reporterID := params.ReporterID
	if reporterID == "" {
		reporterID = original.CreatorID
	}

	if _, err := s.repo.Create(ctx, Dispute{
		ReportID:       reportID,
		ReportedWorkID: reported.ID,
		OriginalWorkID: original.ID,
		AccusedID:      reported.CreatorID,
		ReporterID:     reporterID,
	}); err != nil {
		return Dispute{}, err
	}

	if err := s.repo.SetStatus(ctx, reportID, StatusAIProcessing, ""); err != nil {
		return Dispute{}, err
	}

	assessment, err := s.scorer.Score(ctx, reported.ID, original.ID)
	if err != nil {
		// Degrade, never abort: score 0, flag for manual handling, and keep
		// the dispute at pending so the failure is visible and re-runnable.
		degraded := Assessment{SimilarityScore: 0, Recommendation: manualReviewNote}
		if storeErr := s.repo.StoreAssessment(ctx, reportID, degraded); storeErr != nil {
			return Dispute{}, storeErr
		}
		note := fmt.Sprintf("%s: %v", manualReviewNote, err)
		if storeErr := s.repo.StoreOutcome(ctx, reportID, StatusPending, ActionNone, note); storeErr != nil {
			return Dispute{}, storeErr
		}
		return s.repo.Get(ctx, reportID)
	}

	if err := s.repo.StoreAssessment(ctx, reportID, assessment); err != nil {
		return Dispute{}, err
	}

	if err := s.enforce(ctx, reportID, reported.CreatorID, assessment.SimilarityScore); err != nil {
		return Dispute{}, err
	}
	return s.repo.Get(ctx, reportID)
}

// enforce applies the policy tier for the score and persists exactly which
// ledger actions succeeded.
func (s *Service) enforce(ctx context.Context, reportID, accusedID string, score int) error {
	action := s.policy.ActionFor(score)

	switch action {
	case ActionTierNone, ActionTierReview, ActionTierEscalate:
		status := statusFor(action)
		if err := s.repo.StoreOutcome(ctx, reportID, status, ActionNone, ""); err != nil {
			return err
		}
		if status == StatusResolved {
			return s.repo.MarkResolved(ctx, reportID, "no violation found")
		}
		return nil

	case ActionTierLock:
		if _, err := s.funds.LockFunds(ctx, accusedID, "copyright dispute", reportID, nil); err != nil {
			note := fmt.Sprintf("lock failed: %v", err)
			return s.repo.StoreOutcome(ctx, reportID, StatusUnderReview, ActionNone, note)
		}
		return s.repo.StoreOutcome(ctx, reportID, StatusAutoLocked, ActionLocked, "")

	case ActionTierLockAndDisable:
		if _, err := s.funds.LockFunds(ctx, accusedID, "copyright dispute", reportID, nil); err != nil {
			note := fmt.Sprintf("lock failed: %v", err)
			return s.repo.StoreOutcome(ctx, reportID, StatusUnderReview, ActionNone, note)
		}
		if _, err := s.funds.DisableWithdrawals(ctx, accusedID, "copyright dispute", reportID, ledger.SeverityCritical); err != nil {
			// The lock landed, the disable did not. Surface the partial
			// success rather than rolling the lock back.
			note := fmt.Sprintf("disable failed: %v", err)
			return s.repo.StoreOutcome(ctx, reportID, StatusAutoLocked, ActionLocked, note)
		}
		return s.repo.StoreOutcome(ctx, reportID, StatusWithdrawalDisabled, ActionLockedDisabled, "")

	default:
		return fmt.Errorf("arbitration: unknown action %q", action)
	}
}

// open states a verdict may close.
func resolvable(status Status) bool {
	switch status {
	case StatusUnderReview, StatusEscalated, StatusAutoLocked, StatusWithdrawalDisabled:
		return true
	default:
		return false
	}
}

// Resolve closes an open dispute with a human verdict. Confirmed
// infringement forwards the locked funds to the reporter; a cleared dispute
// releases every enforcement the saga recorded.
func (s *Service) Resolve(ctx context.Context, reportID string, verdict Verdict) (Dispute, error) {
	d, err := s.repo.Get(ctx, reportID)
	if err != nil {
		return Dispute{}, err
	}
	if !resolvable(d.Status) {
		return Dispute{}, ErrInvalidState
	}

	switch verdict {
	case VerdictConfirmed:
		if d.HoldsLock() {
			if err := s.funds.TransferLockedFunds(ctx, d.AccusedID, d.ReporterID, reportID); err != nil {
				return Dispute{}, err
			}
		}
		if d.HoldsRestriction() {
			if err := s.funds.EnableWithdrawals(ctx, d.AccusedID, reportID); err != nil {
				return Dispute{}, err
			}
		}
		if err := s.repo.MarkResolved(ctx, reportID, "infringement confirmed"); err != nil {
			return Dispute{}, err
		}

	case VerdictCleared:
		if d.HoldsLock() {
			if err := s.funds.UnlockFunds(ctx, d.AccusedID, reportID); err != nil {
				return Dispute{}, err
			}
		}
		if d.HoldsRestriction() {
			if err := s.funds.EnableWithdrawals(ctx, d.AccusedID, reportID); err != nil {
				return Dispute{}, err
			}
		}
		if err := s.repo.MarkResolved(ctx, reportID, "cleared"); err != nil {
			return Dispute{}, err
		}

	default:
		return Dispute{}, fmt.Errorf("arbitration: unknown verdict %q", verdict)
	}

	return s.repo.Get(ctx, reportID)
}

// Appeal reverses the enforcement of a locked or disabled dispute and
// resolves it. The ledger releases are keyed to the same dispute id that
// created them.
func (s *Service) Appeal(ctx context.Context, reportID string) (Dispute, error) {
	d, err := s.repo.Get(ctx, reportID)
	if err != nil {
		return Dispute{}, err
	}
	if d.Status != StatusAutoLocked && d.Status != StatusWithdrawalDisabled {
		return Dispute{}, ErrInvalidState
	}

	if d.HoldsLock() {
		if err := s.funds.UnlockFunds(ctx, d.AccusedID, reportID); err != nil {
			return Dispute{}, err
		}
	}
	if d.HoldsRestriction() {
		if err := s.funds.EnableWithdrawals(ctx, d.AccusedID, reportID); err != nil {
			return Dispute{}, err
		}
	}
	if err := s.repo.MarkResolved(ctx, reportID, "appeal granted"); err != nil {
		return Dispute{}, err
	}
	return s.repo.Get(ctx, reportID)
}

// Get returns the dispute's current state.
func (s *Service) Get(ctx context.Context, reportID string) (Dispute, error) {
	return s.repo.Get(ctx, reportID)
}
