package arbitration

import "time"

// Status represents the dispute lifecycle.
type Status string

const (
	StatusPending            Status = "pending"
	StatusAIProcessing       Status = "ai_processing"
	StatusResolved           Status = "resolved"
	StatusUnderReview        Status = "under_review"
	StatusEscalated          Status = "escalated"
	StatusAutoLocked         Status = "auto_locked"
	StatusWithdrawalDisabled Status = "withdrawal_disabled"
)

// Verdict is the human ruling that closes an open dispute.
type Verdict string

const (
	VerdictConfirmed Verdict = "confirmed"
	VerdictCleared   Verdict = "cleared"
)

// ActionTaken records which enforcement steps actually succeeded. The saga
// is not atomic; this field is the source of truth for what must be undone
// on appeal or clearance.
const (
	ActionNone           = "none"
	ActionLocked         = "locked"
	ActionLockedDisabled = "locked+disabled"
)

// Dispute mirrors the disputes table.
type Dispute struct {
	ReportID        string
	ReportedWorkID  string
	OriginalWorkID  string
	AccusedID       string
	ReporterID      string
	Status          Status
	SimilarityScore *int
	Recommendation  string
	DisputedAreas   []string
	Confidence      float64
	ActionTaken     string
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}

// HoldsLock reports whether the enforcement saga placed a fund lock.
func (d Dispute) HoldsLock() bool {
	return d.ActionTaken == ActionLocked || d.ActionTaken == ActionLockedDisabled
}

// HoldsRestriction reports whether the saga disabled withdrawals.
func (d Dispute) HoldsRestriction() bool {
	return d.ActionTaken == ActionLockedDisabled
}

// Assessment is the classifier's opinion on a report.
type Assessment struct {
	SimilarityScore int      `json:"similarity_score"`
	DisputedAreas   []string `json:"disputed_areas"`
	Recommendation  string   `json:"recommendation"`
	Confidence      float64  `json:"confidence"`
}

// SubmitParams contains the caller-supplied fields for a new report.
type SubmitParams struct {
	ReportID       string
	ReportedWorkID string
	OriginalWorkID string
	ReporterID     string
}
