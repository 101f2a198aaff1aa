package ledger

import "time"

// Severity grades a withdrawal restriction.
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Account mirrors the accounts table. LockedAmount is carved out of
// AvailableBalance, so the withdrawable portion is
// AvailableBalance - LockedAmount. Amounts are integer minor units.
type Account struct {
	Address            string
	AvailableBalance   int64
	LockedAmount       int64
	WithdrawalDisabled bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Withdrawable returns the portion of the balance not held by a lock.
func (a Account) Withdrawable() int64 {
	return a.AvailableBalance - a.LockedAmount
}

// FundLock mirrors the fund_locks table. At most one active lock exists per
// address, tied to a single dispute.
type FundLock struct {
	ID         string
	Address    string
	DisputeID  string
	Amount     int64
	Reason     string
	Active     bool
	LockedAt   time.Time
	ReleasedAt *time.Time
}

// WithdrawalRestriction mirrors the withdrawal_restrictions table.
type WithdrawalRestriction struct {
	ID         string
	Address    string
	DisputeID  string
	Reason     string
	Severity   Severity
	Active     bool
	DisabledAt time.Time
	ReleasedAt *time.Time
}

// Credit is one balance increment inside a batch applied atomically.
type Credit struct {
	Address string
	Amount  int64
}

// LockStatus is the read model consumed by the withdrawal UI.
type LockStatus struct {
	IsLocked             bool
	Lock                 *FundLock
	IsWithdrawalDisabled bool
	Restriction          *WithdrawalRestriction
}
