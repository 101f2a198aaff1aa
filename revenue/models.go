package revenue

import "time"

// Kind distinguishes genealogy-routed payments from direct tips.
type Kind string

const (
	KindPayment Kind = "payment"
	KindTip     Kind = "tip"
)

// Receipt mirrors the payments table and records how one incoming amount was
// carved up. Conservation holds by construction and by table constraint:
// PlatformFee + CreatorShare + AncestorShare + Remainder == Amount.
type Receipt struct {
	ID            string
	WorkID        *string
	CreatorID     string
	Kind          Kind
	Amount        int64
	PlatformFee   int64
	CreatorShare  int64
	AncestorShare int64
	AncestorCount int
	Remainder     int64
	CreatedAt     time.Time
}

// Split is the pure outcome of the distribution arithmetic.
type Split struct {
	PlatformFee   int64
	CreatorShare  int64
	PerAncestor   int64
	AncestorTotal int64
	// Remainder collects every integer-division leftover; it is credited to
	// the platform account so no unit of the payment is dropped.
	Remainder int64
}

// ComputeSplit carves amount into platform fee, direct-creator share, and the
// ancestor pool. With no ancestors the whole post-fee remainder goes to the
// direct creator. Otherwise the remainder splits 50/50 between the direct
// creator and the ancestor pool, and the pool divides evenly across ancestors.
func ComputeSplit(amount, feeRateBps int64, ancestors int) Split {
	fee := amount * feeRateBps / 10000
	remaining := amount - fee

	if ancestors <= 0 {
		return Split{PlatformFee: fee, CreatorShare: remaining}
	}

	half := remaining / 2
	pool := half
	remainder := remaining - 2*half

	per := pool / int64(ancestors)
	remainder += pool - per*int64(ancestors)

	return Split{
		PlatformFee:   fee,
		CreatorShare:  half,
		PerAncestor:   per,
		AncestorTotal: per * int64(ancestors),
		Remainder:     remainder,
	}
}
