package arbitration

// Action is the enforcement a similarity score maps to.
type Action string

const (
	ActionTierNone           Action = "none"
	ActionTierReview         Action = "review"
	ActionTierEscalate       Action = "escalate"
	ActionTierLock           Action = "lock"
	ActionTierLockAndDisable Action = "lock_and_disable"
)

// Tier maps a minimum score to an action. Tiers are data, not code: the
// enforcement ladder can be reconfigured without touching the state machine.
type Tier struct {
	MinScore int
	Action   Action
}

// Policy is an ordered list of tiers, highest MinScore first.
type Policy []Tier

// DefaultPolicy is the stock enforcement ladder.
func DefaultPolicy() Policy {
	return Policy{
		{MinScore: 90, Action: ActionTierLockAndDisable},
		{MinScore: 80, Action: ActionTierLock},
		{MinScore: 50, Action: ActionTierEscalate},
		{MinScore: 20, Action: ActionTierReview},
		{MinScore: 0, Action: ActionTierNone},
	}
}

// ActionFor returns the action of the first tier the score reaches.
func (p Policy) ActionFor(score int) Action {
	for _, tier := range p {
		if score >= tier.MinScore {
			return tier.Action
		}
	}
	return ActionTierNone
}

// statusFor maps a non-enforcement action to its dispute status.
func statusFor(action Action) Status {
	switch action {
	case ActionTierReview:
		return StatusUnderReview
	case ActionTierEscalate:
		return StatusEscalated
	default:
		return StatusResolved
	}
}
