package voting

import "time"

// Status represents the lifecycle of a voting.
type Status string

const (
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

const (
	// MinOptions and MaxOptions bound the option list on creation.
	MinOptions = 2
	MaxOptions = 5
)

// Voting mirrors the votings table.
type Voting struct {
	ID            string
	WorkID        string
	CreatorID     string
	Status        Status
	MinStake      int64
	StartsAt      time.Time
	EndsAt        time.Time
	WinningOption *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Option mirrors the voting_options table. TotalStake accumulates every
// stake placed on the option; the tally weighs options by stake, not by
// voter count.
type Option struct {
	VotingID    string
	OptionIndex int
	Label       string
	TotalStake  int64
}

// VoteRecord mirrors the vote_records table. The (voting, voter) pair is
// unique; a voter cannot re-vote or split their stake.
type VoteRecord struct {
	VotingID     string
	VoterID      string
	OptionIndex  int
	StakedAmount int64
	Withdrawn    bool
	CreatedAt    time.Time
}

// CreateParams contains the caller-supplied fields for a new voting.
type CreateParams struct {
	WorkID          string
	CreatorID       string
	Options         []string
	DurationSeconds int64
	MinStake        int64
}

// OptionResult is one row of a tally.
type OptionResult struct {
	OptionIndex int
	Label       string
	TotalStake  int64
	// ShareBps is the option's share of all staked funds in basis points.
	ShareBps int64
}

// TallyResult summarizes a voting's stake distribution.
type TallyResult struct {
	VotingID   string
	Status     Status
	TotalStake int64
	Options    []OptionResult
}
