package actors

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"lineage/ledger"
	"lineage/revenue"
	"lineage/voting"
)

// Actors hammer the domain services concurrently. Rejections are expected
// under contention (double votes, double locks, drained balances) and chaos
// terminates backends at random, so actors ignore call errors. The oracles
// in test/oracles are the authority on whether state was corrupted.

// Payer pushes license payments into random works from the genealogy chain.
func Payer(ctx context.Context, svc *revenue.Service, workIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		workID := workIDs[rand.Intn(len(workIDs))]
		amount := int64(100 + rand.Intn(900))
		_, _ = svc.ProcessPayment(ctx, workID, amount)
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Tipper sends direct tips, exercising the genealogy-free path.
func Tipper(ctx context.Context, svc *revenue.Service, creatorIDs []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		creatorID := creatorIDs[rand.Intn(len(creatorIDs))]
		amount := int64(50 + rand.Intn(450))
		_, _ = svc.ProcessTip(ctx, creatorID, amount)
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Voter repeatedly tries to stake on a voting. All but the first attempt per
// voter must fail with ErrAlreadyVoted; any other rejection (drained balance,
// voting ended) is also expected.
func Voter(ctx context.Context, svc *voting.Service, votingID string, voterIDs []string, optionCount int, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		voterID := voterIDs[rand.Intn(len(voterIDs))]
		option := rand.Intn(optionCount)
		stake := int64(10 + rand.Intn(90))
		_ = svc.CastVote(ctx, votingID, voterID, option, stake)
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Enforcer races lock/unlock cycles against the same addresses. The partial
// unique index must keep every address at no more than one active lock.
func Enforcer(ctx context.Context, svc *ledger.Service, addresses []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		address := addresses[rand.Intn(len(addresses))]
		disputeID := fmt.Sprintf("00000000-0000-0000-0000-%012d", rand.Intn(1000))

		if _, err := svc.LockFunds(ctx, address, "stress", disputeID, nil); err == nil {
			time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
			// release with the same dispute id; mismatched releases are
			// attempted by Releaser below
			_ = svc.UnlockFunds(ctx, address, disputeID)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Releaser attempts unlocks with random dispute ids. Almost all must fail
// with ErrNotLocked or ErrDisputeMismatch and never free someone else's hold.
func Releaser(ctx context.Context, svc *ledger.Service, addresses []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		address := addresses[rand.Intn(len(addresses))]
		disputeID := fmt.Sprintf("00000000-0000-0000-0000-%012d", rand.Intn(1000))
		_ = svc.UnlockFunds(ctx, address, disputeID)
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}
