package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestEnforcementLifecycle_Integration runs the full lock/disable/release
// cycle against a live PostgreSQL via DATABASE_URL.
func TestEnforcementLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, tbl := range []string{"accounts", "fund_locks", "withdrawal_restrictions"} {
		if !tableExists(ctx, t, pool, tbl) {
			t.Skipf("table %s does not exist; ensure migrations are applied", tbl)
		}
	}

	accused := fmt.Sprintf("itest-accused-%d", time.Now().UnixNano())
	reporter := fmt.Sprintf("itest-reporter-%d", time.Now().UnixNano())
	disputeID := fmt.Sprintf("itest-dispute-%d", time.Now().UnixNano())

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM fund_locks WHERE address IN ($1, $2)`, accused, reporter)
		pool.Exec(ctx2, `DELETE FROM withdrawal_restrictions WHERE address IN ($1, $2)`, accused, reporter)
		pool.Exec(ctx2, `DELETE FROM accounts WHERE address IN ($1, $2)`, accused, reporter)
	})

	svc := NewService(pool, NewRepository(pool))

	if err := svc.Credit(ctx, accused, 1000); err != nil {
		t.Fatalf("credit accused: %v", err)
	}
	if err := svc.Credit(ctx, reporter, 200); err != nil {
		t.Fatalf("credit reporter: %v", err)
	}

	lock, err := svc.LockFunds(ctx, accused, "integration test", disputeID, nil)
	if err != nil {
		t.Fatalf("lock funds: %v", err)
	}
	if lock.Amount != 1000 {
		t.Fatalf("expected full balance locked, got %d", lock.Amount)
	}

	// The partial unique index must reject a second active lock.
	if _, err := svc.LockFunds(ctx, accused, "second", "other-dispute", nil); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	if _, err := svc.DisableWithdrawals(ctx, accused, "integration test", disputeID, SeverityCritical); err != nil {
		t.Fatalf("disable withdrawals: %v", err)
	}
	if err := svc.Withdraw(ctx, accused, 1); !errors.Is(err, ErrWithdrawalDisabled) {
		t.Fatalf("expected ErrWithdrawalDisabled, got %v", err)
	}

	if err := svc.UnlockFunds(ctx, accused, "wrong-dispute"); !errors.Is(err, ErrDisputeMismatch) {
		t.Fatalf("expected ErrDisputeMismatch, got %v", err)
	}

	if err := svc.TransferLockedFunds(ctx, accused, reporter, disputeID); err != nil {
		t.Fatalf("transfer locked funds: %v", err)
	}
	if err := svc.EnableWithdrawals(ctx, accused, disputeID); err != nil {
		t.Fatalf("enable withdrawals: %v", err)
	}

	accusedAcct, err := svc.Balance(ctx, accused)
	if err != nil {
		t.Fatalf("accused balance: %v", err)
	}
	if accusedAcct.AvailableBalance != 0 || accusedAcct.LockedAmount != 0 || accusedAcct.WithdrawalDisabled {
		t.Fatalf("unexpected accused account after resolution: %+v", accusedAcct)
	}

	reporterAcct, err := svc.Balance(ctx, reporter)
	if err != nil {
		t.Fatalf("reporter balance: %v", err)
	}
	if reporterAcct.AvailableBalance != 1200 {
		t.Fatalf("expected reporter balance 1200, got %d", reporterAcct.AvailableBalance)
	}

	status, err := svc.Status(ctx, accused)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.IsLocked || status.IsWithdrawalDisabled {
		t.Fatalf("expected clean status after release, got %+v", status)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
