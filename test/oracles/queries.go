package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run against a live database during
// stress. Each query returns rows only when the invariant is violated.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_nonnegative_balances",
			SQL: `SELECT address, available_balance, locked_amount FROM accounts
                  WHERE available_balance < 0 OR locked_amount < 0
                     OR locked_amount > available_balance`,
		},
		{
			Name: "O2_single_active_lock",
			SQL: `SELECT address, COUNT(*) FROM fund_locks WHERE active
                  GROUP BY address HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_single_active_restriction",
			SQL: `SELECT address, COUNT(*) FROM withdrawal_restrictions WHERE active
                  GROUP BY address HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_payment_conservation",
			SQL: `SELECT id FROM payments
                  WHERE platform_fee + creator_share + ancestor_share + remainder <> amount`,
		},
		{
			Name: "O5_option_stake_matches_votes",
			SQL: `SELECT o.voting_id, o.option_index FROM voting_options o
                  WHERE o.total_stake <> (
                      SELECT COALESCE(SUM(v.staked_amount), 0) FROM vote_records v
                      WHERE v.voting_id = o.voting_id AND v.option_index = o.option_index)`,
		},
		{
			// Money enters only through payments; it moves between accounts
			// and vote escrow but never leaks. Holds because every mutation
			// is a single transaction.
			Name: "O6_global_conservation",
			SQL: `SELECT 'imbalance'
                  WHERE (SELECT COALESCE(SUM(available_balance), 0) FROM accounts)
                      + (SELECT COALESCE(SUM(staked_amount), 0) FROM vote_records WHERE NOT withdrawn)
                     <> (SELECT COALESCE(SUM(amount), 0) FROM payments)`,
		},
		{
			Name: "O7_released_locks_cleared",
			SQL: `SELECT a.address FROM accounts a
                  WHERE a.locked_amount > 0
                    AND NOT EXISTS (SELECT 1 FROM fund_locks l WHERE l.address = a.address AND l.active)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
