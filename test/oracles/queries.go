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

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_session_per_otp",
			SQL: `SELECT otp_id, COUNT(*) FROM sessions
                  WHERE otp_id IS NOT NULL
                  GROUP BY otp_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_activation_requires_dual_approval",
			SQL: `SELECT id, status FROM loans
                  WHERE status IN ('active','paid')
                  AND NOT (approved_by_us AND approved_by_customer)`,
		},
		{
			Name: "O3_active_loans_have_dates",
			SQL: `SELECT id FROM loans
                  WHERE status IN ('active','paid')
                  AND (start_date IS NULL OR end_date IS NULL)`,
		},
		{
			Name: "O4_paid_loans_fully_covered",
			SQL: `SELECT l.id FROM loans l
                  WHERE l.status = 'paid'
                  AND (SELECT COALESCE(SUM(p.amount), 0) FROM payments p
                       WHERE p.loan_id = l.id AND p.status = 'completed')
                      < l.amount * (100 + l.interest_rate) / 100`,
		},
		{
			Name: "O5_no_payments_outside_lifecycle",
			SQL: `SELECT p.id FROM payments p
                  JOIN loans l ON l.id = p.loan_id
                  WHERE l.status IN ('pending', 'cancelled')`,
		},
		{
			Name: "O6_resolution_fields_consistent",
			SQL: `SELECT id FROM error_logs
                  WHERE is_resolved <> (resolved_at IS NOT NULL AND resolved_by IS NOT NULL)`,
		},
		{
			Name: "O7_money_positive",
			SQL: `SELECT 'loan' AS src, id FROM loans WHERE amount <= 0 OR interest_rate < 0
                  UNION ALL
                  SELECT 'payment' AS src, id FROM payments WHERE amount <= 0`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
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
