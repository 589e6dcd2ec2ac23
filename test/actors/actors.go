package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Originator keeps creating small pending loans for the seeded borrower.
func Originator(ctx context.Context, pool *pgxpool.Pool, borrowerID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		amount := fmt.Sprintf("%d.00", 100+rand.Intn(900))
		_, err := pool.Exec(ctx, `INSERT INTO loans (user_id, amount, interest_rate, term_months)
                                   VALUES ($1, $2::numeric, 10, 12)`, borrowerID, amount)
		if err != nil && !isTransient(err) {
			return fmt.Errorf("originator insert: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Approver races to flip approval flags on pending loans, activating the loan
// once both sides have signed off. Mirrors loan.Service.Approve at the SQL
// level so many approvers can contend on the same rows.
func Approver(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if isTransient(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		var (
			id       int64
			us, cust bool
			term     int
		)
		err = tx.QueryRow(ctx, `SELECT id, approved_by_us, approved_by_customer, term_months
                                 FROM loans WHERE status='pending'
                                 ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).
			Scan(&id, &us, &cust, &term)
		if err == nil {
			if rand.Intn(2) == 0 {
				us = true
			} else {
				cust = true
			}
			if us && cust {
				_, err = tx.Exec(ctx, `UPDATE loans SET approved_by_us=$2, approved_by_customer=$3,
                                        status='active', start_date=NOW(),
                                        end_date=NOW() + make_interval(months => $4), updated_at=NOW()
                                        WHERE id=$1`, id, us, cust, term)
			} else {
				_, err = tx.Exec(ctx, `UPDATE loans SET approved_by_us=$2, approved_by_customer=$3, updated_at=NOW()
                                        WHERE id=$1`, id, us, cust)
			}
			if err == nil {
				err = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) && !isTransient(err) {
			return fmt.Errorf("approver: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Payer records pending payments against random active loans.
func Payer(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if isTransient(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		var loanID int64
		err = tx.QueryRow(ctx, `SELECT id FROM loans WHERE status='active'
                                 ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).Scan(&loanID)
		if err == nil {
			amount := fmt.Sprintf("%d.00", 50+rand.Intn(300))
			_, err = tx.Exec(ctx, `INSERT INTO payments (loan_id, amount, payment_date)
                                    VALUES ($1, $2::numeric, NOW())`, loanID, amount)
			if err == nil {
				err = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) && !isTransient(err) {
			return fmt.Errorf("payer: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// Settler completes pending payments and retires loans whose completed
// payments cover amount plus simple interest, all in one transaction.
func Settler(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if isTransient(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}
		var paymentID, loanID int64
		err = tx.QueryRow(ctx, `SELECT id, loan_id FROM payments WHERE status='pending'
                                 ORDER BY random() LIMIT 1 FOR UPDATE SKIP LOCKED`).
			Scan(&paymentID, &loanID)
		if err == nil {
			// Lock the loan before mutating the payment aggregate.
			_, err = tx.Exec(ctx, `SELECT 1 FROM loans WHERE id=$1 FOR UPDATE`, loanID)
			if err == nil {
				_, err = tx.Exec(ctx, `UPDATE payments SET status='completed', updated_at=NOW() WHERE id=$1`, paymentID)
			}
			if err == nil {
				_, err = tx.Exec(ctx, `
                    UPDATE loans SET status='paid', end_date=NOW(), updated_at=NOW()
                    WHERE id=$1 AND status='active'
                      AND (SELECT COALESCE(SUM(amount),0) FROM payments
                           WHERE loan_id=$1 AND status='completed')
                          >= amount * (100 + interest_rate) / 100`, loanID)
			}
			if err == nil {
				err = tx.Commit(ctx)
			}
		}
		_ = tx.Rollback(ctx)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) && !isTransient(err) {
			return fmt.Errorf("settler: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// CodeBreaker hammers the same OTP with session inserts. Exactly one may ever
// succeed; unique violations are the expected outcome under contention.
func CodeBreaker(ctx context.Context, pool *pgxpool.Pool, userID, otpID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		token := fmt.Sprintf("stress-token-%d-%d", otpID, rand.Int63())
		_, err := pool.Exec(ctx, `INSERT INTO sessions (user_id, otp_id, jwt_token, expires_at)
                                   VALUES ($1, $2, $3, NOW() + interval '1 hour')`, userID, otpID, token)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// expected: the OTP is already consumed
			} else if !isTransient(err) {
				return fmt.Errorf("codebreaker insert: %w", err)
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Resolver records error logs and closes them out with attribution.
func Resolver(ctx context.Context, pool *pgxpool.Pool, resolverID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var logID int64
		err := pool.QueryRow(ctx, `INSERT INTO error_logs (message, severity)
                                    VALUES ('stress failure', 'error') RETURNING id`).Scan(&logID)
		if err == nil && rand.Intn(2) == 0 {
			_, err = pool.Exec(ctx, `UPDATE error_logs
                                      SET is_resolved=true, resolved_at=NOW(), resolved_by=$2,
                                          resolution='auto-resolved by stress run', updated_at=NOW()
                                      WHERE id=$1 AND NOT is_resolved`, logID, resolverID)
		}
		if err != nil && !isTransient(err) {
			return fmt.Errorf("resolver: %w", err)
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// isTransient reports whether the error is expected noise from chaos-killed
// backends or serialization conflicts rather than a real failure.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "57P01", "40001", "40P01", "08006", "08003":
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}
