package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"loanflow/loan"
)

var (
	// ErrValidation signals a non-positive payment amount.
	ErrValidation = errors.New("payment: validation failed")
	// ErrLoanNotActive signals a payment recorded against a loan that is not
	// accepting payments.
	ErrLoanNotActive = errors.New("payment: loan not active")
	// ErrInvalidState signals a transition on a payment that already left
	// pending.
	ErrInvalidState = errors.New("payment: invalid state transition")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LoanStore is the slice of the loan ledger the processor needs: locking the
// loan aggregate and closing it out once the balance is retired. Implemented
// by loan.PGRepository.
type LoanStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (loan.Loan, error)
	MarkPaid(ctx context.Context, tx pgx.Tx, id int64, endDate time.Time) error
}

// Service records payments against active loans and drives the
// pending -> completed/failed/cancelled state machine. Settlement re-sums the
// loan's completed payments inside the same transaction and retires the loan
// once the total payable is covered.
type Service struct {
	pool  TxBeginner
	repo  Repository
	loans LoanStore
	now   func() time.Time
}

// NewService creates a new payment processor.
func NewService(pool TxBeginner, repo Repository, loans LoanStore) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		loans: loans,
		now:   time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Record registers a pending payment against an active loan. The loan row is
// locked so a concurrent status transition cannot slip between the check and
// the insert.
func (s *Service) Record(ctx context.Context, params RecordParams) (Payment, error) {
	if !params.Amount.IsPositive() {
		return Payment{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if params.PaymentDate.IsZero() {
		params.PaymentDate = s.now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.loans.GetForUpdate(ctx, tx, params.LoanID)
	if err != nil {
		return Payment{}, err
	}
	if l.Status != loan.StatusActive {
		return Payment{}, fmt.Errorf("%w: loan is %s", ErrLoanNotActive, l.Status)
	}

	p, err := s.repo.Insert(ctx, tx, params)
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("payment: commit record: %w", err)
	}

	return p, nil
}

// Settle completes a pending payment. If the loan's completed payments now
// cover the total payable, the loan transitions to paid with end_date set to
// the settlement time, overriding the term-computed date. Both writes happen
// in one transaction.
func (s *Service) Settle(ctx context.Context, paymentID int64) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusPending {
		return Payment{}, fmt.Errorf("%w: settle on %s payment", ErrInvalidState, p.Status)
	}

	l, err := s.loans.GetForUpdate(ctx, tx, p.LoanID)
	if err != nil {
		return Payment{}, err
	}

	settled, err := s.repo.UpdateStatus(ctx, tx, p.ID, StatusCompleted, nil)
	if err != nil {
		return Payment{}, err
	}

	sum, err := s.repo.SumCompleted(ctx, tx, p.LoanID)
	if err != nil {
		return Payment{}, err
	}
	if l.Status == loan.StatusActive && sum.GreaterThanOrEqual(l.TotalPayable()) {
		if err := s.loans.MarkPaid(ctx, tx, l.ID, s.now()); err != nil {
			return Payment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("payment: commit settle: %w", err)
	}

	return settled, nil
}

// Fail marks a pending payment as failed; the reason lands in the notes.
// A retry means recording a fresh payment.
func (s *Service) Fail(ctx context.Context, paymentID int64, reason string) (Payment, error) {
	var notes *string
	if reason != "" {
		notes = &reason
	}
	return s.transition(ctx, paymentID, StatusFailed, notes)
}

// Cancel voids a pending payment.
func (s *Service) Cancel(ctx context.Context, paymentID int64) (Payment, error) {
	return s.transition(ctx, paymentID, StatusCancelled, nil)
}

func (s *Service) transition(ctx context.Context, paymentID int64, to Status, notes *string) (Payment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Payment{}, fmt.Errorf("payment: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.repo.GetForUpdate(ctx, tx, paymentID)
	if err != nil {
		return Payment{}, err
	}
	if p.Status != StatusPending {
		return Payment{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, p.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, p.ID, to, notes)
	if err != nil {
		return Payment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Payment{}, fmt.Errorf("payment: commit transition: %w", err)
	}

	return updated, nil
}

// ListByLoan returns all payments for a loan, oldest first.
func (s *Service) ListByLoan(ctx context.Context, loanID int64) ([]Payment, error) {
	return s.repo.ListByLoan(ctx, loanID)
}
