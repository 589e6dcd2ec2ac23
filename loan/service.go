package loan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrValidation signals bad origination input.
	ErrValidation = errors.New("loan: validation failed")
	// ErrBorrowerNotFound signals that the borrower does not exist.
	ErrBorrowerNotFound = errors.New("loan: borrower not found")
	// ErrInvalidState signals an illegal status transition attempt.
	ErrInvalidState = errors.New("loan: invalid state transition")
	// ErrInvalidApprover signals an unknown approval side.
	ErrInvalidApprover = errors.New("loan: invalid approver")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service handles loan origination and the approval/lifecycle state machine.
type Service struct {
	pool TxBeginner
	repo Repository
	now  func() time.Time
}

// NewService creates a new loan ledger service.
func NewService(pool TxBeginner, repo Repository) *Service {
	return &Service{
		pool: pool,
		repo: repo,
		now:  time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create originates a loan in pending status with both approval flags down.
func (s *Service) Create(ctx context.Context, params CreateParams) (Loan, error) {
	if !params.Amount.IsPositive() {
		return Loan{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if params.InterestRate.IsNegative() {
		return Loan{}, fmt.Errorf("%w: interest rate must not be negative", ErrValidation)
	}
	if params.TermMonths <= 0 {
		return Loan{}, fmt.Errorf("%w: term must be at least one month", ErrValidation)
	}

	exists, err := s.repo.BorrowerExists(ctx, params.UserID)
	if err != nil {
		return Loan{}, err
	}
	if !exists {
		return Loan{}, ErrBorrowerNotFound
	}

	return s.repo.Create(ctx, params)
}

// Approve records one side of the dual-approval gate. Setting a flag that is
// already up is a no-op. When both sides have approved, the loan activates:
// start_date is stamped and end_date computed from the term.
func (s *Service) Approve(ctx context.Context, loanID int64, by Approver) (Loan, error) {
	if by != ApproverUs && by != ApproverCustomer {
		return Loan{}, ErrInvalidApprover
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Loan{}, fmt.Errorf("loan: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.GetForUpdate(ctx, tx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if l.Status != StatusPending {
		return Loan{}, fmt.Errorf("%w: approve on %s loan", ErrInvalidState, l.Status)
	}

	update := ApprovalUpdate{
		ID:                 l.ID,
		ApprovedByUs:       l.ApprovedByUs || by == ApproverUs,
		ApprovedByCustomer: l.ApprovedByCustomer || by == ApproverCustomer,
		Status:             StatusPending,
	}
	if update.ApprovedByUs && update.ApprovedByCustomer {
		start := s.now()
		end := start.AddDate(0, l.TermMonths, 0)
		update.Status = StatusActive
		update.StartDate = &start
		update.EndDate = &end
	}

	updated, err := s.repo.UpdateApproval(ctx, tx, update)
	if err != nil {
		return Loan{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Loan{}, fmt.Errorf("loan: commit approve: %w", err)
	}

	return updated, nil
}

// Cancel aborts a loan that has not yet activated.
func (s *Service) Cancel(ctx context.Context, loanID int64) (Loan, error) {
	return s.transition(ctx, loanID, StatusPending, StatusCancelled)
}

// MarkDefaulted moves an active loan to the defaulted terminal state. This is
// an operator decision; no automatic trigger exists.
func (s *Service) MarkDefaulted(ctx context.Context, loanID int64) (Loan, error) {
	return s.transition(ctx, loanID, StatusActive, StatusDefaulted)
}

func (s *Service) transition(ctx context.Context, loanID int64, from, to Status) (Loan, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Loan{}, fmt.Errorf("loan: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := s.repo.GetForUpdate(ctx, tx, loanID)
	if err != nil {
		return Loan{}, err
	}
	if l.Status != from {
		return Loan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, l.Status, to)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, loanID, to, nil)
	if err != nil {
		return Loan{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Loan{}, fmt.Errorf("loan: commit transition: %w", err)
	}

	return updated, nil
}

// Get returns the loan for the given identifier.
func (s *Service) Get(ctx context.Context, loanID int64) (Loan, error) {
	return s.repo.Get(ctx, loanID)
}

// List returns a page of loans matching the filters, newest first.
func (s *Service) List(ctx context.Context, filters Filters) ([]Loan, int, error) {
	return s.repo.List(ctx, filters)
}
