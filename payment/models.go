package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a payment. Pending is the only
// non-terminal state; a payment is never edited after leaving it.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Payment mirrors the payments table.
type Payment struct {
	ID          int64
	LoanID      int64
	Amount      decimal.Decimal
	PaymentDate time.Time
	Status      Status
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RecordParams contains write parameters for recording a payment against an
// active loan.
type RecordParams struct {
	LoanID      int64
	Amount      decimal.Decimal
	PaymentDate time.Time
	Notes       *string
}
