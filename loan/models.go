package loan

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a loan.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaid      Status = "paid"
	StatusDefaulted Status = "defaulted"
	StatusCancelled Status = "cancelled"
)

// Approver identifies which side of the dual-approval gate is signing off.
type Approver string

const (
	ApproverUs       Approver = "us"
	ApproverCustomer Approver = "customer"
)

// Loan mirrors the loans table. Monetary fields are arbitrary-precision
// decimals; binary floats would drift over the loan's lifetime.
type Loan struct {
	ID                 int64
	UserID             int64
	Amount             decimal.Decimal
	InterestRate       decimal.Decimal
	TermMonths         int
	Status             Status
	ApprovedByUs       bool
	ApprovedByCustomer bool
	StartDate          *time.Time
	EndDate            *time.Time
	Purpose            *string
	Notes              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var hundred = decimal.NewFromInt(100)

// TotalPayable is principal plus simple interest over the full term:
// amount * (1 + interestRate/100).
func (l Loan) TotalPayable() decimal.Decimal {
	return l.Amount.Mul(hundred.Add(l.InterestRate)).Div(hundred)
}

// CreateParams contains write parameters for originating a loan.
type CreateParams struct {
	UserID       int64
	Amount       decimal.Decimal
	InterestRate decimal.Decimal
	TermMonths   int
	Purpose      *string
	Notes        *string
}

// Filters narrows List results.
type Filters struct {
	UserID   int64
	Status   Status
	Page     int
	PageSize int
}
