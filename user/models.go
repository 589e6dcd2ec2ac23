package user

import "time"

// User is the domain representation of a borrower, agent, or admin.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID          int64
	FirstName   *string
	LastName    *string
	FiscalID    *string
	Country     *string
	Address     *string
	Email       *string
	Phone       *string
	Birthday    *time.Time
	CreditScore *int
	IsAgent     bool
	IsAdmin     bool
	IsDeleted   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateParams contains write parameters for registering users. Every
// identifier is optional; the ones supplied must be unique across the table.
type CreateParams struct {
	FirstName *string
	LastName  *string
	FiscalID  *string
	Country   *string
	Address   *string
	Email     *string
	Phone     *string
	Birthday  *time.Time
	IsAgent   bool
	IsAdmin   bool
}

// Filters narrows List results.
type Filters struct {
	Country  string
	IsAgent  *bool
	Page     int
	PageSize int
}
