package loan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the loan does not exist.
	ErrNotFound = errors.New("loan: not found")
)

// Repository defines the data access required by the ledger. Methods taking
// a pgx.Tx participate in the caller's transaction; status transitions rely
// on the row lock taken by GetForUpdate.
type Repository interface {
	BorrowerExists(ctx context.Context, userID int64) (bool, error)
	Create(ctx context.Context, params CreateParams) (Loan, error)
	Get(ctx context.Context, id int64) (Loan, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Loan, error)
	UpdateApproval(ctx context.Context, tx pgx.Tx, update ApprovalUpdate) (Loan, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, endDate *time.Time) (Loan, error)
	List(ctx context.Context, filters Filters) ([]Loan, int, error)
}

// ApprovalUpdate carries the full approval state written back after an
// Approve call, including the activation side effects when both flags are set.
type ApprovalUpdate struct {
	ID                 int64
	ApprovedByUs       bool
	ApprovedByCustomer bool
	Status             Status
	StartDate          *time.Time
	EndDate            *time.Time
}

const loanColumns = `id, user_id, amount, interest_rate, term_months, status::text, approved_by_us,
		approved_by_customer, start_date, end_date, purpose, notes, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed loan repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) BorrowerExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id=$1 AND NOT is_deleted)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("loan: check borrower: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (Loan, error) {
	const insertSQL = `
		INSERT INTO loans (user_id, amount, interest_rate, term_months, purpose, notes)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + loanColumns

	l, err := scanLoan(r.pool.QueryRow(ctx, insertSQL,
		params.UserID,
		params.Amount,
		params.InterestRate,
		params.TermMonths,
		params.Purpose,
		params.Notes,
	))
	if err != nil {
		return Loan{}, fmt.Errorf("loan: create: %w", err)
	}
	return l, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Loan, error) {
	const selectSQL = `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE id = $1
	`

	l, err := scanLoan(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, fmt.Errorf("loan: get: %w", err)
	}
	return l, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Loan, error) {
	const selectSQL = `
		SELECT ` + loanColumns + `
		FROM loans
		WHERE id = $1
		FOR UPDATE
	`

	l, err := scanLoan(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Loan{}, ErrNotFound
		}
		return Loan{}, fmt.Errorf("loan: get for update: %w", err)
	}
	return l, nil
}

func (r *PGRepository) UpdateApproval(ctx context.Context, tx pgx.Tx, update ApprovalUpdate) (Loan, error) {
	const updateSQL = `
		UPDATE loans
		SET approved_by_us=$2, approved_by_customer=$3, status=$4::loan_status,
			start_date=$5, end_date=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING ` + loanColumns

	l, err := scanLoan(tx.QueryRow(ctx, updateSQL,
		update.ID,
		update.ApprovedByUs,
		update.ApprovedByCustomer,
		update.Status,
		update.StartDate,
		update.EndDate,
	))
	if err != nil {
		return Loan{}, fmt.Errorf("loan: update approval: %w", err)
	}
	return l, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, endDate *time.Time) (Loan, error) {
	const updateSQL = `
		UPDATE loans
		SET status=$2::loan_status, end_date=COALESCE($3, end_date), updated_at=NOW()
		WHERE id = $1
		RETURNING ` + loanColumns

	l, err := scanLoan(tx.QueryRow(ctx, updateSQL, id, status, endDate))
	if err != nil {
		return Loan{}, fmt.Errorf("loan: update status: %w", err)
	}
	return l, nil
}

// MarkPaid closes out a fully covered loan. Called by the payment processor
// inside its settlement transaction.
func (r *PGRepository) MarkPaid(ctx context.Context, tx pgx.Tx, id int64, endDate time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE loans
		SET status='paid'::loan_status, end_date=$2, updated_at=NOW()
		WHERE id = $1
	`, id, endDate)
	if err != nil {
		return fmt.Errorf("loan: mark paid: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]Loan, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}

	if filters.UserID != 0 {
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)+1))
		args = append(args, filters.UserID)
	}
	if filters.Status != "" {
		where = append(where, fmt.Sprintf("status=$%d::loan_status", len(args)+1))
		args = append(args, filters.Status)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM loans%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		loanColumns, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("loan: query list: %w", err)
	}
	defer rows.Close()

	list := []Loan{}
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, l)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM loans%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("loan: count list: %w", err)
	}

	return list, total, nil
}

func scanLoan(row pgx.Row) (Loan, error) {
	var l Loan
	err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.Amount,
		&l.InterestRate,
		&l.TermMonths,
		&l.Status,
		&l.ApprovedByUs,
		&l.ApprovedByCustomer,
		&l.StartDate,
		&l.EndDate,
		&l.Purpose,
		&l.Notes,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return Loan{}, err
	}
	return l, nil
}
