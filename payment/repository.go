package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound signals that the payment does not exist.
	ErrNotFound = errors.New("payment: not found")
)

// Repository defines the data access required by the processor. All mutating
// methods run inside the service's transaction.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, params RecordParams) (Payment, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Payment, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, notes *string) (Payment, error)
	SumCompleted(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error)
	ListByLoan(ctx context.Context, loanID int64) ([]Payment, error)
}

const paymentColumns = `id, loan_id, amount, payment_date, status::text, notes, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed payment repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params RecordParams) (Payment, error) {
	const insertSQL = `
		INSERT INTO payments (loan_id, amount, payment_date, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, insertSQL,
		params.LoanID, params.Amount, params.PaymentDate, params.Notes))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: insert: %w", err)
	}
	return p, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Payment, error) {
	const selectSQL = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = $1
		FOR UPDATE
	`

	p, err := scanPayment(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrNotFound
		}
		return Payment{}, fmt.Errorf("payment: get for update: %w", err)
	}
	return p, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, notes *string) (Payment, error) {
	const updateSQL = `
		UPDATE payments
		SET status=$2::payment_status, notes=COALESCE($3, notes), updated_at=NOW()
		WHERE id = $1
		RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, updateSQL, id, status, notes))
	if err != nil {
		return Payment{}, fmt.Errorf("payment: update status: %w", err)
	}
	return p, nil
}

// SumCompleted totals the completed payments for a loan. Callers hold the
// loan row lock, so the sum cannot move under them.
func (r *PGRepository) SumCompleted(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM payments
		WHERE loan_id = $1 AND status = 'completed'
	`, loanID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payment: sum completed: %w", err)
	}
	return sum, nil
}

func (r *PGRepository) ListByLoan(ctx context.Context, loanID int64) ([]Payment, error) {
	const selectSQL = `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE loan_id = $1
		ORDER BY payment_date ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, selectSQL, loanID)
	if err != nil {
		return nil, fmt.Errorf("payment: list by loan: %w", err)
	}
	defer rows.Close()

	list := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.LoanID,
		&p.Amount,
		&p.PaymentDate,
		&p.Status,
		&p.Notes,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
