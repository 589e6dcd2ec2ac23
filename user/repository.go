package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the user does not exist or is soft-deleted.
	ErrNotFound = errors.New("user: not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("user: email already exists")
	// ErrDuplicatePhone signals that the phone number is already registered.
	ErrDuplicatePhone = errors.New("user: phone already exists")
	// ErrDuplicateFiscalID signals that the fiscal id is already registered.
	ErrDuplicateFiscalID = errors.New("user: fiscal id already exists")
)

// Repository handles data access for the user directory.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (User, error)
	GetByID(ctx context.Context, id int64) (User, error)
	List(ctx context.Context, filters Filters) ([]User, int, error)
	SoftDelete(ctx context.Context, id int64) error
	SetCreditScore(ctx context.Context, id int64, score int) (User, error)
}

const userColumns = `id, first_name, last_name, fiscal_id, country, address, email, phone,
		birthday, credit_score, is_agent, is_admin, is_deleted, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed user repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Create(ctx context.Context, params CreateParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (first_name, last_name, fiscal_id, country, address, email, phone, birthday, is_agent, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.FirstName,
		params.LastName,
		params.FiscalID,
		params.Country,
		params.Address,
		params.Email,
		params.Phone,
		params.Birthday,
		params.IsAgent,
		params.IsAdmin,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "users_email_key":
				return User{}, ErrDuplicateEmail
			case "users_phone_key":
				return User{}, ErrDuplicatePhone
			case "users_fiscal_id_key":
				return User{}, ErrDuplicateFiscalID
			}
		}
		return User{}, fmt.Errorf("user: create: %w", err)
	}

	return u, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id int64) (User, error) {
	const selectSQL = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND NOT is_deleted
	`

	u, err := scanUser(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: get by id: %w", err)
	}

	return u, nil
}

func (r *PGRepository) List(ctx context.Context, filters Filters) ([]User, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"NOT is_deleted"}
	args := []any{}

	if filters.Country != "" {
		where = append(where, fmt.Sprintf("country=$%d", len(args)+1))
		args = append(args, filters.Country)
	}
	if filters.IsAgent != nil {
		where = append(where, fmt.Sprintf("is_agent=$%d", len(args)+1))
		args = append(args, *filters.IsAgent)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM users%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		userColumns, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("user: query list: %w", err)
	}
	defer rows.Close()

	list := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, u)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM users%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("user: count list: %w", err)
	}

	return list, total, nil
}

// SoftDelete flags the user as deleted without removing the row; loans and
// sessions keep their foreign keys intact.
func (r *PGRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_deleted=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("user: soft delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetCreditScore(ctx context.Context, id int64, score int) (User, error) {
	const updateSQL = `
		UPDATE users SET credit_score=$2, updated_at=NOW()
		WHERE id = $1 AND NOT is_deleted
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, updateSQL, id, score))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("user: set credit score: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(
		&u.ID,
		&u.FirstName,
		&u.LastName,
		&u.FiscalID,
		&u.Country,
		&u.Address,
		&u.Email,
		&u.Phone,
		&u.Birthday,
		&u.CreditScore,
		&u.IsAgent,
		&u.IsAdmin,
		&u.IsDeleted,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return u, nil
}
