package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the error log entry does not exist.
	ErrNotFound = errors.New("audit: error log not found")
)

// Repository defines the data access required by the recorder.
type Repository interface {
	Insert(ctx context.Context, params RecordParams) (ErrorLog, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (ErrorLog, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id int64, resolvedBy int64, resolution string, at time.Time) (ErrorLog, error)
	ListUnresolved(ctx context.Context, filters Filters) ([]ErrorLog, int, error)
}

const errorLogColumns = `id, message, name, stack, code, type, severity, user_id, session_id,
		url, method, route, user_agent, ip_address, metadata, is_resolved,
		resolved_at, resolved_by, resolution, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed audit repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, params RecordParams) (ErrorLog, error) {
	const insertSQL = `
		INSERT INTO error_logs (message, name, stack, code, type, severity, user_id, session_id,
			url, method, route, user_agent, ip_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING ` + errorLogColumns

	var metadata *string
	if params.Metadata != nil {
		b, err := json.Marshal(params.Metadata)
		if err != nil {
			return ErrorLog{}, fmt.Errorf("audit: marshal metadata: %w", err)
		}
		s := string(b)
		metadata = &s
	}

	entry, err := scanErrorLog(r.pool.QueryRow(ctx, insertSQL,
		params.Message,
		params.Name,
		params.Stack,
		params.Code,
		params.Type,
		params.Severity,
		params.UserID,
		params.SessionID,
		params.URL,
		params.Method,
		params.Route,
		params.UserAgent,
		params.IPAddress,
		metadata,
	))
	if err != nil {
		return ErrorLog{}, fmt.Errorf("audit: insert: %w", err)
	}
	return entry, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (ErrorLog, error) {
	const selectSQL = `
		SELECT ` + errorLogColumns + `
		FROM error_logs
		WHERE id = $1
		FOR UPDATE
	`

	entry, err := scanErrorLog(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrorLog{}, ErrNotFound
		}
		return ErrorLog{}, fmt.Errorf("audit: get for update: %w", err)
	}
	return entry, nil
}

func (r *PGRepository) MarkResolved(ctx context.Context, tx pgx.Tx, id int64, resolvedBy int64, resolution string, at time.Time) (ErrorLog, error) {
	const updateSQL = `
		UPDATE error_logs
		SET is_resolved=true, resolved_at=$2, resolved_by=$3, resolution=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING ` + errorLogColumns

	entry, err := scanErrorLog(tx.QueryRow(ctx, updateSQL, id, at, resolvedBy, resolution))
	if err != nil {
		return ErrorLog{}, fmt.Errorf("audit: mark resolved: %w", err)
	}
	return entry, nil
}

func (r *PGRepository) ListUnresolved(ctx context.Context, filters Filters) ([]ErrorLog, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := []string{"NOT is_resolved"}
	args := []any{}

	if filters.Severity != "" {
		where = append(where, fmt.Sprintf("severity=$%d", len(args)+1))
		args = append(args, filters.Severity)
	}
	if filters.UserID != 0 {
		where = append(where, fmt.Sprintf("user_id=$%d", len(args)+1))
		args = append(args, filters.UserID)
	}

	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filters.PageSize
	offset := (filters.Page - 1) * filters.PageSize

	query := fmt.Sprintf(`SELECT %s FROM error_logs%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		errorLogColumns, whereClause, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query unresolved: %w", err)
	}
	defer rows.Close()

	list := []ErrorLog{}
	for rows.Next() {
		entry, err := scanErrorLog(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, entry)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM error_logs%s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count unresolved: %w", err)
	}

	return list, total, nil
}

func scanErrorLog(row pgx.Row) (ErrorLog, error) {
	var (
		entry    ErrorLog
		metadata []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.Message,
		&entry.Name,
		&entry.Stack,
		&entry.Code,
		&entry.Type,
		&entry.Severity,
		&entry.UserID,
		&entry.SessionID,
		&entry.URL,
		&entry.Method,
		&entry.Route,
		&entry.UserAgent,
		&entry.IPAddress,
		&metadata,
		&entry.IsResolved,
		&entry.ResolvedAt,
		&entry.ResolvedBy,
		&entry.Resolution,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return ErrorLog{}, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return ErrorLog{}, fmt.Errorf("audit: unmarshal metadata: %w", err)
		}
	}
	return entry, nil
}
