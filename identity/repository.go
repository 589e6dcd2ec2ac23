package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrOTPNotFound signals that the OTP does not exist.
	ErrOTPNotFound = errors.New("identity: otp not found")
	// ErrSessionNotFound signals that the session does not exist.
	ErrSessionNotFound = errors.New("identity: session not found")
)

// Repository defines the data access required by the identity service.
// Methods taking a pgx.Tx run inside the service's transaction so the OTP row
// lock covers the session insert.
type Repository interface {
	UserExists(ctx context.Context, userID int64) (bool, error)
	CreateOTP(ctx context.Context, params CreateOTPParams) (OTP, error)
	GetOTPForUpdate(ctx context.Context, tx pgx.Tx, id int64) (OTP, error)
	OTPConsumed(ctx context.Context, tx pgx.Tx, otpID int64) (bool, error)
	CreateSession(ctx context.Context, tx pgx.Tx, params CreateSessionParams) (Session, error)
	GetSessionByToken(ctx context.Context, token string) (Session, error)
	TouchSession(ctx context.Context, id int64, at time.Time) error
	RevokeSession(ctx context.Context, id int64) error
	RevokeUserSessions(ctx context.Context, userID int64) (int64, error)
}

// CreateOTPParams contains write parameters for issuing an OTP.
type CreateOTPParams struct {
	UserID     int64
	Method     OTPMethod
	Identifier string
	CodeHash   string
	ExpiresAt  time.Time
}

// CreateSessionParams contains write parameters for creating the session
// spawned by a successful OTP verification.
type CreateSessionParams struct {
	UserID    int64
	OTPID     int64
	JWTToken  string
	ExpiresAt time.Time
	Client    ClientInfo
}

const sessionColumns = `id, user_id, otp_id, jwt_token, expires_at, user_agent, ip_address,
		device_info, force_deactivation, last_active, created_at, updated_at`

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed identity repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id=$1 AND NOT is_deleted)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity: check user: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) CreateOTP(ctx context.Context, params CreateOTPParams) (OTP, error) {
	const insertSQL = `
		INSERT INTO otps (user_id, method, identifier, code, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, method, identifier, code, expires_at, created_at
	`

	otp, err := scanOTP(r.pool.QueryRow(ctx, insertSQL,
		params.UserID, params.Method, params.Identifier, params.CodeHash, params.ExpiresAt))
	if err != nil {
		return OTP{}, fmt.Errorf("identity: create otp: %w", err)
	}
	return otp, nil
}

func (r *PGRepository) GetOTPForUpdate(ctx context.Context, tx pgx.Tx, id int64) (OTP, error) {
	const selectSQL = `
		SELECT id, user_id, method, identifier, code, expires_at, created_at
		FROM otps
		WHERE id = $1
		FOR UPDATE
	`

	otp, err := scanOTP(tx.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OTP{}, ErrOTPNotFound
		}
		return OTP{}, fmt.Errorf("identity: get otp: %w", err)
	}
	return otp, nil
}

func (r *PGRepository) OTPConsumed(ctx context.Context, tx pgx.Tx, otpID int64) (bool, error) {
	var consumed bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE otp_id=$1)`, otpID).Scan(&consumed)
	if err != nil {
		return false, fmt.Errorf("identity: check otp consumed: %w", err)
	}
	return consumed, nil
}

func (r *PGRepository) CreateSession(ctx context.Context, tx pgx.Tx, params CreateSessionParams) (Session, error) {
	const insertSQL = `
		INSERT INTO sessions (user_id, otp_id, jwt_token, expires_at, user_agent, ip_address, device_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns

	sess, err := scanSession(tx.QueryRow(ctx, insertSQL,
		params.UserID,
		params.OTPID,
		params.JWTToken,
		params.ExpiresAt,
		params.Client.UserAgent,
		params.Client.IPAddress,
		params.Client.DeviceInfo,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sessions_otp_id_key" {
			return Session{}, ErrOTPAlreadyUsed
		}
		return Session{}, fmt.Errorf("identity: create session: %w", err)
	}
	return sess, nil
}

func (r *PGRepository) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	const selectSQL = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE jwt_token = $1
	`

	sess, err := scanSession(r.pool.QueryRow(ctx, selectSQL, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("identity: get session by token: %w", err)
	}
	return sess, nil
}

func (r *PGRepository) TouchSession(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET last_active=$2, updated_at=NOW() WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("identity: touch session: %w", err)
	}
	return nil
}

func (r *PGRepository) RevokeSession(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET force_deactivation=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("identity: revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PGRepository) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET force_deactivation=true, updated_at=NOW()
		 WHERE user_id=$1 AND NOT force_deactivation`, userID)
	if err != nil {
		return 0, fmt.Errorf("identity: revoke user sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanOTP(row pgx.Row) (OTP, error) {
	var otp OTP
	err := row.Scan(
		&otp.ID,
		&otp.UserID,
		&otp.Method,
		&otp.Identifier,
		&otp.CodeHash,
		&otp.ExpiresAt,
		&otp.CreatedAt,
	)
	if err != nil {
		return OTP{}, err
	}
	return otp, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.ID,
		&sess.UserID,
		&sess.OTPID,
		&sess.JWTToken,
		&sess.ExpiresAt,
		&sess.UserAgent,
		&sess.IPAddress,
		&sess.DeviceInfo,
		&sess.ForceDeactivation,
		&sess.LastActive,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}
