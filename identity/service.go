package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUserNotFound signals that the OTP target user does not exist.
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrInvalidMethod signals an unsupported OTP delivery method.
	ErrInvalidMethod = errors.New("identity: invalid otp method")
	// ErrInvalidCode signals a code mismatch during OTP verification.
	ErrInvalidCode = errors.New("identity: invalid otp code")
	// ErrOTPExpired signals that the OTP expired before verification.
	ErrOTPExpired = errors.New("identity: otp expired")
	// ErrOTPAlreadyUsed signals that the OTP already spawned a session.
	ErrOTPAlreadyUsed = errors.New("identity: otp already used")
	// ErrSessionExpired signals that the session passed its expiry.
	ErrSessionExpired = errors.New("identity: session expired")
	// ErrSessionRevoked signals an admin-deactivated session.
	ErrSessionRevoked = errors.New("identity: session revoked")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config carries the tunables of the identity service.
type Config struct {
	JWTSecret  string
	OTPTTL     time.Duration
	OTPLength  int
	SessionTTL time.Duration
}

// Service handles OTP-based authentication and session lifecycle.
type Service struct {
	pool       TxBeginner
	repo       Repository
	jwtSecret  []byte
	otpTTL     time.Duration
	otpLength  int
	sessionTTL time.Duration
	now        func() time.Time
	codeGen    func(length int) (string, error)
}

// NewService creates a new identity service.
func NewService(pool TxBeginner, repo Repository, cfg Config) *Service {
	if cfg.OTPTTL <= 0 {
		cfg.OTPTTL = 5 * time.Minute
	}
	if cfg.OTPLength <= 0 {
		cfg.OTPLength = 6
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	return &Service{
		pool:       pool,
		repo:       repo,
		jwtSecret:  []byte(cfg.JWTSecret),
		otpTTL:     cfg.OTPTTL,
		otpLength:  cfg.OTPLength,
		sessionTTL: cfg.SessionTTL,
		now:        time.Now,
		codeGen:    numericCode,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithCodeGenerator(gen func(length int) (string, error)) *Service {
	s.codeGen = gen
	return s
}

// RequestOTP issues a one-time code for the user on the given channel. The
// plaintext code is returned to the caller for delivery; only its bcrypt hash
// is persisted.
func (s *Service) RequestOTP(ctx context.Context, userID int64, method OTPMethod, identifier string) (IssuedOTP, error) {
	if !isValidMethod(method) {
		return IssuedOTP{}, ErrInvalidMethod
	}
	if identifier == "" {
		return IssuedOTP{}, fmt.Errorf("identity: identifier required")
	}

	exists, err := s.repo.UserExists(ctx, userID)
	if err != nil {
		return IssuedOTP{}, err
	}
	if !exists {
		return IssuedOTP{}, ErrUserNotFound
	}

	code, err := s.codeGen(s.otpLength)
	if err != nil {
		return IssuedOTP{}, fmt.Errorf("identity: generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return IssuedOTP{}, fmt.Errorf("identity: hash code: %w", err)
	}

	otp, err := s.repo.CreateOTP(ctx, CreateOTPParams{
		UserID:     userID,
		Method:     method,
		Identifier: identifier,
		CodeHash:   string(hash),
		ExpiresAt:  s.now().Add(s.otpTTL),
	})
	if err != nil {
		return IssuedOTP{}, err
	}

	return IssuedOTP{OTP: otp, Code: code}, nil
}

// VerifyOTP exchanges a valid one-time code for a session. The OTP row is
// locked for the duration of the transaction so concurrent verifications of
// the same code cannot both succeed; the unique index on sessions.otp_id
// backstops the single-use guarantee.
func (s *Service) VerifyOTP(ctx context.Context, otpID int64, code string, client ClientInfo) (Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Session{}, fmt.Errorf("identity: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	otp, err := s.repo.GetOTPForUpdate(ctx, tx, otpID)
	if err != nil {
		return Session{}, err
	}

	consumed, err := s.repo.OTPConsumed(ctx, tx, otp.ID)
	if err != nil {
		return Session{}, err
	}
	if consumed {
		return Session{}, ErrOTPAlreadyUsed
	}

	now := s.now()
	if !now.Before(otp.ExpiresAt) {
		return Session{}, ErrOTPExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(otp.CodeHash), []byte(code)) != nil {
		return Session{}, ErrInvalidCode
	}

	expiresAt := now.Add(s.sessionTTL)
	token, err := s.generateToken(otp.UserID, expiresAt)
	if err != nil {
		return Session{}, fmt.Errorf("identity: generate token: %w", err)
	}

	sess, err := s.repo.CreateSession(ctx, tx, CreateSessionParams{
		UserID:    otp.UserID,
		OTPID:     otp.ID,
		JWTToken:  token,
		ExpiresAt: expiresAt,
		Client:    client,
	})
	if err != nil {
		return Session{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Session{}, fmt.Errorf("identity: commit verify: %w", err)
	}

	return sess, nil
}

// ValidateSession checks the token signature and the session row. Revocation
// wins over expiry; a valid session gets its last_active touched.
func (s *Service) ValidateSession(ctx context.Context, jwtToken string) (Session, error) {
	if _, err := s.parseToken(jwtToken); err != nil {
		return Session{}, err
	}

	sess, err := s.repo.GetSessionByToken(ctx, jwtToken)
	if err != nil {
		return Session{}, err
	}

	if sess.ForceDeactivation {
		return Session{}, ErrSessionRevoked
	}
	now := s.now()
	if !now.Before(sess.ExpiresAt) {
		return Session{}, ErrSessionExpired
	}

	if err := s.repo.TouchSession(ctx, sess.ID, now); err != nil {
		return Session{}, err
	}
	sess.LastActive = now

	return sess, nil
}

// RevokeSession flips the kill switch on a session. Revoking an already
// revoked session is a no-op.
func (s *Service) RevokeSession(ctx context.Context, sessionID int64) error {
	return s.repo.RevokeSession(ctx, sessionID)
}

// RevokeUserSessions deactivates every live session of the user and reports
// how many were affected.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	return s.repo.RevokeUserSessions(ctx, userID)
}

// generateToken creates the HS256 JWT stored as the session credential.
func (s *Service) generateToken(userID int64, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"jti": uuid.NewString(),
		"iat": s.now().Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *Service) parseToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("identity: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("identity: invalid token claims")
	}
	return claims, nil
}

// numericCode draws a zero-padded decimal code from crypto/rand.
func numericCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
