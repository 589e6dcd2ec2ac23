package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestService(repo Repository) *Service {
	svc := NewService(&fakePool{}, repo, Config{
		JWTSecret:  "test-secret",
		OTPTTL:     5 * time.Minute,
		OTPLength:  6,
		SessionTTL: time.Hour,
	})
	return svc.WithCodeGenerator(func(length int) (string, error) { return "123456", nil })
}

func TestService_RequestAndVerifyOTP(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	ctx := context.Background()
	issued, err := svc.RequestOTP(ctx, 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: unexpected error: %v", err)
	}
	if issued.Code != "123456" {
		t.Fatalf("expected plaintext code, got %q", issued.Code)
	}
	if issued.OTP.CodeHash == issued.Code {
		t.Fatal("expected code to be stored hashed")
	}

	sess, err := svc.VerifyOTP(ctx, issued.OTP.ID, "123456", ClientInfo{})
	if err != nil {
		t.Fatalf("verify otp: unexpected error: %v", err)
	}
	if sess.UserID != 1 {
		t.Fatalf("expected session for user 1, got %d", sess.UserID)
	}
	if sess.JWTToken == "" {
		t.Fatal("expected session token, got empty string")
	}
	if sess.OTPID == nil || *sess.OTPID != issued.OTP.ID {
		t.Fatalf("expected session linked to otp %d, got %v", issued.OTP.ID, sess.OTPID)
	}
}

func TestService_RequestOTPUnknownUser(t *testing.T) {
	svc := newTestService(newFakeRepository())

	if _, err := svc.RequestOTP(context.Background(), 42, MethodEmail, "x@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestService_RequestOTPInvalidMethod(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	if _, err := svc.RequestOTP(context.Background(), 1, OTPMethod("carrier-pigeon"), "somewhere"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
}

func TestService_VerifyOTPWrongCode(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	if _, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "999999", ClientInfo{}); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
}

func TestService_VerifyOTPExpired(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	now := time.Now()
	svc.WithClock(func() time.Time { return now })

	issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	// Jump past the OTP TTL.
	svc.WithClock(func() time.Time { return now.Add(10 * time.Minute) })

	if _, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{}); !errors.Is(err, ErrOTPExpired) {
		t.Fatalf("expected ErrOTPExpired, got %v", err)
	}
}

func TestService_VerifyOTPSingleUse(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	if _, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{}); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	// A second verification must fail even with the correct code.
	if _, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{}); !errors.Is(err, ErrOTPAlreadyUsed) {
		t.Fatalf("expected ErrOTPAlreadyUsed, got %v", err)
	}
}

func TestService_VerifyOTPNotFound(t *testing.T) {
	svc := newTestService(newFakeRepository())

	if _, err := svc.VerifyOTP(context.Background(), 77, "123456", ClientInfo{}); !errors.Is(err, ErrOTPNotFound) {
		t.Fatalf("expected ErrOTPNotFound, got %v", err)
	}
}

func TestService_ValidateSessionLifecycle(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	sess, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{})
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	validated, err := svc.ValidateSession(context.Background(), sess.JWTToken)
	if err != nil {
		t.Fatalf("validate session: %v", err)
	}
	if validated.ID != sess.ID {
		t.Fatalf("expected session %d, got %d", sess.ID, validated.ID)
	}

	if err := svc.RevokeSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("revoke session: %v", err)
	}
	// Revocation is idempotent.
	if err := svc.RevokeSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}

	if _, err := svc.ValidateSession(context.Background(), sess.JWTToken); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestService_ValidateSessionExpired(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	now := time.Now()
	svc.WithClock(func() time.Time { return now })

	issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	sess, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{})
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}

	svc.WithClock(func() time.Time { return now.Add(2 * time.Hour) })

	if _, err := svc.ValidateSession(context.Background(), sess.JWTToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestService_ValidateSessionBadToken(t *testing.T) {
	svc := newTestService(newFakeRepository())

	if _, err := svc.ValidateSession(context.Background(), "not-a-jwt"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestService_RevokeUserSessions(t *testing.T) {
	repo := newFakeRepository()
	repo.users[1] = true
	svc := newTestService(repo)

	for i := 0; i < 3; i++ {
		issued, err := svc.RequestOTP(context.Background(), 1, MethodSMS, "+15550100")
		if err != nil {
			t.Fatalf("request otp: %v", err)
		}
		if _, err := svc.VerifyOTP(context.Background(), issued.OTP.ID, "123456", ClientInfo{}); err != nil {
			t.Fatalf("verify otp: %v", err)
		}
	}

	n, err := svc.RevokeUserSessions(context.Background(), 1)
	if err != nil {
		t.Fatalf("revoke user sessions: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked sessions, got %d", n)
	}
}

type fakeRepository struct {
	users      map[int64]bool
	otps       map[int64]OTP
	sessions   map[int64]Session
	byToken    map[string]int64
	otpToSess  map[int64]int64
	nextOTP    int64
	nextSessID int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:      make(map[int64]bool),
		otps:       make(map[int64]OTP),
		sessions:   make(map[int64]Session),
		byToken:    make(map[string]int64),
		otpToSess:  make(map[int64]int64),
		nextOTP:    1,
		nextSessID: 1,
	}
}

func (f *fakeRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	return f.users[userID], nil
}

func (f *fakeRepository) CreateOTP(ctx context.Context, params CreateOTPParams) (OTP, error) {
	otp := OTP{
		ID:         f.nextOTP,
		UserID:     params.UserID,
		Method:     params.Method,
		Identifier: params.Identifier,
		CodeHash:   params.CodeHash,
		ExpiresAt:  params.ExpiresAt,
		CreatedAt:  time.Now().UTC(),
	}
	f.nextOTP++
	f.otps[otp.ID] = otp
	return otp, nil
}

func (f *fakeRepository) GetOTPForUpdate(ctx context.Context, tx pgx.Tx, id int64) (OTP, error) {
	otp, ok := f.otps[id]
	if !ok {
		return OTP{}, ErrOTPNotFound
	}
	return otp, nil
}

func (f *fakeRepository) OTPConsumed(ctx context.Context, tx pgx.Tx, otpID int64) (bool, error) {
	_, consumed := f.otpToSess[otpID]
	return consumed, nil
}

func (f *fakeRepository) CreateSession(ctx context.Context, tx pgx.Tx, params CreateSessionParams) (Session, error) {
	if _, exists := f.otpToSess[params.OTPID]; exists {
		return Session{}, ErrOTPAlreadyUsed
	}

	otpID := params.OTPID
	sess := Session{
		ID:         f.nextSessID,
		UserID:     params.UserID,
		OTPID:      &otpID,
		JWTToken:   params.JWTToken,
		ExpiresAt:  params.ExpiresAt,
		UserAgent:  params.Client.UserAgent,
		IPAddress:  params.Client.IPAddress,
		DeviceInfo: params.Client.DeviceInfo,
		LastActive: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	f.nextSessID++
	f.sessions[sess.ID] = sess
	f.byToken[sess.JWTToken] = sess.ID
	f.otpToSess[params.OTPID] = sess.ID
	return sess, nil
}

func (f *fakeRepository) GetSessionByToken(ctx context.Context, token string) (Session, error) {
	id, ok := f.byToken[token]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return f.sessions[id], nil
}

func (f *fakeRepository) TouchSession(ctx context.Context, id int64, at time.Time) error {
	sess, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.LastActive = at
	f.sessions[id] = sess
	return nil
}

func (f *fakeRepository) RevokeSession(ctx context.Context, id int64) error {
	sess, ok := f.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.ForceDeactivation = true
	f.sessions[id] = sess
	return nil
}

func (f *fakeRepository) RevokeUserSessions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	for id, sess := range f.sessions {
		if sess.UserID == userID && !sess.ForceDeactivation {
			sess.ForceDeactivation = true
			f.sessions[id] = sess
			n++
		}
	}
	return n, nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
