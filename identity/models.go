package identity

import "time"

// OTPMethod is the delivery channel for a one-time code.
type OTPMethod string

const (
	MethodSMS   OTPMethod = "sms"
	MethodEmail OTPMethod = "email"
)

// OTP mirrors the otps table. CodeHash holds the bcrypt hash persisted in the
// code column; the plaintext code only ever exists inside IssuedOTP.
type OTP struct {
	ID         int64
	UserID     int64
	Method     OTPMethod
	Identifier string
	CodeHash   string
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// IssuedOTP bundles a freshly created OTP with its plaintext code so the
// caller's delivery layer can send it out. The code is never stored.
type IssuedOTP struct {
	OTP  OTP
	Code string
}

// Session mirrors the sessions table.
type Session struct {
	ID                int64
	UserID            int64
	OTPID             *int64
	JWTToken          string
	ExpiresAt         time.Time
	UserAgent         *string
	IPAddress         *string
	DeviceInfo        *string
	ForceDeactivation bool
	LastActive        time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ClientInfo carries the optional client fingerprint captured at login.
type ClientInfo struct {
	UserAgent  *string
	IPAddress  *string
	DeviceInfo *string
}

func isValidMethod(m OTPMethod) bool {
	switch m {
	case MethodSMS, MethodEmail:
		return true
	default:
		return false
	}
}
