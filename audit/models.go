package audit

import "time"

// Severity classifies a recorded error.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityFatal Severity = "fatal"
)

// ErrorLog mirrors the error_logs table. Attribution fields are pointers
// because errors can be recorded anonymously.
type ErrorLog struct {
	ID         int64
	Message    string
	Name       *string
	Stack      *string
	Code       *string
	Type       *string
	Severity   Severity
	UserID     *int64
	SessionID  *int64
	URL        *string
	Method     *string
	Route      *string
	UserAgent  *string
	IPAddress  *string
	Metadata   map[string]any
	IsResolved bool
	ResolvedAt *time.Time
	ResolvedBy *int64
	Resolution *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RecordParams captures everything a caller may attach to an error report.
type RecordParams struct {
	Message   string
	Name      *string
	Stack     *string
	Code      *string
	Type      *string
	Severity  Severity
	UserID    *int64
	SessionID *int64
	URL       *string
	Method    *string
	Route     *string
	UserAgent *string
	IPAddress *string
	Metadata  map[string]any
}

// Filters narrows ListUnresolved results.
type Filters struct {
	Severity Severity
	UserID   int64
	Page     int
	PageSize int
}

func isValidSeverity(s Severity) bool {
	switch s {
	case SeverityError, SeverityWarn, SeverityFatal:
		return true
	default:
		return false
	}
}
