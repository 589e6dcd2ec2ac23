package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyResolved signals that the entry was resolved earlier.
	ErrAlreadyResolved = errors.New("audit: already resolved")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Recorder stores application errors and tracks their resolution workflow.
// Record is best-effort: a failing backing store must never surface into the
// caller's primary operation.
type Recorder struct {
	pool TxBeginner
	repo Repository
	log  *zap.Logger
	now  func() time.Time
}

// NewRecorder creates a new error audit recorder.
func NewRecorder(pool TxBeginner, repo Repository, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		pool: pool,
		repo: repo,
		log:  log,
		now:  time.Now,
	}
}

func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record persists an error report. It never returns an error: on persistence
// failure the report is logged and handed back unpersisted (ID zero).
func (r *Recorder) Record(ctx context.Context, params RecordParams) ErrorLog {
	if params.Message == "" {
		params.Message = "(no message)"
	}
	if !isValidSeverity(params.Severity) {
		params.Severity = SeverityError
	}

	entry, err := r.repo.Insert(ctx, params)
	if err != nil {
		r.log.Error("audit record dropped",
			zap.String("message", params.Message),
			zap.String("severity", string(params.Severity)),
			zap.Error(err))
		return unpersisted(params, r.now())
	}
	return entry
}

// RecordAsync persists an error report on a detached goroutine so the caller
// never waits on the audit write. The given context's cancellation is not
// inherited; the write gets its own deadline.
func (r *Recorder) RecordAsync(params RecordParams) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Record(ctx, params)
	}()
}

// Resolve closes out an error log entry with attribution.
func (r *Recorder) Resolve(ctx context.Context, id int64, resolvedBy int64, resolution string) (ErrorLog, error) {
	if resolution == "" {
		return ErrorLog{}, fmt.Errorf("audit: resolution text required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return ErrorLog{}, fmt.Errorf("audit: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	entry, err := r.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return ErrorLog{}, err
	}
	if entry.IsResolved {
		return ErrorLog{}, ErrAlreadyResolved
	}

	resolved, err := r.repo.MarkResolved(ctx, tx, id, resolvedBy, resolution, r.now())
	if err != nil {
		return ErrorLog{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ErrorLog{}, fmt.Errorf("audit: commit resolve: %w", err)
	}

	return resolved, nil
}

// ListUnresolved returns open entries, newest first.
func (r *Recorder) ListUnresolved(ctx context.Context, filters Filters) ([]ErrorLog, int, error) {
	return r.repo.ListUnresolved(ctx, filters)
}

func unpersisted(params RecordParams, at time.Time) ErrorLog {
	return ErrorLog{
		Message:   params.Message,
		Name:      params.Name,
		Stack:     params.Stack,
		Code:      params.Code,
		Type:      params.Type,
		Severity:  params.Severity,
		UserID:    params.UserID,
		SessionID: params.SessionID,
		URL:       params.URL,
		Method:    params.Method,
		Route:     params.Route,
		UserAgent: params.UserAgent,
		IPAddress: params.IPAddress,
		Metadata:  params.Metadata,
		CreatedAt: at,
		UpdatedAt: at,
	}
}
