package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loanflow/loan"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *fakeRepository, *fakeLoanStore) {
	t.Helper()
	repo := newFakeRepository()
	loans := newFakeLoanStore()
	return NewService(&fakePool{}, repo, loans), repo, loans
}

func TestService_RecordValidation(t *testing.T) {
	svc, _, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusActive, Amount: dec("1000"), InterestRate: dec("10")})

	_, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("0")})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("-20")})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestService_RecordRequiresActiveLoan(t *testing.T) {
	svc, _, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusPending, Amount: dec("1000"), InterestRate: dec("10")})

	_, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("100")})
	assert.ErrorIs(t, err, ErrLoanNotActive)

	_, err = svc.Record(context.Background(), RecordParams{LoanID: 404, Amount: dec("100")})
	assert.ErrorIs(t, err, loan.ErrNotFound)
}

func TestService_Record(t *testing.T) {
	svc, _, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusActive, Amount: dec("1000"), InterestRate: dec("10")})

	p, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("100")})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.False(t, p.PaymentDate.IsZero(), "payment date defaults to now")
}

func TestService_SettleAccumulatesToPayoff(t *testing.T) {
	svc, _, loans := newTestService(t)
	termEnd := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	loans.add(loan.Loan{
		ID: 1, Status: loan.StatusActive,
		Amount: dec("1000"), InterestRate: dec("10"), TermMonths: 12,
		EndDate: &termEnd,
	})

	settleTime := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time { return settleTime })

	first, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("600.00")})
	require.NoError(t, err)
	_, err = svc.Settle(context.Background(), first.ID)
	require.NoError(t, err)

	// 600 < 1100: loan stays active.
	assert.Equal(t, loan.StatusActive, loans.loans[1].Status)

	second, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("500.00")})
	require.NoError(t, err)
	settled, err := svc.Settle(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, settled.Status)

	// 1100 >= 1100: loan paid, end date is the settlement time, not the
	// term-computed date.
	paid := loans.loans[1]
	assert.Equal(t, loan.StatusPaid, paid.Status)
	require.NotNil(t, paid.EndDate)
	assert.Equal(t, settleTime, *paid.EndDate)
}

func TestService_SettleOnlyPending(t *testing.T) {
	svc, _, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusActive, Amount: dec("1000"), InterestRate: dec("10")})

	p, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("100")})
	require.NoError(t, err)
	_, err = svc.Settle(context.Background(), p.ID)
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_FailIsTerminal(t *testing.T) {
	svc, repo, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusActive, Amount: dec("1000"), InterestRate: dec("10")})

	p, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("100")})
	require.NoError(t, err)

	failed, err := svc.Fail(context.Background(), p.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	require.NotNil(t, failed.Notes)
	assert.Equal(t, "card declined", *failed.Notes)

	_, err = svc.Settle(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = svc.Cancel(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	// Failed payments never count toward payoff.
	sum, err := repo.SumCompleted(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestService_Cancel(t *testing.T) {
	svc, _, loans := newTestService(t)
	loans.add(loan.Loan{ID: 1, Status: loan.StatusActive, Amount: dec("1000"), InterestRate: dec("10")})

	p, err := svc.Record(context.Background(), RecordParams{LoanID: 1, Amount: dec("100")})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Settle(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestService_SettleNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Settle(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

type fakeRepository struct {
	payments map[int64]Payment
	nextID   int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{payments: make(map[int64]Payment), nextID: 1}
}

func (f *fakeRepository) Insert(ctx context.Context, tx pgx.Tx, params RecordParams) (Payment, error) {
	p := Payment{
		ID:          f.nextID,
		LoanID:      params.LoanID,
		Amount:      params.Amount,
		PaymentDate: params.PaymentDate,
		Status:      StatusPending,
		Notes:       params.Notes,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	f.nextID++
	f.payments[p.ID] = p
	return p, nil
}

func (f *fakeRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status Status, notes *string) (Payment, error) {
	p, ok := f.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	p.Status = status
	if notes != nil {
		p.Notes = notes
	}
	f.payments[id] = p
	return p, nil
}

func (f *fakeRepository) SumCompleted(ctx context.Context, tx pgx.Tx, loanID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range f.payments {
		if p.LoanID == loanID && p.Status == StatusCompleted {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (f *fakeRepository) ListByLoan(ctx context.Context, loanID int64) ([]Payment, error) {
	out := []Payment{}
	for _, p := range f.payments {
		if p.LoanID == loanID {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeLoanStore struct {
	loans map[int64]loan.Loan
}

func newFakeLoanStore() *fakeLoanStore {
	return &fakeLoanStore{loans: make(map[int64]loan.Loan)}
}

func (f *fakeLoanStore) add(l loan.Loan) {
	f.loans[l.ID] = l
}

func (f *fakeLoanStore) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (loan.Loan, error) {
	l, ok := f.loans[id]
	if !ok {
		return loan.Loan{}, loan.ErrNotFound
	}
	return l, nil
}

func (f *fakeLoanStore) MarkPaid(ctx context.Context, tx pgx.Tx, id int64, endDate time.Time) error {
	l, ok := f.loans[id]
	if !ok {
		return loan.ErrNotFound
	}
	l.Status = loan.StatusPaid
	l.EndDate = &endDate
	f.loans[id] = l
	return nil
}

type fakePool struct{}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	return &fakeTx{}, nil
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
