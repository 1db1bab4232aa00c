package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

type notifyCall struct {
	txn       domain.Transaction
	sender    domain.User
	recipient domain.User
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	panic bool
}

func (n *recordingNotifier) NotifyTransfer(ctx context.Context, txn domain.Transaction, sender domain.User, recipient domain.User) {
	n.mu.Lock()
	n.calls = append(n.calls, notifyCall{txn: txn, sender: sender, recipient: recipient})
	n.mu.Unlock()
	if n.panic {
		panic("push exploded")
	}
}

func (n *recordingNotifier) snapshot() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

// countingRepo records which store operations a call reached.
type countingRepo struct {
	store.Repository
	findByNumber atomic.Int32
	withinTx     atomic.Int32
}

func (r *countingRepo) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.findByNumber.Add(1)
	return r.Repository.FindAccountByNumber(ctx, accountNumber)
}

func (r *countingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.withinTx.Add(1)
	return r.Repository.WithinTx(ctx, fn)
}

// failingTxRepo injects a failure into the last step of the unit of work.
type failingTxRepo struct {
	store.Repository
	err error
}

type failingTx struct {
	store.Tx
	err error
}

func (t *failingTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	return t.err
}

func (r *failingTxRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Repository.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&failingTx{Tx: tx, err: r.err})
	})
}

type stubRateLimiter struct {
	count int
	err   error
	calls int
}

func (l *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (int, int, error) {
	l.calls++
	return l.count, 60, l.err
}

type walletFixture struct {
	repo     *store.MemoryRepository
	alice    domain.User
	bob      domain.User
	aliceAcc domain.Account
	bobAcc   domain.Account
}

func newWalletFixture(t *testing.T, aliceBalance string) walletFixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	f := walletFixture{
		repo:  repo,
		alice: domain.User{ID: uuid.New(), FirstName: "Alice", LastName: "Okafor", Email: "alice@example.com"},
		bob:   domain.User{ID: uuid.New(), FirstName: "Bob", LastName: "Adeyemi", Email: "bob@example.com"},
	}
	repo.AddUser(f.alice)
	repo.AddUser(f.bob)
	f.aliceAcc = domain.Account{ID: uuid.New(), UserID: f.alice.ID, AccountNumber: "1234567890", Balance: decimal.RequireFromString(aliceBalance), IsDefault: true}
	f.bobAcc = domain.Account{ID: uuid.New(), UserID: f.bob.ID, AccountNumber: "9876543210", Balance: decimal.Zero, IsDefault: true}
	repo.PutAccount(f.aliceAcc)
	repo.PutAccount(f.bobAcc)
	return f
}

func (f walletFixture) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	account, err := f.repo.FindAccountByID(context.Background(), accountID)
	require.NoError(t, err)
	return account.Balance
}

func drain(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
}

func TestTransfer_CommitsDebitCreditAndRecord(t *testing.T) {
	f := newWalletFixture(t, "100.00")
	notifier := &recordingNotifier{}
	svc := NewService(f.repo, notifier, Options{})

	txn, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: f.bobAcc.AccountNumber,
		Amount:                 "30.25",
		Description:            "  lunch  ",
	})
	require.NoError(t, err)
	drain(t, svc)

	assert.True(t, f.balance(t, f.aliceAcc.ID).Equal(decimal.RequireFromString("69.75")))
	assert.True(t, f.balance(t, f.bobAcc.ID).Equal(decimal.RequireFromString("30.25")))

	assert.Equal(t, f.aliceAcc.ID, txn.FromAccountID)
	assert.Equal(t, f.bobAcc.ID, txn.ToAccountID)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("30.25")))
	require.NotNil(t, txn.Description)
	assert.Equal(t, "lunch", *txn.Description)
	assert.Regexp(t, `^TRF-\d{14}-[0-9a-f]{8}$`, txn.Reference)
	assert.False(t, txn.CreatedAt.IsZero())

	recorded := f.repo.Transactions()
	require.Len(t, recorded, 1)
	assert.Equal(t, txn.ID, recorded[0].ID)

	calls := notifier.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, f.alice, calls[0].sender)
	assert.Equal(t, f.bob, calls[0].recipient)
	assert.Equal(t, txn.Reference, calls[0].txn.Reference)
}

func TestTransfer_PreconditionFailures(t *testing.T) {
	tests := []struct {
		name    string
		caller  func(f walletFixture) uuid.UUID
		req     func(f walletFixture) domain.TransferRequest
		wantErr error
		kind    Kind
	}{
		{
			name: "zero amount",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "0"}
			},
			wantErr: ErrInvalidAmount,
			kind:    KindValidation,
		},
		{
			name: "negative amount",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "-5"}
			},
			wantErr: ErrInvalidAmount,
			kind:    KindValidation,
		},
		{
			name: "amount is not a number",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "ten"}
			},
			wantErr: ErrInvalidAmount,
			kind:    KindValidation,
		},
		{
			name: "invalid amount wins over unknown source",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: uuid.New(), RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "0"}
			},
			wantErr: ErrInvalidAmount,
			kind:    KindValidation,
		},
		{
			name: "unknown source account",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: uuid.New(), RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "1"}
			},
			wantErr: ErrSourceAccountNotFound,
			kind:    KindNotFound,
		},
		{
			name:   "source owned by someone else",
			caller: func(f walletFixture) uuid.UUID { return f.bob.ID },
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "1"}
			},
			wantErr: ErrSourceAccountNotFound,
			kind:    KindNotFound,
		},
		{
			name: "same account",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.aliceAcc.AccountNumber, Amount: "1"}
			},
			wantErr: ErrSameAccountTransfer,
			kind:    KindValidation,
		},
		{
			name: "unknown recipient",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: "5555555555", Amount: "1"}
			},
			wantErr: ErrRecipientNotFound,
			kind:    KindNotFound,
		},
		{
			name: "insufficient funds",
			req: func(f walletFixture) domain.TransferRequest {
				return domain.TransferRequest{SourceAccountID: f.aliceAcc.ID, RecipientAccountNumber: f.bobAcc.AccountNumber, Amount: "100.01"}
			},
			wantErr: ErrInsufficientFunds,
			kind:    KindInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWalletFixture(t, "100.00")
			notifier := &recordingNotifier{}
			svc := NewService(f.repo, notifier, Options{})

			caller := f.alice.ID
			if tt.caller != nil {
				caller = tt.caller(f)
			}
			txn, err := svc.Transfer(context.Background(), caller, tt.req(f))
			drain(t, svc)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, txn)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.True(t, f.balance(t, f.aliceAcc.ID).Equal(decimal.RequireFromString("100.00")))
			assert.True(t, f.balance(t, f.bobAcc.ID).IsZero())
			assert.Empty(t, f.repo.Transactions())
			assert.Empty(t, notifier.snapshot())
		})
	}
}

func TestTransfer_SameAccountNeverReachesCommit(t *testing.T) {
	f := newWalletFixture(t, "100.00")
	repo := &countingRepo{Repository: f.repo}
	svc := NewService(repo, nil, Options{})

	_, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: " " + f.aliceAcc.AccountNumber + " ",
		Amount:                 "10",
	})
	require.ErrorIs(t, err, ErrSameAccountTransfer)
	assert.Zero(t, repo.findByNumber.Load(), "recipient lookup must not run")
	assert.Zero(t, repo.withinTx.Load(), "no unit of work may start")
}

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newWalletFixture(t, "100.00")
	svc := NewService(f.repo, nil, Options{})

	const workers = 10
	var wg sync.WaitGroup
	var succeeded, insufficient atomic.Int32
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
				SourceAccountID:        f.aliceAcc.ID,
				RecipientAccountNumber: f.bobAcc.AccountNumber,
				Amount:                 "30",
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected transfer error: %v", err)
	}

	assert.Equal(t, int32(3), succeeded.Load())
	assert.Equal(t, int32(workers-3), insufficient.Load())

	from := f.balance(t, f.aliceAcc.ID)
	to := f.balance(t, f.bobAcc.ID)
	assert.True(t, from.Equal(decimal.RequireFromString("10")), "source balance %s", from)
	assert.True(t, from.Add(to).Equal(decimal.RequireFromString("100")), "conservation violated: %s + %s", from, to)
	assert.Len(t, f.repo.Transactions(), 3)
}

func TestTransfer_CommitFailureLeavesStoreUntouched(t *testing.T) {
	f := newWalletFixture(t, "100.00")
	cause := errors.New("connection reset by peer")
	notifier := &recordingNotifier{}
	svc := NewService(&failingTxRepo{Repository: f.repo, err: cause}, notifier, Options{})

	txn, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: f.bobAcc.AccountNumber,
		Amount:                 "40",
	})
	drain(t, svc)

	require.ErrorIs(t, err, cause)
	assert.Nil(t, txn)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.True(t, f.balance(t, f.aliceAcc.ID).Equal(decimal.RequireFromString("100.00")))
	assert.True(t, f.balance(t, f.bobAcc.ID).IsZero())
	assert.Empty(t, f.repo.Transactions())
	assert.Empty(t, notifier.snapshot())
}

func TestTransfer_NotifierPanicDoesNotFailTransfer(t *testing.T) {
	f := newWalletFixture(t, "50")
	notifier := &recordingNotifier{panic: true}
	svc := NewService(f.repo, notifier, Options{})

	txn, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: f.bobAcc.AccountNumber,
		Amount:                 "50",
	})
	drain(t, svc)

	require.NoError(t, err)
	require.NotNil(t, txn)
	assert.Len(t, notifier.snapshot(), 1)
	assert.True(t, f.balance(t, f.aliceAcc.ID).IsZero())
}

func TestTransfer_NotificationSurvivesRequestCancellation(t *testing.T) {
	f := newWalletFixture(t, "50")
	notifier := &recordingNotifier{}
	svc := NewService(f.repo, notifier, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.Transfer(ctx, f.alice.ID, domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: f.bobAcc.AccountNumber,
		Amount:                 "5",
	})
	cancel()
	require.NoError(t, err)
	drain(t, svc)

	assert.Len(t, notifier.snapshot(), 1)
}

func TestTransfer_RepeatedRequestCreatesTwoTransactions(t *testing.T) {
	f := newWalletFixture(t, "100")
	svc := NewService(f.repo, nil, Options{})
	req := domain.TransferRequest{
		SourceAccountID:        f.aliceAcc.ID,
		RecipientAccountNumber: f.bobAcc.AccountNumber,
		Amount:                 "10",
	}

	first, err := svc.Transfer(context.Background(), f.alice.ID, req)
	require.NoError(t, err)
	second, err := svc.Transfer(context.Background(), f.alice.ID, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, f.repo.Transactions(), 2)
	assert.True(t, f.balance(t, f.bobAcc.ID).Equal(decimal.RequireFromString("20")))
}

func TestTransfer_RateLimit(t *testing.T) {
	tests := []struct {
		name    string
		limiter *stubRateLimiter
		wantErr error
	}{
		{name: "under the limit", limiter: &stubRateLimiter{count: 5}},
		{name: "over the limit", limiter: &stubRateLimiter{count: 6}, wantErr: ErrRateLimited},
		{name: "limiter unavailable fails open", limiter: &stubRateLimiter{err: errors.New("redis down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newWalletFixture(t, "100")
			svc := NewService(f.repo, nil, Options{TransferRateLimitPerMinute: 5})
			svc.SetRateLimiter(tt.limiter)

			_, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
				SourceAccountID:        f.aliceAcc.ID,
				RecipientAccountNumber: f.bobAcc.AccountNumber,
				Amount:                 "1",
			})
			assert.Equal(t, 1, tt.limiter.calls)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, KindRateLimited, KindOf(err))
				assert.Empty(t, f.repo.Transactions())
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewService_HistoryLimitBounds(t *testing.T) {
	tests := []struct {
		configured int
		want       int
	}{
		{configured: 0, want: DefaultHistoryLimit},
		{configured: -3, want: DefaultHistoryLimit},
		{configured: 35, want: 35},
		{configured: MaxHistoryLimit, want: MaxHistoryLimit},
		{configured: 500, want: MaxHistoryLimit},
	}
	for _, tt := range tests {
		svc := NewService(store.NewMemoryRepository(), nil, Options{HistoryLimit: tt.configured})
		assert.Equal(t, tt.want, svc.opts.HistoryLimit, "configured %d", tt.configured)
	}
}

func TestListAccountTransactions(t *testing.T) {
	f := newWalletFixture(t, "100")
	svc := NewService(f.repo, nil, Options{HistoryLimit: 2})

	for _, amount := range []string{"1", "2", "3"} {
		_, err := svc.Transfer(context.Background(), f.alice.ID, domain.TransferRequest{
			SourceAccountID:        f.aliceAcc.ID,
			RecipientAccountNumber: f.bobAcc.AccountNumber,
			Amount:                 amount,
		})
		require.NoError(t, err)
	}

	items, err := svc.ListAccountTransactions(context.Background(), f.bob.ID, f.bobAcc.ID, 0)
	require.NoError(t, err)
	require.Len(t, items, 2, "default limit applies")
	assert.True(t, items[0].Amount.Equal(decimal.RequireFromString("3")))
	assert.Equal(t, domain.DirectionCredit, items[0].Direction)
	assert.Equal(t, "Alice", items[0].Counterparty.FirstName)
	assert.Equal(t, f.aliceAcc.AccountNumber, items[0].Counterparty.AccountNumber)

	items, err = svc.ListAccountTransactions(context.Background(), f.bob.ID, f.bobAcc.ID, 500)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	_, err = svc.ListAccountTransactions(context.Background(), f.alice.ID, f.bobAcc.ID, 10)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "10", want: "10"},
		{input: " 0.01 ", want: "0.01"},
		{input: "12.50", want: "12.5"},
		{input: "1.100", want: "1.1"},
		{input: "0", wantErr: true},
		{input: "0.00", wantErr: true},
		{input: "-0.01", wantErr: true},
		{input: "0.001", wantErr: true},
		{input: "", wantErr: true},
		{input: "1,000", wantErr: true},
		{input: "1000000000000000000", wantErr: true},
		{input: "1e2", wantErr: true},
		{input: "1E2", wantErr: true},
		{input: "+5", wantErr: true},
		{input: ".5", wantErr: true},
		{input: "5.", wantErr: true},
		{input: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAmount(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidAmount) {
					t.Fatalf("expected ErrInvalidAmount, got %v (value %s)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseAmount_RejectsHugeExponentsQuickly(t *testing.T) {
	for _, input := range []string{"1e50000000", "1e-50000000", "0.5e999999999", "1" + strings.Repeat("0", 4096)} {
		done := make(chan error, 1)
		go func() {
			_, err := parseAmount(input)
			done <- err
		}()

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrInvalidAmount)
		case <-time.After(time.Second):
			t.Fatalf("parseAmount(%.20q) did not return within a second", input)
		}
	}
}
