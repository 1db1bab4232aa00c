/**
 * @description
 * This file contains the core business logic for the wallet-service. The `Service`
 * struct owns the two stateful rules of the system: moving money between accounts
 * and keeping each user's account set consistent.
 *
 * Key features:
 * - Transfers validate in a fixed order, then debit, credit and record the
 *   transaction through a single store unit of work.
 * - Every user has exactly one default account; changes are serialized per user.
 * - Additional accounts are capped per user.
 * - After a committed transfer both parties are notified asynchronously. The
 *   notification outcome never reaches the transfer result.
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	DefaultMaxAccountsPerUser = 3
	DefaultHistoryLimit       = 20
	MaxHistoryLimit           = 50
	MaxDescriptionLength      = 255

	transferRateLimitScope   = "transfer"
	maxAccountNumberAttempts = 5
	notificationTimeout      = 10 * time.Second
)

// maxTransferAmount keeps amounts inside NUMERIC(20, 2).
var maxTransferAmount = decimal.New(1, 18)

// amountPattern bounds the digits parseAmount will ever do arithmetic on.
var amountPattern = regexp.MustCompile(`^[0-9]{1,19}(\.[0-9]{1,18})?$`)

// TransferNotifier receives committed transfers together with both parties' identities.
type TransferNotifier interface {
	NotifyTransfer(ctx context.Context, txn domain.Transaction, sender domain.User, recipient domain.User)
}

// RateLimiter counts attempts per scope and subject inside a fixed window.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope string, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Options holds the tunable business limits of the service.
type Options struct {
	MaxAccountsPerUser         int
	StartingBalance            decimal.Decimal
	HistoryLimit               int
	TransferRateLimitPerMinute int
}

// Service provides the core business logic for accounts and transfers.
type Service struct {
	repo        store.Repository
	notifier    TransferNotifier
	rateLimiter RateLimiter
	opts        Options

	now              func() time.Time
	newAccountNumber func() (string, error)
	newReference     func(time.Time) (string, error)

	notifications sync.WaitGroup
}

// NewService creates a new wallet service instance. A nil notifier disables
// realtime notifications.
func NewService(repo store.Repository, notifier TransferNotifier, opts Options) *Service {
	if opts.MaxAccountsPerUser <= 0 {
		opts.MaxAccountsPerUser = DefaultMaxAccountsPerUser
	}
	switch {
	case opts.HistoryLimit <= 0:
		opts.HistoryLimit = DefaultHistoryLimit
	case opts.HistoryLimit > MaxHistoryLimit:
		log.Printf("level=warn component=service msg=\"history limit above maximum; capping\" history_limit=%d max=%d", opts.HistoryLimit, MaxHistoryLimit)
		opts.HistoryLimit = MaxHistoryLimit
	}
	if opts.StartingBalance.IsNegative() {
		log.Printf("level=warn component=service msg=\"negative starting balance configured; coercing to zero\" starting_balance=%s", opts.StartingBalance)
		opts.StartingBalance = decimal.Zero
	}
	return &Service{
		repo:             repo,
		notifier:         notifier,
		opts:             opts,
		now:              func() time.Time { return time.Now().UTC() },
		newAccountNumber: generateAccountNumber,
		newReference:     generateReference,
	}
}

// SetRateLimiter enables per-user throttling of transfer creation.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// Transfer moves amount from one of the caller's accounts to the account
// identified by req.RecipientAccountNumber.
func (s *Service) Transfer(ctx context.Context, callerID uuid.UUID, req domain.TransferRequest) (*domain.Transaction, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	description, err := normalizeDescription(req.Description)
	if err != nil {
		return nil, err
	}
	if err := s.consumeTransferQuota(ctx, callerID); err != nil {
		return nil, err
	}

	source, err := s.repo.FindAccountByID(ctx, req.SourceAccountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrSourceAccountNotFound
		}
		return nil, fmt.Errorf("failed to load source account: %w", err)
	}
	if source.UserID != callerID {
		log.Printf("level=warn component=service op=transfer outcome=reject reason=source_not_owned caller_id=%s account_id=%s", callerID, source.ID)
		return nil, ErrSourceAccountNotFound
	}

	recipientNumber := strings.TrimSpace(req.RecipientAccountNumber)
	if source.AccountNumber == recipientNumber {
		return nil, ErrSameAccountTransfer
	}

	recipient, err := s.repo.FindAccountByNumber(ctx, recipientNumber)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to load recipient account: %w", err)
	}
	if source.Balance.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.newReference(s.now())
	if err != nil {
		return nil, err
	}
	txn := &domain.Transaction{
		ID:            uuid.New(),
		Reference:     reference,
		FromAccountID: source.ID,
		ToAccountID:   recipient.ID,
		Amount:        amount,
		Description:   description,
	}

	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockAccounts(ctx, source.ID, recipient.ID)
		if err != nil {
			return fmt.Errorf("failed to lock transfer accounts: %w", err)
		}
		if len(locked) != 2 {
			return fmt.Errorf("failed to lock transfer accounts: expected 2 rows, got %d", len(locked))
		}
		if _, err := tx.DebitAccount(ctx, source.ID, amount); err != nil {
			if errors.Is(err, store.ErrInsufficientFunds) {
				return ErrInsufficientFunds
			}
			return fmt.Errorf("failed to debit source account: %w", err)
		}
		if _, err := tx.CreditAccount(ctx, recipient.ID, amount); err != nil {
			return fmt.Errorf("failed to credit recipient account: %w", err)
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return fmt.Errorf("failed to create transaction record: %w", err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) != KindInternal {
			log.Printf("level=info component=service op=transfer outcome=reject reason=%s caller_id=%s source_account_id=%s", KindOf(err), callerID, source.ID)
			return nil, err
		}
		log.Printf("level=error component=service op=transfer outcome=failed caller_id=%s source_account_id=%s reference=%s err=%v", callerID, source.ID, reference, err)
		return nil, fmt.Errorf("transfer commit failed: %w", err)
	}

	log.Printf("level=info component=service op=transfer outcome=committed transaction_id=%s reference=%s from=%s to=%s amount=%s", txn.ID, txn.Reference, txn.FromAccountID, txn.ToAccountID, txn.Amount)
	s.dispatchTransferNotification(ctx, *txn, source.UserID, recipient.UserID)
	return txn, nil
}

func (s *Service) consumeTransferQuota(ctx context.Context, callerID uuid.UUID) error {
	limit := s.opts.TransferRateLimitPerMinute
	if s.rateLimiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, transferRateLimitScope, callerID.String(), limit, time.Minute)
	if err != nil {
		log.Printf("level=warn component=service op=transfer msg=\"rate limiter unavailable; allowing request\" caller_id=%s err=%v", callerID, err)
		return nil
	}
	if count > limit {
		log.Printf("level=warn component=service op=transfer outcome=reject reason=rate_limited caller_id=%s count=%d limit=%d retry_after_s=%d", callerID, count, limit, retryAfter)
		return ErrRateLimited
	}
	return nil
}

// dispatchTransferNotification runs the notifier in the background on a context
// detached from the request, so a client disconnect cannot cancel it.
func (s *Service) dispatchTransferNotification(ctx context.Context, txn domain.Transaction, senderUserID, recipientUserID uuid.UUID) {
	if s.notifier == nil {
		return
	}
	s.notifications.Add(1)
	go func() {
		defer s.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("level=error component=service op=notify_transfer msg=\"notifier panicked\" transaction_id=%s panic=%v", txn.ID, r)
			}
		}()

		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
		defer cancel()

		sender, err := s.repo.FindUserByID(notifyCtx, senderUserID)
		if err != nil {
			log.Printf("level=warn component=service op=notify_transfer msg=\"sender lookup failed; notification skipped\" transaction_id=%s user_id=%s err=%v", txn.ID, senderUserID, err)
			return
		}
		recipient, err := s.repo.FindUserByID(notifyCtx, recipientUserID)
		if err != nil {
			log.Printf("level=warn component=service op=notify_transfer msg=\"recipient lookup failed; notification skipped\" transaction_id=%s user_id=%s err=%v", txn.ID, recipientUserID, err)
			return
		}
		s.notifier.NotifyTransfer(notifyCtx, txn, *sender, *recipient)
	}()
}

// Drain waits for in-flight notifications to finish or for ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.notifications.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListAccountTransactions returns the newest transactions of one of the user's
// accounts. A non-positive limit selects the configured default; limits above
// MaxHistoryLimit are capped.
func (s *Service) ListAccountTransactions(ctx context.Context, userID, accountID uuid.UUID, limit int) ([]domain.TransactionHistoryItem, error) {
	account, err := s.repo.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account.UserID != userID {
		return nil, ErrAccountNotFound
	}

	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	items, err := s.repo.ListTransactionsByAccountID(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return items, nil
}

// parseAmount accepts strictly positive decimals with at most two fractional digits.
// Only plain digits are accepted: exponent notation would make the rounding
// below scale the coefficient to an unbounded size.
func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if !amountPattern.MatchString(trimmed) {
		return decimal.Zero, ErrInvalidAmount
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) || amount.GreaterThanOrEqual(maxTransferAmount) {
		return decimal.Zero, ErrInvalidAmount
	}
	return amount.Round(2), nil
}

func normalizeDescription(raw string) (*string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(trimmed) > MaxDescriptionLength {
		return nil, ErrInvalidDescription
	}
	return &trimmed, nil
}
