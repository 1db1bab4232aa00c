/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the wallet-service. Multi-step mutations are
 * expressed through `WithinTx`, an explicit unit of work: everything done through
 * the `Tx` handed to the callback commits together or not at all.
 *
 * @dependencies
 * - github.com/google/uuid, github.com/shopspring/decimal
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAccountNotFound        = errors.New("account not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrDuplicateAccountNumber = errors.New("account number already exists")
	ErrDuplicateReference     = errors.New("transaction reference already exists")
	ErrDefaultAccountConflict = errors.New("user already has a default account")
)

// Repository defines the set of methods for interacting with the account store.
type Repository interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	// ListAccountsByUserID returns the default account first, then oldest first.
	ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)

	// ListTransactionsByAccountID returns the newest transactions touching the
	// account, annotated from that account's point of view.
	ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.TransactionHistoryItem, error)

	// WithinTx runs fn as one atomic unit of work. A non-nil error from fn, or a
	// failed commit, leaves the store exactly as it was before the call.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	// LockAccounts locks the given account rows in ascending id order and returns
	// their current state. Missing ids are silently absent from the result.
	LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) ([]domain.Account, error)
	// LockUserAccounts locks every account owned by the user. It serializes
	// concurrent default/creation changes for the same user.
	LockUserAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)

	// DebitAccount subtracts amount only if the resulting balance stays >= 0,
	// checked atomically at write time. Returns ErrInsufficientFunds otherwise.
	DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error)
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error

	CreateAccount(ctx context.Context, account *domain.Account) error
	ClearDefaultAccounts(ctx context.Context, userID uuid.UUID) error
	MarkAccountDefault(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) error
}
