package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// MemoryRepository is an in-process Repository used by package tests and local
// tooling. A single mutex serializes every unit of work; each unit runs against
// a private copy of the state which replaces the live state only on success.
//
// Callbacks passed to WithinTx must only use the Tx they are given. Calling
// back into the repository from inside a unit of work deadlocks.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryState struct {
	users        map[uuid.UUID]domain.User
	accounts     map[uuid.UUID]memoryAccount
	numbers      map[string]uuid.UUID
	transactions []domain.Transaction
	references   map[string]struct{}
	seq          int64
}

type memoryAccount struct {
	domain.Account
	seq int64
}

// NewMemoryRepository returns an empty in-memory store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: &memoryState{
			users:      make(map[uuid.UUID]domain.User),
			accounts:   make(map[uuid.UUID]memoryAccount),
			numbers:    make(map[string]uuid.UUID),
			references: make(map[string]struct{}),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// AddUser seeds an identity snapshot.
func (r *MemoryRepository) AddUser(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.users[user.ID] = user
}

// PutAccount seeds or overwrites an account, bypassing the unique checks that
// CreateAccount enforces. A zero CreatedAt is filled with the current time.
func (r *MemoryRepository) PutAccount(account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = r.now()
	}
	r.state.seq++
	if prev, ok := r.state.accounts[account.ID]; ok {
		delete(r.state.numbers, prev.AccountNumber)
	}
	r.state.accounts[account.ID] = memoryAccount{Account: account, seq: r.state.seq}
	r.state.numbers[account.AccountNumber] = account.ID
}

// Transactions returns every committed transaction, oldest first.
func (r *MemoryRepository) Transactions() []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Transaction, len(r.state.transactions))
	copy(out, r.state.transactions)
	return out
}

func (r *MemoryRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.state.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

func (r *MemoryRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.state.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &account.Account, nil
}

func (r *MemoryRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.state.numbers[accountNumber]
	if !ok {
		return nil, ErrAccountNotFound
	}
	account := r.state.accounts[id]
	return &account.Account, nil
}

func (r *MemoryRepository) ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.userAccounts(userID), nil
}

func (r *MemoryRepository) ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.TransactionHistoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.TransactionHistoryItem, 0)
	for i := len(r.state.transactions) - 1; i >= 0 && len(items) < limit; i-- {
		txn := r.state.transactions[i]
		var direction string
		var counterpartyID uuid.UUID
		switch accountID {
		case txn.FromAccountID:
			direction, counterpartyID = domain.DirectionDebit, txn.ToAccountID
		case txn.ToAccountID:
			direction, counterpartyID = domain.DirectionCredit, txn.FromAccountID
		default:
			continue
		}
		counterparty := r.state.accounts[counterpartyID]
		owner := r.state.users[counterparty.UserID]
		items = append(items, domain.TransactionHistoryItem{
			Transaction: txn,
			Direction:   direction,
			Counterparty: domain.Counterparty{
				UserID:        owner.ID,
				FirstName:     owner.FirstName,
				LastName:      owner.LastName,
				AccountNumber: counterparty.AccountNumber,
			},
		})
	}
	return items, nil
}

func (r *MemoryRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := r.state.clone()
	if err := fn(&memoryTx{state: work, now: r.now}); err != nil {
		return err
	}
	r.state = work
	return nil
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		users:        make(map[uuid.UUID]domain.User, len(s.users)),
		accounts:     make(map[uuid.UUID]memoryAccount, len(s.accounts)),
		numbers:      make(map[string]uuid.UUID, len(s.numbers)),
		transactions: make([]domain.Transaction, len(s.transactions)),
		references:   make(map[string]struct{}, len(s.references)),
		seq:          s.seq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.numbers {
		c.numbers[k] = v
	}
	copy(c.transactions, s.transactions)
	for k := range s.references {
		c.references[k] = struct{}{}
	}
	return c
}

func (s *memoryState) userAccounts(userID uuid.UUID) []domain.Account {
	owned := make([]memoryAccount, 0)
	for _, account := range s.accounts {
		if account.UserID == userID {
			owned = append(owned, account)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].IsDefault != owned[j].IsDefault {
			return owned[i].IsDefault
		}
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.Before(owned[j].CreatedAt)
		}
		return owned[i].seq < owned[j].seq
	})
	accounts := make([]domain.Account, 0, len(owned))
	for _, account := range owned {
		accounts = append(accounts, account.Account)
	}
	return accounts
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) ([]domain.Account, error) {
	ids := append([]uuid.UUID(nil), accountIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	accounts := make([]domain.Account, 0, len(ids))
	for i, id := range ids {
		if i > 0 && ids[i-1] == id {
			continue
		}
		if account, ok := t.state.accounts[id]; ok {
			accounts = append(accounts, account.Account)
		}
	}
	return accounts, nil
}

func (t *memoryTx) LockUserAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return t.state.userAccounts(userID), nil
}

func (t *memoryTx) DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	if account.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	account.Balance = account.Balance.Sub(amount)
	t.state.accounts[accountID] = account
	return account.Balance, nil
}

func (t *memoryTx) CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	account, ok := t.state.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	account.Balance = account.Balance.Add(amount)
	t.state.accounts[accountID] = account
	return account.Balance, nil
}

func (t *memoryTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	if _, exists := t.state.references[txn.Reference]; exists {
		return ErrDuplicateReference
	}
	txn.CreatedAt = t.now()
	t.state.references[txn.Reference] = struct{}{}
	t.state.transactions = append(t.state.transactions, *txn)
	return nil
}

func (t *memoryTx) CreateAccount(ctx context.Context, account *domain.Account) error {
	if _, exists := t.state.numbers[account.AccountNumber]; exists {
		return ErrDuplicateAccountNumber
	}
	if account.IsDefault {
		for _, existing := range t.state.accounts {
			if existing.UserID == account.UserID && existing.IsDefault {
				return ErrDefaultAccountConflict
			}
		}
	}
	account.CreatedAt = t.now()
	t.state.seq++
	t.state.accounts[account.ID] = memoryAccount{Account: *account, seq: t.state.seq}
	t.state.numbers[account.AccountNumber] = account.ID
	return nil
}

func (t *memoryTx) ClearDefaultAccounts(ctx context.Context, userID uuid.UUID) error {
	for id, account := range t.state.accounts {
		if account.UserID == userID && account.IsDefault {
			account.IsDefault = false
			t.state.accounts[id] = account
		}
	}
	return nil
}

func (t *memoryTx) MarkAccountDefault(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) error {
	account, ok := t.state.accounts[accountID]
	if !ok || account.UserID != userID {
		return ErrAccountNotFound
	}
	for id, other := range t.state.accounts {
		if id != accountID && other.UserID == userID && other.IsDefault {
			return ErrDefaultAccountConflict
		}
	}
	account.IsDefault = true
	t.state.accounts[accountID] = account
	return nil
}
