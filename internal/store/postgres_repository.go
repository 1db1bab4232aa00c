/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL used to read accounts, users and transactions, and the
 * row-locking unit of work the transfer engine commits through.
 *
 * @notes
 * - Balances travel as `numeric` <-> text so no precision is lost between
 *   PostgreSQL and `decimal.Decimal`.
 * - Debits are conditional (`balance >= amount`) at write time, on top of the
 *   `FOR UPDATE` row locks, so a balance can never go negative.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

const (
	uniqueViolationCode = "23505"

	accountNumberConstraint = "accounts_account_number_key"
	defaultPerUserIndex     = "accounts_one_default_per_user"
	referenceConstraint     = "transactions_reference_key"

	accountColumns = `id, user_id, account_number, balance::text, is_default, created_at`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByID retrieves the identity snapshot of a user.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var user domain.User
	query := `SELECT id, first_name, last_name, email FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// FindAccountByID retrieves an account by its id.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	return findAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

// FindAccountByNumber retrieves an account by its unique account number.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return findAccount(ctx, r.db, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber)
}

// ListAccountsByUserID retrieves all accounts of a user, default first.
func (r *PostgresRepository) ListAccountsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY is_default DESC, created_at ASC, id ASC`
	return listAccounts(ctx, r.db, query, userID)
}

// ListTransactionsByAccountID retrieves the newest transactions touching an account,
// joined with the counterparty account and its owner.
func (r *PostgresRepository) ListTransactionsByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.TransactionHistoryItem, error) {
	query := `
		SELECT t.id, t.reference, t.from_account_id, t.to_account_id, t.amount::text, t.description, t.created_at,
		       cp.account_number, u.id, u.first_name, u.last_name
		FROM transactions t
		JOIN accounts cp ON cp.id = CASE WHEN t.from_account_id = $1 THEN t.to_account_id ELSE t.from_account_id END
		JOIN users u ON u.id = cp.user_id
		WHERE t.from_account_id = $1 OR t.to_account_id = $1
		ORDER BY t.created_at DESC, t.id DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransactionHistoryItem, 0, limit)
	for rows.Next() {
		var item domain.TransactionHistoryItem
		var amount string
		err := rows.Scan(
			&item.ID,
			&item.Reference,
			&item.FromAccountID,
			&item.ToAccountID,
			&amount,
			&item.Description,
			&item.CreatedAt,
			&item.Counterparty.AccountNumber,
			&item.Counterparty.UserID,
			&item.Counterparty.FirstName,
			&item.Counterparty.LastName,
		)
		if err != nil {
			return nil, err
		}
		if item.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse transaction amount %q: %w", amount, err)
		}
		item.Direction = domain.DirectionCredit
		if item.FromAccountID == accountID {
			item.Direction = domain.DirectionDebit
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// WithinTx runs fn inside a single database transaction.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

// LockAccounts takes row locks in ascending id order so that transfers A->B and
// B->A running at the same time cannot deadlock.
func (t *postgresTx) LockAccounts(ctx context.Context, accountIDs ...uuid.UUID) ([]domain.Account, error) {
	ids := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		ids = append(ids, id.String())
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`
	return listAccounts(ctx, t.tx, query, ids)
}

func (t *postgresTx) LockUserAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	// The advisory lock also covers users that have no account rows yet.
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "accounts:"+userID.String()); err != nil {
		return nil, fmt.Errorf("failed to take user account lock: %w", err)
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY is_default DESC, created_at ASC, id ASC FOR UPDATE`
	return listAccounts(ctx, t.tx, query, userID)
}

func (t *postgresTx) DebitAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := t.tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $1::numeric
		WHERE id = $2 AND balance >= $1::numeric
		RETURNING balance::text
	`, amount.String(), accountID).Scan(&balance)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, err
		}
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return decimal.Zero, err
		}
		if !exists {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, ErrInsufficientFunds
	}
	return decimal.NewFromString(balance)
}

func (t *postgresTx) CreditAccount(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance string
	err := t.tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1::numeric
		WHERE id = $2
		RETURNING balance::text
	`, amount.String(), accountID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	return decimal.NewFromString(balance)
}

func (t *postgresTx) CreateTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, reference, from_account_id, to_account_id, amount, description)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at
	`
	err := t.tx.QueryRow(ctx, query,
		txn.ID,
		txn.Reference,
		txn.FromAccountID,
		txn.ToAccountID,
		txn.Amount.String(),
		txn.Description,
	).Scan(&txn.CreatedAt)
	if constraint, ok := uniqueViolation(err); ok && constraint == referenceConstraint {
		return ErrDuplicateReference
	}
	return err
}

func (t *postgresTx) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, user_id, account_number, balance, is_default)
		VALUES ($1, $2, $3, $4::numeric, $5)
		RETURNING created_at
	`
	err := t.tx.QueryRow(ctx, query,
		account.ID,
		account.UserID,
		account.AccountNumber,
		account.Balance.String(),
		account.IsDefault,
	).Scan(&account.CreatedAt)
	if constraint, ok := uniqueViolation(err); ok {
		switch constraint {
		case accountNumberConstraint:
			return ErrDuplicateAccountNumber
		case defaultPerUserIndex:
			return ErrDefaultAccountConflict
		}
	}
	return err
}

func (t *postgresTx) ClearDefaultAccounts(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE accounts SET is_default = false WHERE user_id = $1 AND is_default`, userID)
	return err
}

func (t *postgresTx) MarkAccountDefault(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) error {
	result, err := t.tx.Exec(ctx, `UPDATE accounts SET is_default = true WHERE id = $1 AND user_id = $2`, accountID, userID)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok && constraint == defaultPerUserIndex {
			return ErrDefaultAccountConflict
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func findAccount(ctx context.Context, q querier, query string, arg any) (*domain.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func listAccounts(ctx context.Context, q querier, query string, args ...any) ([]domain.Account, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var account domain.Account
	var balance string
	if err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.AccountNumber,
		&balance,
		&account.IsDefault,
		&account.CreatedAt,
	); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	account.Balance = parsed
	return &account, nil
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return pgErr.ConstraintName, true
	}
	return "", false
}
