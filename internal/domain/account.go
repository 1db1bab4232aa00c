/**
 * @description
 * This file defines the core domain models for the wallet-service: accounts,
 * the users that own them and the immutable transaction records written by the
 * transfer engine.
 *
 * @notes
 * - Monetary values use `decimal.Decimal`. Binary floating point is never used
 *   for balances or amounts.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountNumberLength is the fixed width of every account number.
const AccountNumberLength = 10

// Account represents a balance-holding record owned by exactly one user.
// This struct maps directly to the `accounts` table in the database.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	IsDefault     bool            `json:"is_default"`
	CreatedAt     time.Time       `json:"created_at"`
}

// User is the read-only identity snapshot of an account owner. Users are created
// by the signup flow; this service only reads them.
type User struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Email     string    `json:"email"`
}

// FullName joins the first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
