package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

// ListAccounts returns the user's accounts, default first.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	accounts, err := s.repo.ListAccountsByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if accounts == nil {
		accounts = []domain.Account{}
	}
	return accounts, nil
}

// SetDefaultAccount makes accountID the user's only default account.
func (s *Service) SetDefaultAccount(ctx context.Context, userID, accountID uuid.UUID) (*domain.Account, error) {
	var result domain.Account
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		accounts, err := tx.LockUserAccounts(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock user accounts: %w", err)
		}

		var target *domain.Account
		for i := range accounts {
			if accounts[i].ID == accountID {
				target = &accounts[i]
				break
			}
		}
		if target == nil {
			return ErrAccountNotFound
		}
		if target.IsDefault {
			result = *target
			return nil
		}

		if err := tx.ClearDefaultAccounts(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear default account: %w", err)
		}
		if err := tx.MarkAccountDefault(ctx, userID, accountID); err != nil {
			if errors.Is(err, store.ErrAccountNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("failed to mark default account: %w", err)
		}
		target.IsDefault = true
		result = *target
		return nil
	})
	if err != nil {
		if KindOf(err) == KindInternal {
			log.Printf("level=error component=service op=set_default_account outcome=failed user_id=%s account_id=%s err=%v", userID, accountID, err)
		}
		return nil, err
	}
	log.Printf("level=info component=service op=set_default_account outcome=updated user_id=%s account_id=%s", userID, accountID)
	return &result, nil
}

// CreateAdditionalAccount opens another account for the user, up to the
// configured per-user maximum. The account is not default unless it is the
// user's first.
func (s *Service) CreateAdditionalAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	account, _, err := s.openAccount(ctx, userID, false)
	return account, err
}

// OnboardUser opens the user's first account as default. Calling it again
// returns the existing default account.
func (s *Service) OnboardUser(ctx context.Context, userID uuid.UUID) (*domain.Account, bool, error) {
	return s.openAccount(ctx, userID, true)
}

// openAccount retries the whole unit of work on account-number collisions,
// since a unique violation aborts the surrounding database transaction.
func (s *Service) openAccount(ctx context.Context, userID uuid.UUID, onboarding bool) (*domain.Account, bool, error) {
	if _, err := s.repo.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, fmt.Errorf("failed to load user: %w", err)
	}

	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		number, err := s.newAccountNumber()
		if err != nil {
			return nil, false, err
		}

		var result domain.Account
		created := false
		err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
			existing, err := tx.LockUserAccounts(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to lock user accounts: %w", err)
			}
			if onboarding && len(existing) > 0 {
				result = existing[0]
				return nil
			}
			if len(existing) >= s.opts.MaxAccountsPerUser {
				return ErrAccountLimitReached
			}

			account := domain.Account{
				ID:            uuid.New(),
				UserID:        userID,
				AccountNumber: number,
				Balance:       s.opts.StartingBalance,
				IsDefault:     len(existing) == 0,
			}
			if err := tx.CreateAccount(ctx, &account); err != nil {
				return err
			}
			result = account
			created = true
			return nil
		})

		switch {
		case err == nil:
			if created {
				log.Printf("level=info component=service op=open_account outcome=created user_id=%s account_id=%s default=%t", userID, result.ID, result.IsDefault)
			}
			return &result, created, nil
		case errors.Is(err, store.ErrDuplicateAccountNumber):
			log.Printf("level=warn component=service op=open_account msg=\"account number collision; retrying\" user_id=%s attempt=%d", userID, attempt)
			continue
		case KindOf(err) != KindInternal:
			return nil, false, err
		default:
			log.Printf("level=error component=service op=open_account outcome=failed user_id=%s err=%v", userID, err)
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}
	}
	return nil, false, ErrAccountNumberConflict
}
