package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/transfa/wallet-service/internal/domain"
)

// accountNumberSpace covers 1000000000..9999999999 so numbers never start with 0.
var (
	accountNumberFloor = big.NewInt(1_000_000_000)
	accountNumberSpace = big.NewInt(9_000_000_000)
)

// generateAccountNumber returns a random 10-digit account number. Uniqueness is
// enforced by the store; callers retry on collision.
func generateAccountNumber() (string, error) {
	n, err := rand.Int(rand.Reader, accountNumberSpace)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	number := n.Add(n, accountNumberFloor).String()
	if len(number) != domain.AccountNumberLength {
		return "", fmt.Errorf("generate account number: unexpected length %d", len(number))
	}
	return number, nil
}

// generateReference builds a TRF-<yyyymmddHHMMSS>-<8 hex> transfer reference.
func generateReference(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate transfer reference: %w", err)
	}
	return fmt.Sprintf("TRF-%s-%s", now.UTC().Format("20060102150405"), hex.EncodeToString(suffix)), nil
}
