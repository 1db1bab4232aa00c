package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/auth"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const testSecret = "api-test-secret"

type apiFixture struct {
	repo     *store.MemoryRepository
	service  *app.Service
	router   http.Handler
	alice    domain.User
	bob      domain.User
	aliceAcc domain.Account
	bobAcc   domain.Account
}

func newAPIFixture(t *testing.T) apiFixture {
	t.Helper()
	repo := store.NewMemoryRepository()
	f := apiFixture{
		repo:  repo,
		alice: domain.User{ID: uuid.New(), FirstName: "Alice", LastName: "Okafor", Email: "alice@example.com"},
		bob:   domain.User{ID: uuid.New(), FirstName: "Bob", LastName: "Adeyemi", Email: "bob@example.com"},
	}
	repo.AddUser(f.alice)
	repo.AddUser(f.bob)
	f.aliceAcc = domain.Account{ID: uuid.New(), UserID: f.alice.ID, AccountNumber: "1234567890", Balance: decimal.RequireFromString("100.00"), IsDefault: true}
	f.bobAcc = domain.Account{ID: uuid.New(), UserID: f.bob.ID, AccountNumber: "9876543210", Balance: decimal.Zero, IsDefault: true}
	repo.PutAccount(f.aliceAcc)
	repo.PutAccount(f.bobAcc)

	f.service = app.NewService(repo, nil, app.Options{MaxAccountsPerUser: 2})
	f.router = NewRouter(NewWalletHandlers(f.service), auth.NewVerifier(testSecret, "", ""), nil, nil)
	return f
}

func signedToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func (f apiFixture) do(t *testing.T, method, path string, userID uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			payload.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&payload).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+signedToken(t, userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/accounts", uuid.Nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/accounts", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid token", decodeErrorMessage(t, rec))
}

func TestCreateTransferHandler_Success(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, map[string]interface{}{
		"source_account_id":        f.aliceAcc.ID,
		"recipient_account_number": f.bobAcc.AccountNumber,
		"amount":                   "40.50",
		"description":              "rent share",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var txn domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txn))
	assert.Equal(t, f.aliceAcc.ID, txn.FromAccountID)
	assert.Equal(t, f.bobAcc.ID, txn.ToAccountID)
	assert.True(t, txn.Amount.Equal(decimal.RequireFromString("40.50")))
	assert.Regexp(t, `^TRF-\d{14}-[0-9a-f]{8}$`, txn.Reference)

	source, err := f.repo.FindAccountByID(context.Background(), f.aliceAcc.ID)
	require.NoError(t, err)
	assert.True(t, source.Balance.Equal(decimal.RequireFromString("59.50")))
}

func TestCreateTransferHandler_AcceptsNumericAmount(t *testing.T) {
	f := newAPIFixture(t)

	body := `{"source_account_id":"` + f.aliceAcc.ID.String() + `","recipient_account_number":"9876543210","amount":12.5}`
	rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestCreateTransferHandler_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		recipient  string
		source     func(f apiFixture) uuid.UUID
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid amount",
			amount:     "-5",
			recipient:  "9876543210",
			wantStatus: http.StatusBadRequest,
			wantError:  app.ErrInvalidAmount.Error(),
		},
		{
			name:       "same account",
			amount:     "5",
			recipient:  "1234567890",
			wantStatus: http.StatusBadRequest,
			wantError:  app.ErrSameAccountTransfer.Error(),
		},
		{
			name:       "unknown recipient",
			amount:     "5",
			recipient:  "5555555555",
			wantStatus: http.StatusNotFound,
			wantError:  app.ErrRecipientNotFound.Error(),
		},
		{
			name:       "source owned by someone else",
			amount:     "5",
			recipient:  "1234567890",
			source:     func(f apiFixture) uuid.UUID { return f.bobAcc.ID },
			wantStatus: http.StatusNotFound,
			wantError:  app.ErrSourceAccountNotFound.Error(),
		},
		{
			name:       "insufficient funds",
			amount:     "100.01",
			recipient:  "9876543210",
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  app.ErrInsufficientFunds.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			source := f.aliceAcc.ID
			if tt.source != nil {
				source = tt.source(f)
			}
			rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, map[string]interface{}{
				"source_account_id":        source,
				"recipient_account_number": tt.recipient,
				"amount":                   tt.amount,
			})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantError, decodeErrorMessage(t, rec))
			assert.Empty(t, f.repo.Transactions())
		})
	}
}

func TestCreateTransferHandler_RejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decodeErrorMessage(t, rec))
}

func TestCreateTransferHandler_RejectsExponentAndOversizedBodies(t *testing.T) {
	f := newAPIFixture(t)
	prefix := `{"source_account_id":"` + f.aliceAcc.ID.String() + `","recipient_account_number":"9876543210","amount":`

	tests := []struct {
		name      string
		body      string
		wantError string
	}{
		{name: "exponent number", body: prefix + `1e50000000}`, wantError: app.ErrInvalidAmount.Error()},
		{name: "exponent string", body: prefix + `"1e50000000"}`, wantError: app.ErrInvalidAmount.Error()},
		{name: "oversized description", body: prefix + `"1.00","description":"` + strings.Repeat("x", maxTransferBodyBytes) + `"}`, wantError: "Invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, tt.body)
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantError, decodeErrorMessage(t, rec))
			assert.Empty(t, f.repo.Transactions())
		})
	}
}

func TestListTransactionsHandler(t *testing.T) {
	f := newAPIFixture(t)
	for _, amount := range []string{"1.00", "2.00"} {
		rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, map[string]interface{}{
			"source_account_id":        f.aliceAcc.ID,
			"recipient_account_number": f.bobAcc.AccountNumber,
			"amount":                   amount,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/transactions?account_id="+f.bobAcc.ID.String()+"&limit=1", f.bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp transactionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Transactions, 1)
	item := resp.Transactions[0]
	assert.Equal(t, domain.DirectionCredit, item.Direction)
	assert.True(t, item.Amount.Equal(decimal.RequireFromString("2.00")))

	t.Run("foreign account is not found", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/transactions?account_id="+f.bobAcc.ID.String(), f.alice.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad query", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/transactions?account_id=nope", f.bob.ID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(t, http.MethodGet, "/transactions?account_id="+f.bobAcc.ID.String()+"&limit=-1", f.bob.ID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestResponsesRenderMoneyWithTwoPlaces(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/transfers", f.alice.ID, map[string]interface{}{
		"source_account_id":        f.aliceAcc.ID,
		"recipient_account_number": f.bobAcc.AccountNumber,
		"amount":                   "40",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"amount":"40.00"`)

	rec = f.do(t, http.MethodGet, "/accounts", f.bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance":"40.00"`)

	rec = f.do(t, http.MethodGet, "/transactions?account_id="+f.aliceAcc.ID.String(), f.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"amount":"40.00"`)
	assert.Contains(t, rec.Body.String(), `"direction":"debit"`)
}

func TestAccountHandlers_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/accounts", f.alice.ID, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.IsDefault)
	assert.Len(t, created.AccountNumber, domain.AccountNumberLength)

	rec = f.do(t, http.MethodPost, "/accounts", f.alice.ID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, app.ErrAccountLimitReached.Error(), decodeErrorMessage(t, rec))

	rec = f.do(t, http.MethodPut, "/accounts/"+created.ID.String()+"/default", f.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/accounts", f.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed accountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Accounts, 2)
	assert.Equal(t, created.ID, listed.Accounts[0].ID)
	assert.True(t, listed.Accounts[0].IsDefault)
	assert.False(t, listed.Accounts[1].IsDefault)
}

func TestSetDefaultAccountHandler_Errors(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/accounts/not-a-uuid/default", f.alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/accounts/"+f.bobAcc.ID.String()+"/default", f.alice.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOnboardHandler(t *testing.T) {
	f := newAPIFixture(t)
	newcomer := domain.User{ID: uuid.New(), FirstName: "Chidi", LastName: "Eze", Email: "chidi@example.com"}
	f.repo.AddUser(newcomer)

	rec := f.do(t, http.MethodPost, "/accounts/onboard", newcomer.ID, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.IsDefault)

	rec = f.do(t, http.MethodPost, "/accounts/onboard", newcomer.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var again domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, first.ID, again.ID)

	rec = f.do(t, http.MethodPost, "/accounts/onboard", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusForKind(t *testing.T) {
	tests := map[app.Kind]int{
		app.KindValidation:        http.StatusBadRequest,
		app.KindNotFound:          http.StatusNotFound,
		app.KindConflict:          http.StatusConflict,
		app.KindInsufficientFunds: http.StatusUnprocessableEntity,
		app.KindLimitReached:      http.StatusConflict,
		app.KindRateLimited:       http.StatusTooManyRequests,
		app.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusForKind(kind), kind.String())
	}
}

func TestParseOptionalPositiveInt(t *testing.T) {
	got, err := parseOptionalPositiveInt("", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = parseOptionalPositiveInt(" 12 ", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, got)

	_, err = parseOptionalPositiveInt("-3", 7)
	assert.Error(t, err)
	_, err = parseOptionalPositiveInt("abc", 7)
	assert.Error(t, err)
}
