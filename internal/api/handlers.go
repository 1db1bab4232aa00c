/**
 * @description
 * This file contains the HTTP handlers for the wallet-service's API endpoints.
 * Handlers parse incoming requests, call the application service, and translate
 * its result or error kind into an HTTP response.
 *
 * @notes
 * - Internal errors are logged in full and answered with a generic message.
 *
 * @dependencies
 * - internal/app, internal/auth, internal/domain: Service logic, identity and models.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/app"
	"github.com/transfa/wallet-service/internal/auth"
	"github.com/transfa/wallet-service/internal/domain"
)

// maxTransferBodyBytes bounds the transfer request body.
const maxTransferBodyBytes = 16 << 10

// WalletHandlers holds the application service that handlers will use.
type WalletHandlers struct {
	service *app.Service
}

// NewWalletHandlers creates a new instance of WalletHandlers.
func NewWalletHandlers(service *app.Service) *WalletHandlers {
	return &WalletHandlers{service: service}
}

// transferRequestBody accepts the amount as a JSON number or a numeric string.
type transferRequestBody struct {
	SourceAccountID        uuid.UUID   `json:"source_account_id"`
	RecipientAccountNumber string      `json:"recipient_account_number"`
	Amount                 json.Number `json:"amount"`
	Description            string      `json:"description"`
}

type accountsResponse struct {
	Accounts []domain.Account `json:"accounts"`
}

type transactionsResponse struct {
	AccountID    uuid.UUID                       `json:"account_id"`
	Transactions []domain.TransactionHistoryItem `json:"transactions"`
}

// CreateTransferHandler handles requests to move money to another account.
func (h *WalletHandlers) CreateTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var body transferRequestBody
	r.Body = http.MaxBytesReader(w, r.Body, maxTransferBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Printf("level=warn component=api endpoint=create_transfer outcome=reject reason=invalid_json user_id=%s err=%v", userID, err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	txn, err := h.service.Transfer(r.Context(), userID, domain.TransferRequest{
		SourceAccountID:        body.SourceAccountID,
		RecipientAccountNumber: body.RecipientAccountNumber,
		Amount:                 body.Amount.String(),
		Description:            body.Description,
	})
	if err != nil {
		writeServiceError(w, "create_transfer", userID, err)
		return
	}
	writeJSON(w, http.StatusCreated, txn)
}

// ListTransactionsHandler returns the newest transactions of one of the caller's accounts.
func (h *WalletHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accountID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("account_id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account_id")
		return
	}
	limit, err := parseOptionalPositiveInt(r.URL.Query().Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit")
		return
	}

	items, err := h.service.ListAccountTransactions(r.Context(), userID, accountID, limit)
	if err != nil {
		writeServiceError(w, "list_transactions", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionsResponse{AccountID: accountID, Transactions: items})
}

// ListAccountsHandler returns the caller's accounts, default first.
func (h *WalletHandlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list_accounts", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: accounts})
}

// CreateAccountHandler opens an additional account for the caller.
func (h *WalletHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	account, err := h.service.CreateAdditionalAccount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "create_account", userID, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

// OnboardHandler opens the caller's first account. Repeated calls return it.
func (h *WalletHandlers) OnboardHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	account, created, err := h.service.OnboardUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "onboard", userID, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, account)
}

// SetDefaultAccountHandler makes the given account the caller's default.
func (h *WalletHandlers) SetDefaultAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid account id")
		return
	}

	account, err := h.service.SetDefaultAccount(r.Context(), userID, accountID)
	if err != nil {
		writeServiceError(w, "set_default_account", userID, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func statusForKind(kind app.Kind) int {
	switch kind {
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindConflict, app.KindLimitReached:
		return http.StatusConflict
	case app.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case app.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, endpoint string, userID uuid.UUID, err error) {
	kind := app.KindOf(err)
	status := statusForKind(kind)

	var serviceErr *app.Error
	if kind == app.KindInternal || !errors.As(err, &serviceErr) {
		log.Printf("level=error component=api endpoint=%s outcome=failed user_id=%s err=%v", endpoint, userID, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	log.Printf("level=info component=api endpoint=%s outcome=reject reason=%s user_id=%s", endpoint, kind, userID)
	if kind == app.KindRateLimited {
		w.Header().Set("Retry-After", "60")
	}
	writeError(w, status, serviceErr.Error())
}

func parseOptionalPositiveInt(raw string, defaultValue int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if value < 0 {
		return 0, errors.New("must be >= 0")
	}
	return value, nil
}

// writeJSON is a helper for writing JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
