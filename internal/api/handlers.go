/**
 * @description
 * This file contains the HTTP handlers for the settlement-service's API endpoints.
 * Handlers parse and validate requests, call the settlement engine and map its errors to
 * status codes. They never touch balances directly.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - github.com/go-playground/validator/v10: Request DTO validation.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/fundflow/settlement-service/internal/app"
	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxRequestBodyBytes = 1 << 20

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service  *app.Service
	validate *validator.Validate
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *app.Service) *Handlers {
	return &Handlers{
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, errorResponse{Error: message})
}

// respondWithServiceError maps engine and store errors onto the public taxonomy. Gateway and
// internal details are logged, never echoed.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rateLimited *app.RateLimitError
	var validationErrs validator.ValidationErrors

	switch {
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
		respondWithError(w, http.StatusTooManyRequests, "Too many requests, please try again later")
	case errors.As(err, &validationErrs):
		respondWithError(w, http.StatusBadRequest, validationMessage(validationErrs))
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSelfTransfer),
		errors.Is(err, app.ErrInvalidPayload),
		errors.Is(err, app.ErrMissingReference):
		respondWithError(w, http.StatusBadRequest, publicMessage(err))
	case errors.Is(err, app.ErrInvalidSignature):
		respondWithError(w, http.StatusUnauthorized, "Invalid signature")
	case errors.Is(err, store.ErrInsufficientFunds):
		respondWithError(w, http.StatusPaymentRequired, "Insufficient funds")
	case errors.Is(err, store.ErrReceiverNotFound):
		respondWithError(w, http.StatusNotFound, "Receiving account not found")
	case errors.Is(err, store.ErrAccountNotFound),
		errors.Is(err, store.ErrTransactionNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrBankNotFound):
		respondWithError(w, http.StatusNotFound, publicMessage(err))
	case errors.Is(err, store.ErrDuplicateAccountNumber),
		errors.Is(err, store.ErrDuplicateReference),
		errors.Is(err, app.ErrReconciliationInProgress):
		respondWithError(w, http.StatusConflict, publicMessage(err))
	case errors.Is(err, app.ErrAccountNumberExhausted):
		respondWithError(w, http.StatusServiceUnavailable, "Unable to allocate an account number, please retry")
	case errors.Is(err, app.ErrPaymentNotSuccessful):
		respondWithError(w, http.StatusUnprocessableEntity, "Payment has not been completed")
	case errors.Is(err, gateway.ErrUnavailable):
		log.Printf("level=warn component=api path=%s msg=\"gateway unavailable\" err=%v", r.URL.Path, err)
		respondWithError(w, http.StatusBadGateway, "Payment provider is unavailable, please try again later")
	case errors.Is(err, gateway.ErrRejected):
		log.Printf("level=info component=api path=%s msg=\"gateway rejected request\" err=%v", r.URL.Path, err)
		respondWithError(w, http.StatusUnprocessableEntity, "Payment provider declined the request")
	default:
		log.Printf("level=error component=api path=%s msg=\"request failed\" err=%v", r.URL.Path, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// publicMessage capitalizes a sentinel's text for display.
func publicMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ":"); i > 0 {
		msg = msg[:i]
	}
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func validationMessage(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Invalid request"
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "len":
		return fe.Field() + " must be " + fe.Param() + " characters"
	case "numeric":
		return fe.Field() + " must contain only digits"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		respondWithServiceError(w, r, err)
		return false
	}
	return true
}

// currentUser returns the authenticated caller or writes a 401.
func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return userID, ok
}

func listOptions(r *http.Request) domain.TransactionListOptions {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return domain.TransactionListOptions{
		Page:   page,
		Limit:  limit,
		Search: strings.TrimSpace(q.Get("search")),
	}
}

// ListAccountsHandler returns the caller's accounts.
func (h *Handlers) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.service.ListAccounts(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, accounts)
}

// CreateAccountHandler opens an additional account for the caller.
func (h *Handlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	account, err := h.service.CreateAccount(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, account)
}

// GetAccountHandler returns one of the caller's accounts by id.
func (h *Handlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	accountID, err := uuid.Parse(chi.URLParam(r, "account_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid account id")
		return
	}
	account, err := h.service.GetAccount(r.Context(), userID, accountID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// GetAccountByNumberHandler returns one of the caller's accounts by number.
func (h *Handlers) GetAccountByNumberHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	account, err := h.service.GetAccountByNumber(r.Context(), userID, chi.URLParam(r, "account_number"))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

// ResolveAccountHandler confirms an external receiver's account name.
func (h *Handlers) ResolveAccountHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := currentUser(w, r); !ok {
		return
	}
	var req domain.ResolveAccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	resolved, err := h.service.ResolveReceiver(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resolved)
}

// ListBanksHandler returns the bank catalog.
func (h *Handlers) ListBanksHandler(w http.ResponseWriter, r *http.Request) {
	banks, err := h.service.ListBanks(r.Context())
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, banks)
}

// TransferHandler moves funds between two internal accounts.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.InternalTransferRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	result, err := h.service.TransferInternal(r.Context(), userID, req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Transfer successful", Data: result})
}

// FundAccountHandler starts an aggregator charge for one of the caller's accounts.
func (h *Handlers) FundAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.FundAccountRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	initialized, err := h.service.InitializeFunding(r.Context(), userID, req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, initialized)
}

// BankTransferHandler sends funds to an external bank account. A transfer the gateway has
// not finished is reported as 202 Accepted.
func (h *Handlers) BankTransferHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req domain.BankTransferRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	outcome, err := h.service.TransferToBank(r.Context(), userID, req)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if !outcome.Settled {
		respondWithJSON(w, http.StatusAccepted, messageResponse{Message: "Transfer is being processed", Data: outcome})
		return
	}
	respondWithJSON(w, http.StatusOK, messageResponse{Message: "Transfer successful", Data: outcome})
}

// ListTransactionsHandler returns a page of the caller's transactions.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := h.service.ListTransactions(r.Context(), userID, listOptions(r))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

// ListAccountTransactionsHandler returns a page of one owned account's transactions.
func (h *Handlers) ListAccountTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	page, err := h.service.ListAccountTransactions(r.Context(), userID, chi.URLParam(r, "account_number"), listOptions(r))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, page)
}

// GetTransactionHandler returns one of the caller's transactions.
func (h *Handlers) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	transactionID, err := uuid.Parse(chi.URLParam(r, "transaction_id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid transaction id")
		return
	}
	transaction, err := h.service.GetTransaction(r.Context(), userID, transactionID)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, transaction)
}
