package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/agentpay/agentpay/internal/domain"
	"github.com/agentpay/agentpay/internal/engine"
)

// TokenAccounts is the slice of the token ledger the API exposes directly:
// the approve step and the balance card of the original flow.
type TokenAccounts interface {
	BalanceOf(ctx context.Context, address string) (int64, error)
	Allowance(ctx context.Context, owner, spender string) (int64, error)
	Approve(ctx context.Context, owner, spender string, amount int64) error
	Spender() string
}

type Handler struct {
	engine *engine.Engine
	token  TokenAccounts
	logger zerolog.Logger
}

func NewHandler(e *engine.Engine, token TokenAccounts, logger zerolog.Logger) *Handler {
	return &Handler{engine: e, token: token, logger: logger}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) PayNowHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return
	}

	var req PayNowRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.PayNow(r.Context(), caller, req.Recipient, req.Amount, req.Description)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, SubscriptionIDResponse{SubscriptionID: id, Status: "paid"})
}

func (h *Handler) SchedulePaymentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return
	}

	var req SchedulePaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.Schedule(r.Context(), caller, req.Recipient, req.Amount, req.PaymentDate, req.Description)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, SubscriptionIDResponse{SubscriptionID: id, Status: "pending"})
}

func (h *Handler) BatchScheduleHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return
	}

	var req BatchScheduleRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := h.engine.ScheduleBatch(r.Context(), caller, req.Recipient, req.Amount, req.StartDate, req.IntervalDays, req.Count, req.Description)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, SubscriptionIDsResponse{SubscriptionIDs: ids})
}

func (h *Handler) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return
	}

	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	if err := h.engine.Cancel(r.Context(), caller, id); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SubscriptionIDResponse{SubscriptionID: id, Status: "cancelled"})
}

// ExecutePaymentHandler is unauthenticated on purpose: execution is
// permissionless, the payer's allowance funds it.
func (h *Handler) ExecutePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	if err := h.engine.Execute(r.Context(), id); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SubscriptionIDResponse{SubscriptionID: id, Status: "paid"})
}

func (h *Handler) CanExecuteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	executable, err := h.engine.CanExecute(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ExecutableResponse{SubscriptionID: id, Executable: executable})
}

func (h *Handler) GetSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid subscription id")
		return
	}

	sub, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) GetUserSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	ids, err := h.engine.UserSubscriptions(r.Context(), address)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SubscriptionIDsResponse{SubscriptionIDs: ids})
}

func (h *Handler) GetPendingSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	ids, err := h.engine.PendingSubscriptions(r.Context(), address)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SubscriptionIDsResponse{SubscriptionIDs: ids})
}

func (h *Handler) GetStatsHandler(w http.ResponseWriter, r *http.Request) {
	total, err := h.engine.TotalSubscriptions(r.Context())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatsResponse{TotalSubscriptions: total})
}

func (h *Handler) ApproveHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing caller identity")
		return
	}

	var req ApproveRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.token.Approve(r.Context(), caller, h.token.Spender(), req.Amount); err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"owner": caller, "spender": h.token.Spender(), "amount": req.Amount})
}

func (h *Handler) GetTokenAccountHandler(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	balance, err := h.token.BalanceOf(r.Context(), address)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	allowance, err := h.token.Allowance(r.Context(), address, h.token.Spender())
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, TokenAccountResponse{Address: address, Balance: balance, Allowance: allowance})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidRecipient),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrTransferFailed):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrAccountNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrNotYetDue),
		errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrAlreadyCancelled):
		code = http.StatusConflict
	}

	if code == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
		respondWithError(w, code, "Internal Server Error")
		return
	}
	respondWithError(w, code, err.Error())
}

func decodeAndValidate(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return errors.New("malformed JSON body")
	}
	return validate.Struct(req)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
