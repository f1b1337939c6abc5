package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/port"
	"github.com/akazancev/bankcore/internal/service"
)

// ============================================================
// Account handlers
// ============================================================

type openAccountRequest struct {
	Currency       string          `json:"currency"`
	InitialDeposit decimal.Decimal `json:"initialDeposit"`
}

func openAccountHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var req openAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("currency", req.Currency))

		account, err := svc.OpenAccount(ctx, IdentityFromContext(ctx), domain.Currency(req.Currency), req.InitialDeposit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, account)
	}
}

func listAccountsHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		page, err := svc.ListAccounts(ctx, IdentityFromContext(ctx), parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func listAllAccountsHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/all")
		defer span.End()

		var filter port.AccountFilter
		if v := r.URL.Query().Get("userId"); v != "" {
			userID, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "userId must be a valid UUID")
				return
			}
			filter.UserID = &userID
		}
		if v := r.URL.Query().Get("status"); v != "" {
			status := domain.AccountStatus(v)
			filter.Status = &status
		}

		page, err := svc.ListAllAccounts(ctx, IdentityFromContext(ctx), filter, parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func getAccountHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		account, err := svc.GetAccount(ctx, IdentityFromContext(ctx), accountID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func closeAccountHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/close")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := svc.CloseAccount(ctx, IdentityFromContext(ctx), accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type amountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

func depositHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/deposit")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		account, err := svc.Deposit(ctx, IdentityFromContext(ctx), accountID, req.Amount, req.Description)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func withdrawHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts/{accountId}/withdraw")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req amountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		account, err := svc.Withdraw(ctx, IdentityFromContext(ctx), accountID, req.Amount, req.Description)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func listTransactionsHandler(svc *service.AccountLedger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts/{accountId}/transactions")
		defer span.End()

		accountID, err := uuidParam(r, "accountId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var filter port.TransactionFilter
		if v := r.URL.Query().Get("from"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "from must be RFC3339")
				return
			}
			filter.From = &t
		}
		if v := r.URL.Query().Get("to"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "to must be RFC3339")
				return
			}
			filter.To = &t
		}

		page, err := svc.ListTransactions(ctx, IdentityFromContext(ctx), accountID, filter, parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}
