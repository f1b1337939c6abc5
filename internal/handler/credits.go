package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/service"
)

// ============================================================
// Tariff handlers
// ============================================================

func listTariffsHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/tariffs")
		defer span.End()

		page, err := svc.ListTariffs(ctx, parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

type createTariffRequest struct {
	Name         string          `json:"name"`
	InterestRate decimal.Decimal `json:"interestRate"`
	MinAmount    decimal.Decimal `json:"minAmount"`
	MaxAmount    decimal.Decimal `json:"maxAmount"`
	MinTerm      int             `json:"minTermMonths"`
	MaxTerm      int             `json:"maxTermMonths"`
}

func createTariffHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/tariffs")
		defer span.End()

		var req createTariffRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tariff, err := svc.CreateTariff(ctx, IdentityFromContext(ctx), service.CreateTariffRequest{
			Name:         req.Name,
			InterestRate: req.InterestRate,
			MinAmount:    req.MinAmount,
			MaxAmount:    req.MaxAmount,
			MinTerm:      req.MinTerm,
			MaxTerm:      req.MaxTerm,
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tariff)
	}
}

type tariffStatusRequest struct {
	Status string `json:"status"`
}

func setTariffStatusHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/tariffs/{tariffId}/status")
		defer span.End()

		tariffID, err := uuidParam(r, "tariffId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req tariffStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.SetTariffStatus(ctx, IdentityFromContext(ctx), tariffID, domain.TariffStatus(req.Status)); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ============================================================
// Credit handlers
// ============================================================

type applyCreditRequest struct {
	TariffID   uuid.UUID       `json:"tariffId"`
	Amount     decimal.Decimal `json:"amount"`
	TermMonths int             `json:"termMonths"`
}

func applyForCreditHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/credits")
		defer span.End()

		var req applyCreditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		span.SetAttributes(attribute.String("tariff.id", req.TariffID.String()))

		credit, err := svc.ApplyForCredit(ctx, IdentityFromContext(ctx), req.TariffID, req.Amount, req.TermMonths)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, credit)
	}
}

func getCreditHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/{creditId}")
		defer span.End()

		creditID, err := uuidParam(r, "creditId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		credit, err := svc.GetCredit(ctx, IdentityFromContext(ctx), creditID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, credit)
	}
}

func listMyCreditsHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/my")
		defer span.End()

		page, err := svc.ListMyCredits(ctx, IdentityFromContext(ctx), parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func listAllCreditsHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/credits/all")
		defer span.End()

		page, err := svc.ListAllCredits(ctx, IdentityFromContext(ctx), parsePage(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, page)
	}
}

type payCreditRequest struct {
	AccountID uuid.UUID       `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
}

func payCreditHandler(svc *service.CreditLifecycle, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/credits/{creditId}/payments")
		defer span.End()

		creditID, err := uuidParam(r, "creditId")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var req payCreditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		credit, err := svc.PayCredit(ctx, IdentityFromContext(ctx), creditID, req.AccountID, req.Amount)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, credit)
	}
}
