package http

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	billingapp "nexus/internal/billing/app"
	billingdomain "nexus/internal/billing/domain"
	sharederrors "nexus/internal/shared/errors"
	"nexus/internal/shared/logging"
)

const maxWebhookBodySize = 1 << 20

// BillingHandler serves credits, subscriptions, purchases and payment webhooks.
type BillingHandler struct {
	service *billingapp.Service
	logger  logging.Logger
}

// NewBillingHandler builds the billing handler.
func NewBillingHandler(service *billingapp.Service) *BillingHandler {
	return &BillingHandler{service: service, logger: logging.NewComponentLogger("BillingHandler")}
}

type purchaseRequest struct {
	PackageID string `json:"package_id"`
}

type subscriptionRequest struct {
	Mode   string `json:"mode"`
	TierID string `json:"tier_id"`
}

// HandleBalance processes GET /api/credits.
func (h *BillingHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	credits, err := h.service.Balance(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

// HandleListTransactions processes GET /api/credits/transactions.
func (h *BillingHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, h.logger, sharederrors.NewValidationError("limit", "must be an integer"))
			return
		}
		limit = parsed
	}
	var before *time.Time
	if raw := strings.TrimSpace(query.Get("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, r, h.logger, sharederrors.NewValidationError("before", "must be an RFC 3339 timestamp"))
			return
		}
		before = &parsed
	}
	txs, err := h.service.ListTransactions(r.Context(), userID(r), limit, before)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if txs == nil {
		txs = []billingdomain.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// HandleListPackages processes GET /api/credits/packages.
func (h *BillingHandler) HandleListPackages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": h.service.Packages()})
}

// HandlePurchase processes POST /api/credits/purchase.
func (h *BillingHandler) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	result, err := h.service.CreatePurchase(r.Context(), userID(r), req.PackageID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// HandleListModels processes GET /api/models.
func (h *BillingHandler) HandleListModels(w http.ResponseWriter, _ *http.Request) {
	rates := h.service.Rates()
	writeJSON(w, http.StatusOK, map[string]any{
		"models":       rates.Models(),
		"default_rate": rates.DefaultRateValue(),
	})
}

// HandleGetSubscription processes GET /api/subscription.
func (h *BillingHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetSubscription(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleUpdateSubscription processes PATCH /api/subscription.
func (h *BillingHandler) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	mode := billingdomain.SubscriptionMode(strings.ToLower(strings.TrimSpace(req.Mode)))
	sub, err := h.service.UpdateSubscription(r.Context(), userID(r), mode, req.TierID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleCancelSubscription processes DELETE /api/subscription.
func (h *BillingHandler) HandleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.CancelSubscription(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// HandleListTiers processes GET /api/subscription/tiers.
func (h *BillingHandler) HandleListTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := h.service.Tiers(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

// HandlePaymentWebhook processes POST /api/webhooks/payments.
func (h *BillingHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readWebhookBody(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	payment, err := h.service.HandlePaymentWebhook(r.Context(), payload, r.Header.Get("X-Nexus-Signature"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payment": payment})
}

// HandleStripeWebhook processes POST /api/webhooks/stripe.
func (h *BillingHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readWebhookBody(w, r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.service.HandleProviderWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	defer func() {
		_ = r.Body.Close()
	}()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, sharederrors.NewValidationError("body", "unreadable webhook payload")
	}
	return payload, nil
}
