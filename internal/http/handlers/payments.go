package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pictora/internal/domain"
)

type razorpayOrderRequest struct {
	Plan string `json:"plan"`
}

type razorpayVerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
	Plan      string `json:"plan"`
}

type stripeSessionRequest struct {
	Plan  string `json:"plan"`
	Email string `json:"email"`
}

func (a *App) RazorpayCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req razorpayOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	payload, err := a.Payments.CreateRazorpayOrder(r.Context(), userID, domain.PlanType(req.Plan))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, payload)
}

func (a *App) RazorpayVerify(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req razorpayVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	balance, err := a.Payments.VerifyRazorpayPayment(r.Context(), userID, req.OrderID, req.PaymentID, req.Signature, domain.PlanType(req.Plan))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"verified": true, "credits": balance})
}

func (a *App) StripeCreateSession(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req stripeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	checkout, err := a.Payments.CreateStripeSession(r.Context(), userID, req.Email, domain.PlanType(req.Plan))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, checkout)
}

// StripeWebhook settles checkout sessions. Unlike the inference webhooks this
// runs inline: Stripe signs the payload, retries on failure and expects the
// response to reflect the outcome.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	err = a.Payments.HandleStripeWebhook(r.Context(), body, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
		a.json(w, http.StatusOK, map[string]string{"received": "true"})
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrMalformedCallback):
		a.error(w, http.StatusBadRequest, "bad_request", "webhook rejected")
	default:
		a.Logger.Error().Err(err).Msg("stripe webhook settlement failed")
		a.error(w, http.StatusInternalServerError, "internal", "settlement failed")
	}
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	balance, err := a.Payments.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"credits": balance})
}

func (a *App) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	txns, err := a.Payments.ListTransactions(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]map[string]any, 0, len(txns))
	for _, txn := range txns {
		items = append(items, map[string]any{
			"id":         txn.ID,
			"amount":     txn.Amount,
			"currency":   txn.Currency,
			"order_id":   txn.OrderID,
			"plan":       txn.Plan,
			"status":     txn.Status,
			"created_at": txn.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"transactions": items})
}

func (a *App) Subscription(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	sub, err := a.Payments.LatestSubscription(r.Context(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		a.json(w, http.StatusOK, map[string]any{"subscription": nil})
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"subscription": map[string]any{
		"id":         sub.ID,
		"plan":       sub.Plan,
		"created_at": sub.CreatedAt,
	}})
}
