package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"

	"pictora/internal/domain"
	"pictora/internal/service"
)

// Inference webhooks acknowledge immediately and reconcile in the background.
// The provider retries on non-2xx, so a 400 goes back only when the payload
// cannot be correlated to a job at all; every downstream problem is ours to
// resolve and still gets a 200.

func (a *App) InferenceTrainingWebhook(w http.ResponseWriter, r *http.Request) {
	a.inferenceWebhook(w, r, a.Reconciler.ReconcileTraining)
}

func (a *App) InferenceImageWebhook(w http.ResponseWriter, r *http.Request) {
	a.inferenceWebhook(w, r, a.Reconciler.ReconcileImage)
}

func (a *App) inferenceWebhook(w http.ResponseWriter, r *http.Request, reconcile func(context.Context, *service.ProviderEvent) error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}

	if secret := a.Config.InferenceWebhookSecret; secret != "" {
		if !verifyWebhookSignature(secret, body, r.Header.Get("X-Webhook-Signature")) {
			a.error(w, http.StatusUnauthorized, "unauthorized", "bad webhook signature")
			return
		}
	}

	ev, err := service.ParseProviderEvent(body)
	if err != nil {
		if errors.Is(err, domain.ErrMalformedCallback) {
			a.error(w, http.StatusBadRequest, "bad_request", "callback carries no request id")
			return
		}
		a.fail(w, err)
		return
	}

	a.dispatch(func(ctx context.Context) {
		if err := reconcile(ctx, ev); err != nil {
			a.Logger.Error().Err(err).Str("request_id", ev.RequestID).Msg("webhook reconciliation failed")
		}
	})

	a.json(w, http.StatusOK, map[string]string{"message": "Webhook received"})
}

func verifyWebhookSignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
