package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/middleware"
	"pictora/internal/service"
)

// Submitter is the gateway surface the AI handlers consume.
type Submitter interface {
	SubmitTraining(ctx context.Context, userID string, in service.TrainingInput) (*domain.Job, error)
	GenerateImage(ctx context.Context, userID string, in service.GenerateInput) (*domain.Job, error)
	GenerateFromPack(ctx context.Context, userID string, in service.PackInput) ([]*domain.Job, error)
}

// Reconciling is the reconciler surface the webhook handlers consume.
type Reconciling interface {
	ReconcileTraining(ctx context.Context, ev *service.ProviderEvent) error
	ReconcileImage(ctx context.Context, ev *service.ProviderEvent) error
}

// PaymentProcessor is the payment surface the payment handlers consume.
type PaymentProcessor interface {
	CreateRazorpayOrder(ctx context.Context, userID string, plan domain.PlanType) (*service.CheckoutPayload, error)
	VerifyRazorpayPayment(ctx context.Context, userID, orderID, paymentID, signature string, plan domain.PlanType) (int64, error)
	CreateStripeSession(ctx context.Context, userID, email string, plan domain.PlanType) (*service.StripeCheckout, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error
	ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
	LatestSubscription(ctx context.Context, userID string) (*domain.Subscription, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// UploadPresigner hands out short-lived upload URLs.
type UploadPresigner interface {
	PresignUpload(ctx context.Context, key string) (string, error)
}

type App struct {
	Gateway    Submitter
	Reconciler Reconciling
	Payments   PaymentProcessor
	Jobs       domain.JobRepository
	Packs      domain.PackRepository
	Presigner  UploadPresigner
	Config     *infra.Config
	Logger     infra.Logger

	// dispatch runs webhook processing after the ack; replaced in tests to
	// run synchronously.
	dispatch func(fn func(ctx context.Context))
}

func NewApp(cfg *infra.Config, logger infra.Logger) *App {
	a := &App{Config: cfg, Logger: logger}
	a.dispatch = func(fn func(ctx context.Context)) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.WebhookProcessTimeout)
			defer cancel()
			fn(ctx)
		}()
	}
	return a
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]string{"error": errCode, "message": message})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

// fail maps domain sentinels onto HTTP statuses so every handler reports the
// same way.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredit):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "not enough credits")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidSignature):
		a.error(w, http.StatusBadRequest, "invalid_signature", "signature verification failed")
	case errors.Is(err, domain.ErrNoPendingTransaction):
		a.error(w, http.StatusNotFound, "no_pending_transaction", "no pending transaction for order")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "provider_failure", "inference provider rejected the request")
	default:
		a.Logger.Error().Err(err).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
