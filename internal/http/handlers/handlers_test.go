package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/middleware"
	"pictora/internal/service"
)

// Test doubles for the handler surfaces.

type stubGateway struct {
	trainingJob *domain.Job
	imageJob    *domain.Job
	batch       []*domain.Job
	err         error

	lastTraining service.TrainingInput
	lastGenerate service.GenerateInput
	lastPack     service.PackInput
}

func (s *stubGateway) SubmitTraining(_ context.Context, _ string, in service.TrainingInput) (*domain.Job, error) {
	s.lastTraining = in
	return s.trainingJob, s.err
}

func (s *stubGateway) GenerateImage(_ context.Context, _ string, in service.GenerateInput) (*domain.Job, error) {
	s.lastGenerate = in
	return s.imageJob, s.err
}

func (s *stubGateway) GenerateFromPack(_ context.Context, _ string, in service.PackInput) ([]*domain.Job, error) {
	s.lastPack = in
	return s.batch, s.err
}

type stubReconciler struct {
	trainEvents []*service.ProviderEvent
	imageEvents []*service.ProviderEvent
	err         error
}

func (s *stubReconciler) ReconcileTraining(_ context.Context, ev *service.ProviderEvent) error {
	s.trainEvents = append(s.trainEvents, ev)
	return s.err
}

func (s *stubReconciler) ReconcileImage(_ context.Context, ev *service.ProviderEvent) error {
	s.imageEvents = append(s.imageEvents, ev)
	return s.err
}

type stubPayments struct {
	payload      *service.CheckoutPayload
	checkout     *service.StripeCheckout
	balance      int64
	transactions []domain.Transaction
	subscription *domain.Subscription
	err          error
	webhookErr   error
	webhookCalls int
}

func (s *stubPayments) CreateRazorpayOrder(_ context.Context, _ string, _ domain.PlanType) (*service.CheckoutPayload, error) {
	return s.payload, s.err
}

func (s *stubPayments) VerifyRazorpayPayment(_ context.Context, _, _, _, _ string, _ domain.PlanType) (int64, error) {
	return s.balance, s.err
}

func (s *stubPayments) CreateStripeSession(_ context.Context, _, _ string, _ domain.PlanType) (*service.StripeCheckout, error) {
	return s.checkout, s.err
}

func (s *stubPayments) HandleStripeWebhook(_ context.Context, _ []byte, _ string) error {
	s.webhookCalls++
	return s.webhookErr
}

func (s *stubPayments) ListTransactions(_ context.Context, _ string) ([]domain.Transaction, error) {
	return s.transactions, s.err
}

func (s *stubPayments) LatestSubscription(_ context.Context, _ string) (*domain.Subscription, error) {
	if s.subscription == nil {
		return nil, domain.ErrNotFound
	}
	return s.subscription, s.err
}

func (s *stubPayments) Balance(_ context.Context, _ string) (int64, error) {
	return s.balance, s.err
}

type stubJobs struct {
	jobs map[string]*domain.Job
	list []domain.Job
	err  error
}

func (s *stubJobs) Create(context.Context, *domain.Job) error        { return s.err }
func (s *stubJobs) CreateBatch(context.Context, []*domain.Job) error { return s.err }

func (s *stubJobs) GetByID(_ context.Context, id string) (*domain.Job, error) {
	if job, ok := s.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubJobs) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubJobs) GetByProviderRequestID(_ context.Context, id string) (*domain.Job, error) {
	return nil, domain.ErrNotFound
}

func (s *stubJobs) ListByKind(_ context.Context, _ string, kind domain.JobKind, _, _ int) ([]domain.Job, error) {
	var out []domain.Job
	for _, j := range s.list {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out, s.err
}

func (s *stubJobs) ListByIDs(_ context.Context, userID string, ids []string) ([]domain.Job, error) {
	var out []domain.Job
	for _, id := range ids {
		for _, j := range s.list {
			if j.ID == id && j.UserID == userID {
				out = append(out, j)
			}
		}
	}
	return out, s.err
}

func (s *stubJobs) Claim(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("not implemented")
}

func (s *stubJobs) Transition(context.Context, string, []domain.JobStatus, domain.JobStatus, *string, *string) (bool, error) {
	return false, fmt.Errorf("not implemented")
}

type stubPacks struct {
	packs []domain.Pack
}

func (s *stubPacks) List(context.Context) ([]domain.Pack, error) { return s.packs, nil }
func (s *stubPacks) ListPrompts(context.Context, string) ([]domain.PackPrompt, error) {
	return nil, nil
}

func testApp() *App {
	cfg := &infra.Config{
		JWTSecret:             "test-secret",
		WebhookProcessTimeout: time.Second,
	}
	app := NewApp(cfg, zerolog.New(io.Discard))
	// run webhook processing inline so tests observe its effects
	app.dispatch = func(fn func(ctx context.Context)) { fn(context.Background()) }
	return app
}

func authed(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
