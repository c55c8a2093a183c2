package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pictora/internal/http/handlers"
	"pictora/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer, chimw.Logger)
	r.Use(middleware.CORS(app.Config.AllowedOrigins))
	r.Use(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute))

	// Health
	r.Get("/v1/healthz", app.Health)

	// Provider callbacks and the Stripe webhook authenticate by signature,
	// not by user token.
	r.Route("/provider/webhook", func(r chi.Router) {
		r.Post("/train", app.InferenceTrainingWebhook)
		r.Post("/image", app.InferenceImageWebhook)
	})
	r.Post("/payments/webhook", app.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(app.Config.JWTSecret))

		r.Route("/ai", func(r chi.Router) {
			r.Post("/training", app.TrainModel)
			r.Post("/generate", app.GenerateImage)
		})
		r.Post("/pack/generate", app.GenerateFromPack)
		r.Get("/pack/bulk", app.ListPacks)
		r.Get("/models", app.ListModels)
		r.Get("/image/bulk", app.ListImages)
		r.Get("/model/status/{modelId}", app.ModelStatus)
		r.Get("/pre-signed-url", app.PresignUpload)

		r.Route("/payments", func(r chi.Router) {
			r.Post("/razorpay/order", app.RazorpayCreateOrder)
			r.Post("/razorpay/verify", app.RazorpayVerify)
			r.Post("/stripe/session", app.StripeCreateSession)
			r.Get("/credits", app.Credits)
			r.Get("/transactions", app.Transactions)
			r.Get("/subscription", app.Subscription)
		})
	})

	return r
}
