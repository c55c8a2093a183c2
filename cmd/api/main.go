package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pictora/internal/adapter/repo"
	"pictora/internal/http/handlers"
	httpapi "pictora/internal/http"
	"pictora/internal/infra"
	"pictora/internal/providers/inference"
	"pictora/internal/providers/razorpay"
	"pictora/internal/service"
	"pictora/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	credits := repo.NewCreditRepository(dbpool)
	jobs := repo.NewJobRepository(dbpool)
	payments := repo.NewPaymentRepository(dbpool)
	packs := repo.NewPackRepository(dbpool)

	inferenceClient, err := inference.NewClient(inference.Options{
		APIToken:       cfg.InferenceAPIToken,
		BaseURL:        cfg.InferenceBaseURL,
		WebhookBaseURL: cfg.WebhookBaseURL,
		TrainModel:     cfg.InferenceTrainModel,
		ImageModel:     cfg.InferenceImageModel,
		Logger:         &logger,
		PollInterval:   cfg.PreviewPollInterval,
		PollAttempts:   cfg.PreviewPollAttempts,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build inference client")
	}
	razorpayClient, err := razorpay.NewClient(razorpay.Options{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build razorpay client")
	}

	costs := service.Costs{Image: cfg.ImageGenCredits, Training: cfg.TrainModelCredits}
	gateway := service.NewGateway(jobs, credits, packs, inferenceClient, costs, logger)
	reconciler := service.NewReconciler(jobs, credits, inferenceClient, costs, cfg.RefundOnFailure, logger)
	paymentSvc := service.NewPaymentService(payments, credits, razorpayClient, cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.FrontendURL, logger)

	app := handlers.NewApp(cfg, logger)
	app.Gateway = gateway
	app.Reconciler = reconciler
	app.Payments = paymentSvc
	app.Jobs = jobs
	app.Packs = packs

	if cfg.S3Bucket != "" {
		presigner, err := storage.NewPresigner(ctx, storage.S3Options{
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to build s3 presigner")
		}
		app.Presigner = presigner
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
