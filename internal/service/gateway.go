package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/providers/inference"
)

// Costs prices one unit of billable work per job kind.
type Costs struct {
	Image    int64
	Training int64
}

// For returns the credit cost of a single job of the given kind.
func (c Costs) For(kind domain.JobKind) int64 {
	if kind == domain.JobKindTraining {
		return c.Training
	}
	return c.Image
}

// InferenceSubmitter is the provider surface the gateway submits through.
type InferenceSubmitter interface {
	TrainModel(ctx context.Context, zipURL, triggerWord string) (*inference.SubmitResult, error)
	GenerateImage(ctx context.Context, prompt, weightsURL string) (*inference.SubmitResult, error)
}

// Gateway submits billable work to the inference provider and provisionally
// debits credits at submission time. The order of side effects is fixed:
// balance pre-check, provider call, job record, debit. A provider rejection
// happens before any local state exists; a debit failure after the provider
// accepted never loses the job record.
type Gateway struct {
	jobs     domain.JobRepository
	credits  domain.CreditRepository
	packs    domain.PackRepository
	provider InferenceSubmitter
	costs    Costs
	logger   infra.Logger

	// debit retry knobs, overridable in tests
	debitRetryDelay    time.Duration
	debitRetryAttempts int
}

// NewGateway wires a job submission gateway.
func NewGateway(jobs domain.JobRepository, credits domain.CreditRepository, packs domain.PackRepository, provider InferenceSubmitter, costs Costs, logger infra.Logger) *Gateway {
	return &Gateway{
		jobs:               jobs,
		credits:            credits,
		packs:              packs,
		provider:           provider,
		costs:              costs,
		logger:             logger,
		debitRetryDelay:    time.Second,
		debitRetryAttempts: 5,
	}
}

// TrainingInput describes a fine-tuning submission.
type TrainingInput struct {
	ZipURL string
	Name   string
}

// SubmitTraining submits a fine-tuning job and debits the training cost.
func (g *Gateway) SubmitTraining(ctx context.Context, userID string, in TrainingInput) (*domain.Job, error) {
	if strings.TrimSpace(in.ZipURL) == "" || strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("zipUrl and name are required: %w", domain.ErrValidation)
	}

	cost := g.costs.Training
	if err := g.checkBalance(ctx, userID, cost); err != nil {
		return nil, err
	}

	res, err := g.provider.TrainModel(ctx, in.ZipURL, in.Name)
	if err != nil {
		return nil, fmt.Errorf("submit training: %w", err)
	}

	job := &domain.Job{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProviderRequestID: res.RequestID,
		Kind:              domain.JobKindTraining,
		Status:            domain.JobStatusPending,
		Name:              in.Name,
		InputRef:          in.ZipURL,
	}
	if err := g.jobs.Create(ctx, job); err != nil {
		g.logger.Error().Err(err).Str("request_id", res.RequestID).Msg("provider accepted training job but record creation failed")
		return nil, fmt.Errorf("record training job: %w", err)
	}

	g.debit(ctx, userID, cost, job.ID)
	return job, nil
}

// GenerateInput describes a single image generation against a trained model.
type GenerateInput struct {
	ModelID string
	Prompt  string
}

// GenerateImage submits one image generation and debits the unit cost.
func (g *Gateway) GenerateImage(ctx context.Context, userID string, in GenerateInput) (*domain.Job, error) {
	if strings.TrimSpace(in.ModelID) == "" || strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("modelId and prompt are required: %w", domain.ErrValidation)
	}

	model, err := g.readyModel(ctx, in.ModelID)
	if err != nil {
		return nil, err
	}

	cost := g.costs.Image
	if err := g.checkBalance(ctx, userID, cost); err != nil {
		return nil, err
	}

	res, err := g.provider.GenerateImage(ctx, in.Prompt, model.OutputRef)
	if err != nil {
		return nil, fmt.Errorf("submit generation: %w", err)
	}

	job := &domain.Job{
		ID:                uuid.NewString(),
		UserID:            userID,
		ProviderRequestID: res.RequestID,
		Kind:              domain.JobKindImageGeneration,
		Status:            domain.JobStatusPending,
		ModelID:           model.ID,
		InputRef:          in.Prompt,
	}
	if err := g.jobs.Create(ctx, job); err != nil {
		g.logger.Error().Err(err).Str("request_id", res.RequestID).Msg("provider accepted generation but record creation failed")
		return nil, fmt.Errorf("record generation job: %w", err)
	}

	g.debit(ctx, userID, cost, job.ID)
	return job, nil
}

// PackInput describes a batch generation of every prompt in a pack.
type PackInput struct {
	PackID  string
	ModelID string
}

// GenerateFromPack submits one generation per pack prompt. Pricing is
// all-or-nothing: the balance must cover every unit before the first provider
// call is made, otherwise the whole batch is rejected.
func (g *Gateway) GenerateFromPack(ctx context.Context, userID string, in PackInput) ([]*domain.Job, error) {
	if strings.TrimSpace(in.PackID) == "" || strings.TrimSpace(in.ModelID) == "" {
		return nil, fmt.Errorf("packId and modelId are required: %w", domain.ErrValidation)
	}

	prompts, err := g.packs.ListPrompts(ctx, in.PackID)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, fmt.Errorf("pack %s has no prompts: %w", in.PackID, domain.ErrNotFound)
	}

	model, err := g.readyModel(ctx, in.ModelID)
	if err != nil {
		return nil, err
	}

	total := g.costs.Image * int64(len(prompts))
	if err := g.checkBalance(ctx, userID, total); err != nil {
		return nil, err
	}

	jobs := make([]*domain.Job, 0, len(prompts))
	for _, prompt := range prompts {
		res, err := g.provider.GenerateImage(ctx, prompt.Prompt, model.OutputRef)
		if err != nil {
			g.logger.Error().Err(err).Int("submitted", len(jobs)).Msg("batch submission aborted mid-pack")
			return nil, fmt.Errorf("submit batch: %w", err)
		}
		jobs = append(jobs, &domain.Job{
			ID:                uuid.NewString(),
			UserID:            userID,
			ProviderRequestID: res.RequestID,
			Kind:              domain.JobKindImageGeneration,
			Status:            domain.JobStatusPending,
			ModelID:           model.ID,
			InputRef:          prompt.Prompt,
		})
	}

	if err := g.jobs.CreateBatch(ctx, jobs); err != nil {
		g.logger.Error().Err(err).Msg("provider accepted batch but record creation failed")
		return nil, fmt.Errorf("record batch: %w", err)
	}

	g.debit(ctx, userID, total, "batch:"+in.PackID)
	return jobs, nil
}

func (g *Gateway) checkBalance(ctx context.Context, userID string, cost int64) error {
	balance, err := g.credits.GetBalance(ctx, userID)
	if err != nil {
		return err
	}
	if balance < cost {
		return domain.ErrInsufficientCredit
	}
	return nil
}

// readyModel resolves a model id to a training job whose weights are usable.
func (g *Gateway) readyModel(ctx context.Context, modelID string) (*domain.Job, error) {
	model, err := g.jobs.GetByID(ctx, modelID)
	if err != nil {
		return nil, err
	}
	if model.Kind != domain.JobKindTraining || model.Status != domain.JobStatusSucceeded || model.OutputRef == "" {
		return nil, fmt.Errorf("model %s has no trained weights: %w", modelID, domain.ErrNotFound)
	}
	return model, nil
}

// debit applies the provisional charge once the provider accepted the work.
// The job is already recorded at this point, so a failed debit is queued for
// background retry instead of being dropped. ref keys the ledger marker, so a
// retry after an ambiguous failure (the attempt may or may not have committed)
// settles as a no-op rather than a second charge.
func (g *Gateway) debit(ctx context.Context, userID string, amount int64, ref string) {
	err := g.credits.TryDebit(ctx, userID, amount, ref)
	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrInsufficientCredit) {
		// Balance fell below the pre-checked cost between check and debit.
		// The provider job is already running; charging a partial amount
		// would corrupt the ledger, so log and move on.
		g.logger.Warn().Str("user_id", userID).Int64("amount", amount).Str("ref", ref).Msg("balance dropped below cost after submission, debit skipped")
		return
	}
	g.logger.Error().Err(err).Str("user_id", userID).Int64("amount", amount).Str("ref", ref).Msg("debit failed, queuing retry")

	delay := g.debitRetryDelay
	attempts := g.debitRetryAttempts
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for i := 0; i < attempts; i++ {
			select {
			case <-ctx.Done():
				g.logger.Error().Str("user_id", userID).Int64("amount", amount).Str("ref", ref).Msg("debit retry abandoned")
				return
			case <-time.After(delay):
			}
			delay *= 2
			err := g.credits.TryDebit(ctx, userID, amount, ref)
			if err == nil || errors.Is(err, domain.ErrInsufficientCredit) {
				if err != nil {
					g.logger.Warn().Str("user_id", userID).Msg("debit retry hit insufficient balance, giving up")
				}
				return
			}
		}
		g.logger.Error().Str("user_id", userID).Int64("amount", amount).Str("ref", ref).Msg("debit retry exhausted")
	}()
}
