package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pictora/internal/domain"
	"pictora/internal/infra"
	"pictora/internal/providers/inference"
)

// PreviewGenerator produces a sample image from freshly trained weights.
type PreviewGenerator interface {
	GenerateImageSync(ctx context.Context, weightsURL string) (string, error)
}

// ProviderEvent is a decoded inference webhook callback.
type ProviderEvent struct {
	RequestID string
	Status    string
	Output    inference.Output
	Error     string
}

// ParseProviderEvent decodes a callback body. A body without a recoverable
// request id cannot be correlated to any job and is rejected as malformed;
// every other oddity is left for reconciliation to handle.
func ParseProviderEvent(body []byte) (*ProviderEvent, error) {
	var payload struct {
		ID        string          `json:"id"`
		RequestID string          `json:"request_id"`
		Status    string          `json:"status"`
		Output    json.RawMessage `json:"output"`
		Error     json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode callback: %w", domain.ErrMalformedCallback)
	}
	requestID := payload.ID
	if requestID == "" {
		requestID = payload.RequestID
	}
	if requestID == "" {
		return nil, fmt.Errorf("callback carries no request id: %w", domain.ErrMalformedCallback)
	}

	ev := &ProviderEvent{
		RequestID: requestID,
		Status:    payload.Status,
		Output:    inference.DecodeOutput(payload.Output),
	}
	// error may arrive as a JSON string or anything else the provider emits
	var msg string
	if json.Unmarshal(payload.Error, &msg) == nil {
		ev.Error = msg
	} else if len(payload.Error) > 0 && string(payload.Error) != "null" {
		ev.Error = string(payload.Error)
	}
	return ev, nil
}

// Reconciler applies provider callbacks to job records. Transitions are
// status-guarded at the storage layer, so duplicate and out-of-order
// deliveries collapse to no-ops once a job is terminal.
type Reconciler struct {
	jobs            domain.JobRepository
	credits         domain.CreditRepository
	preview         PreviewGenerator
	costs           Costs
	refundOnFailure bool
	logger          infra.Logger
}

// NewReconciler wires a webhook reconciler.
func NewReconciler(jobs domain.JobRepository, credits domain.CreditRepository, preview PreviewGenerator, costs Costs, refundOnFailure bool, logger infra.Logger) *Reconciler {
	return &Reconciler{
		jobs:            jobs,
		credits:         credits,
		preview:         preview,
		costs:           costs,
		refundOnFailure: refundOnFailure,
		logger:          logger,
	}
}

// ReconcileTraining applies a training callback. On success the weights URL is
// normalized, a preview image is generated synchronously, and only then does
// the job flip to succeeded so a succeeded training job always carries both
// weights and thumbnail.
func (r *Reconciler) ReconcileTraining(ctx context.Context, ev *ProviderEvent) error {
	return r.reconcile(ctx, ev, true)
}

// ReconcileImage applies an image generation callback.
func (r *Reconciler) ReconcileImage(ctx context.Context, ev *ProviderEvent) error {
	return r.reconcile(ctx, ev, false)
}

func (r *Reconciler) reconcile(ctx context.Context, ev *ProviderEvent, training bool) error {
	job, err := r.jobs.GetByProviderRequestID(ctx, ev.RequestID)
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Info().Str("request_id", ev.RequestID).Msg("callback for unknown request id, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		r.logger.Debug().Str("request_id", ev.RequestID).Str("status", string(job.Status)).Msg("duplicate callback for settled job")
		return nil
	}

	switch ev.Status {
	case "failed", "canceled":
		if ev.Error != "" {
			r.logger.Warn().Str("request_id", ev.RequestID).Str("error", ev.Error).Msg("provider reported failure")
		}
		return r.fail(ctx, job)

	case "succeeded":
		ref, ok := ev.Output.Ref(training)
		if !ok {
			r.logger.Error().Str("request_id", ev.RequestID).Msg("succeeded callback with unusable output shape")
			return r.fail(ctx, job)
		}

		if !training {
			applied, err := r.jobs.Transition(ctx, ev.RequestID,
				[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
				domain.JobStatusSucceeded, &ref, nil)
			if err != nil {
				return err
			}
			if !applied {
				r.logger.Debug().Str("request_id", ev.RequestID).Msg("job settled concurrently, success transition skipped")
			}
			return nil
		}

		// Claim the weights before the synchronous preview: of two concurrent
		// success deliveries for the same request id only one wins the claim,
		// so only one preview ever runs.
		claimed, err := r.jobs.Claim(ctx, ev.RequestID, ref)
		if err != nil {
			return err
		}
		if !claimed {
			r.logger.Debug().Str("request_id", ev.RequestID).Msg("weights already claimed, preview skipped")
			return nil
		}

		url, perr := r.preview.GenerateImageSync(ctx, ref)
		if perr != nil {
			r.logger.Error().Err(perr).Str("request_id", ev.RequestID).Msg("preview generation failed")
			return r.fail(ctx, job)
		}

		applied, err := r.jobs.Transition(ctx, ev.RequestID,
			[]domain.JobStatus{domain.JobStatusProcessing},
			domain.JobStatusSucceeded, &ref, &url)
		if err != nil {
			return err
		}
		if !applied {
			r.logger.Debug().Str("request_id", ev.RequestID).Msg("job settled concurrently, success transition skipped")
		}
		return nil

	default:
		// starting, processing, and anything else non-terminal
		_, err := r.jobs.Transition(ctx, ev.RequestID,
			[]domain.JobStatus{domain.JobStatusPending},
			domain.JobStatusProcessing, nil, nil)
		return err
	}
}

func (r *Reconciler) fail(ctx context.Context, job *domain.Job) error {
	applied, err := r.jobs.Transition(ctx, job.ProviderRequestID,
		[]domain.JobStatus{domain.JobStatusPending, domain.JobStatusProcessing},
		domain.JobStatusFailed, nil, nil)
	if err != nil {
		return err
	}
	if !applied || !r.refundOnFailure {
		return nil
	}
	amount := r.costs.For(job.Kind)
	if err := r.credits.Credit(ctx, job.UserID, amount); err != nil {
		r.logger.Error().Err(err).Str("user_id", job.UserID).Int64("amount", amount).Msg("refund failed")
		return err
	}
	return nil
}
