package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pictora/internal/domain"
	"pictora/internal/providers/inference"
)

func TestParseProviderEvent(t *testing.T) {
	t.Run("id field", func(t *testing.T) {
		ev, err := ParseProviderEvent([]byte(`{"id":"abc","status":"succeeded","output":"https://x/y.png"}`))
		require.NoError(t, err)
		assert.Equal(t, "abc", ev.RequestID)
		assert.Equal(t, "succeeded", ev.Status)
		assert.Equal(t, inference.ShapeString, ev.Output.Shape)
	})

	t.Run("request_id fallback", func(t *testing.T) {
		ev, err := ParseProviderEvent([]byte(`{"request_id":"xyz","status":"failed","error":"boom"}`))
		require.NoError(t, err)
		assert.Equal(t, "xyz", ev.RequestID)
		assert.Equal(t, "boom", ev.Error)
	})

	t.Run("missing correlation id", func(t *testing.T) {
		_, err := ParseProviderEvent([]byte(`{"status":"succeeded"}`))
		assert.ErrorIs(t, err, domain.ErrMalformedCallback)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ParseProviderEvent([]byte(`<html>gateway timeout</html>`))
		assert.ErrorIs(t, err, domain.ErrMalformedCallback)
	})
}

func pendingTraining(userID string) *domain.Job {
	return &domain.Job{
		ID:                "m1",
		UserID:            userID,
		ProviderRequestID: "req-1",
		Kind:              domain.JobKindTraining,
		Status:            domain.JobStatusPending,
	}
}

func pendingImage(userID string) *domain.Job {
	return &domain.Job{
		ID:                "i1",
		UserID:            userID,
		ProviderRequestID: "req-9",
		Kind:              domain.JobKindImageGeneration,
		Status:            domain.JobStatusPending,
	}
}

func mustEvent(t *testing.T, body string) *ProviderEvent {
	t.Helper()
	ev, err := ParseProviderEvent([]byte(body))
	require.NoError(t, err)
	return ev
}

func TestReconcileTrainingSuccessGeneratesPreview(t *testing.T) {
	jobs := newFakeJobs(pendingTraining("u1"))
	provider := &fakeProvider{previewURL: "https://cdn/preview.png"}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-1","status":"succeeded","output":{"lora_url":"https://cdn/weights.safetensors"}}`)
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, "https://cdn/weights.safetensors", job.OutputRef)
	assert.Equal(t, "https://cdn/preview.png", job.Thumbnail)
	assert.Equal(t, 1, provider.previewRuns)
}

func TestReconcileTrainingDuplicateIsNoOp(t *testing.T) {
	jobs := newFakeJobs(pendingTraining("u1"))
	provider := &fakeProvider{previewURL: "https://cdn/preview.png"}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-1","status":"succeeded","output":"https://cdn/weights.safetensors"}`)
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))

	assert.Equal(t, 1, provider.previewRuns, "duplicate deliveries must not rerun the preview")
	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
}

func TestReconcileUnknownRequestIDIgnored(t *testing.T) {
	jobs := newFakeJobs()
	r := NewReconciler(jobs, newFakeCredits(nil), &fakeProvider{}, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"ghost","status":"succeeded","output":"https://cdn/x.png"}`)
	assert.NoError(t, r.ReconcileTraining(context.Background(), ev))
}

func TestReconcileTrainingUnusableOutputShapeFails(t *testing.T) {
	jobs := newFakeJobs(pendingTraining("u1"))
	provider := &fakeProvider{previewURL: "https://cdn/preview.png"}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-1","status":"succeeded","output":{"unexpected":"shape"}}`)
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
	assert.Equal(t, domain.JobStatusFailed, job.Status, "unusable output must not leave the job pending")
	assert.Zero(t, provider.previewRuns)
}

func TestReconcileTrainingPreviewFailureFailsJob(t *testing.T) {
	jobs := newFakeJobs(pendingTraining("u1"))
	provider := &fakeProvider{previewErr: errors.New("poll budget exhausted")}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-1","status":"succeeded","output":"https://cdn/weights.safetensors"}`)
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Empty(t, job.Thumbnail)
}

func TestReconcileTrainingRedeliveryDuringPreviewSkipsPreview(t *testing.T) {
	// A concurrent delivery already claimed the weights and is generating the
	// preview; this delivery must lose the claim and run nothing.
	job := pendingTraining("u1")
	job.Status = domain.JobStatusProcessing
	job.OutputRef = "https://cdn/weights.safetensors"
	jobs := newFakeJobs(job)
	provider := &fakeProvider{previewURL: "https://cdn/preview.png"}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-1","status":"succeeded","output":"https://cdn/weights.safetensors"}`)
	require.NoError(t, r.ReconcileTraining(context.Background(), ev))

	assert.Zero(t, provider.previewRuns, "losing the claim must not run a second preview")
	got, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
}

func TestReconcileIntermediateStatusMarksProcessing(t *testing.T) {
	jobs := newFakeJobs(pendingImage("u1"))
	r := NewReconciler(jobs, newFakeCredits(nil), &fakeProvider{}, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-9","status":"processing"}`)
	require.NoError(t, r.ReconcileImage(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-9")
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
}

func TestReconcileImageSuccessArrayOutput(t *testing.T) {
	jobs := newFakeJobs(pendingImage("u1"))
	provider := &fakeProvider{}
	r := NewReconciler(jobs, newFakeCredits(nil), provider, testCosts(), false, testLogger())

	ev := mustEvent(t, `{"id":"req-9","status":"succeeded","output":["https://cdn/a.png","https://cdn/b.png"]}`)
	require.NoError(t, r.ReconcileImage(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-9")
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, "https://cdn/a.png", job.OutputRef)
	assert.Zero(t, provider.previewRuns, "image jobs never trigger previews")
}

func TestReconcileImageObjectOutputIsUnusable(t *testing.T) {
	jobs := newFakeJobs(pendingImage("u1"))
	r := NewReconciler(jobs, newFakeCredits(nil), &fakeProvider{}, testCosts(), false, testLogger())

	// lora_url objects are a training contract, not an image one
	ev := mustEvent(t, `{"id":"req-9","status":"succeeded","output":{"lora_url":"https://cdn/w.safetensors"}}`)
	require.NoError(t, r.ReconcileImage(context.Background(), ev))

	job, _ := jobs.GetByProviderRequestID(context.Background(), "req-9")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestReconcileFailureRefundPolicy(t *testing.T) {
	t.Run("refund disabled", func(t *testing.T) {
		jobs := newFakeJobs(pendingTraining("u1"))
		credits := newFakeCredits(map[string]int64{"u1": 0})
		r := NewReconciler(jobs, credits, &fakeProvider{}, testCosts(), false, testLogger())

		ev := mustEvent(t, `{"id":"req-1","status":"failed","error":"OOM"}`)
		require.NoError(t, r.ReconcileTraining(context.Background(), ev))

		job, _ := jobs.GetByProviderRequestID(context.Background(), "req-1")
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		balance, _ := credits.GetBalance(context.Background(), "u1")
		assert.Equal(t, int64(0), balance)
	})

	t.Run("refund enabled credits once", func(t *testing.T) {
		jobs := newFakeJobs(pendingTraining("u1"))
		credits := newFakeCredits(map[string]int64{"u1": 0})
		r := NewReconciler(jobs, credits, &fakeProvider{}, testCosts(), true, testLogger())

		ev := mustEvent(t, `{"id":"req-1","status":"failed","error":"OOM"}`)
		require.NoError(t, r.ReconcileTraining(context.Background(), ev))
		require.NoError(t, r.ReconcileTraining(context.Background(), ev))

		balance, _ := credits.GetBalance(context.Background(), "u1")
		assert.Equal(t, int64(20), balance, "replayed failure callbacks must refund at most once")
	})
}
