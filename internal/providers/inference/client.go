package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pictora/internal/domain"
	"pictora/internal/infra"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("inference: api token is required")

// Options configures the inference provider client.
type Options struct {
	APIToken       string
	BaseURL        string
	WebhookBaseURL string
	TrainModel     string
	ImageModel     string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	PollInterval   time.Duration
	PollAttempts   int
}

// Client performs HTTP calls to the prediction API. It is constructed once at
// process start and injected wherever jobs are submitted or previewed; there is
// no package-level shared state.
type Client struct {
	apiToken     string
	baseURL      string
	webhookBase  string
	trainModel   string
	imageModel   string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	pollAttempts int
}

// SubmitResult is the provider's acknowledgment of an accepted job.
type SubmitResult struct {
	RequestID string
}

type predictionRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  json.RawMessage `json:"error"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 45 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	pollAttempts := opts.PollAttempts
	if pollAttempts <= 0 {
		pollAttempts = 120
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		webhookBase:  normalizeWebhookBase(opts.WebhookBaseURL),
		trainModel:   opts.TrainModel,
		imageModel:   opts.ImageModel,
		httpClient:   httpClient,
		logger:       logger,
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// TrainModel submits a fine-tuning job over the uploaded archive. The provider
// will report completion to the training webhook.
func (c *Client) TrainModel(ctx context.Context, zipURL, triggerWord string) (*SubmitResult, error) {
	req := predictionRequest{
		Version: c.trainModel,
		Input: map[string]any{
			"input_images":  zipURL,
			"trigger_word":  triggerWord,
			"prompt":        "A photo of " + triggerWord,
			"steps":         1000,
			"batch_size":    4,
			"learning_rate": 1e-4,
			"resolution":    1024,
		},
	}
	c.attachWebhook(&req, "train")
	pred, err := c.createPrediction(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{RequestID: pred.ID}, nil
}

// GenerateImage submits one image generation against trained weights. The
// provider will report completion to the image webhook.
func (c *Client) GenerateImage(ctx context.Context, prompt, weightsURL string) (*SubmitResult, error) {
	req := predictionRequest{
		Version: c.imageModel,
		Input: map[string]any{
			"prompt":              prompt,
			"lora_url":            weightsURL,
			"lora_scale":          1,
			"num_inference_steps": 28,
			"guidance_scale":      7.5,
		},
	}
	c.attachWebhook(&req, "image")
	pred, err := c.createPrediction(ctx, req)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{RequestID: pred.ID}, nil
}

// GenerateImageSync produces a preview image from freshly trained weights and
// waits for the result, polling at a fixed interval with a bounded attempt
// count. Cancelling ctx aborts the wait.
func (c *Client) GenerateImageSync(ctx context.Context, weightsURL string) (string, error) {
	req := predictionRequest{
		Version: c.imageModel,
		Input: map[string]any{
			"prompt":              "A professional headshot photo in front of a white background",
			"lora_url":            weightsURL,
			"lora_scale":          1,
			"num_inference_steps": 28,
			"guidance_scale":      7.5,
		},
	}
	pred, err := c.createPrediction(ctx, req)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if pred.Status == "succeeded" {
			ref, ok := DecodeOutput(pred.Output).Ref(false)
			if !ok {
				return "", fmt.Errorf("inference: no image url in preview result: %w", domain.ErrProviderFailure)
			}
			return ref, nil
		}
		if pred.Status == "failed" || pred.Status == "canceled" {
			return "", fmt.Errorf("inference: preview %s: %s: %w", pred.Status, string(pred.Error), domain.ErrProviderFailure)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
		pred, err = c.getPrediction(ctx, pred.ID)
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("inference: preview did not finish within %d polls: %w", c.pollAttempts, domain.ErrProviderFailure)
}

func (c *Client) createPrediction(ctx context.Context, req predictionRequest) (*prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("inference: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Token "+c.apiToken)

	return c.doPrediction(httpReq)
}

func (c *Client) getPrediction(ctx context.Context, id string) (*prediction, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("inference: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+c.apiToken)

	return c.doPrediction(httpReq)
}

func (c *Client) doPrediction(httpReq *http.Request) (*prediction, error) {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("inference: http request: %w: %w", err, domain.ErrProviderFailure)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("inference: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Str("body", string(payload)).Msg("inference provider rejected request")
		return nil, fmt.Errorf("inference: unexpected status %d: %w", resp.StatusCode, domain.ErrProviderFailure)
	}
	var pred prediction
	if err := json.Unmarshal(payload, &pred); err != nil {
		return nil, fmt.Errorf("inference: decode response: %w", err)
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("inference: response missing prediction id: %w", domain.ErrProviderFailure)
	}
	return &pred, nil
}

func (c *Client) attachWebhook(req *predictionRequest, kind string) {
	if c.webhookBase == "" {
		c.logger.Warn().Msg("no webhook base url configured, provider callbacks disabled")
		return
	}
	req.Webhook = c.webhookBase + "/provider/webhook/" + kind
	req.WebhookEventsFilter = []string{"completed"}
}

// normalizeWebhookBase forces https and strips trailing slashes; the provider
// refuses plain-http callback addresses.
func normalizeWebhookBase(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	if strings.HasPrefix(base, "http://") {
		base = "https://" + strings.TrimPrefix(base, "http://")
	} else if !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/")
}
