package domain

import "time"

// JobKind enumerates billable units of work submitted to the inference provider.
type JobKind string

const (
	JobKindTraining        JobKind = "training"
	JobKindImageGeneration JobKind = "image_generation"
)

// JobStatus enumerates the job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is one billable unit of work tracked through the provider's webhook
// lifecycle. ProviderRequestID is the sole correlation key for incoming
// callbacks and is unique across both kinds.
type Job struct {
	ID                string
	UserID            string
	ProviderRequestID string
	Kind              JobKind
	Status            JobStatus
	Name              string
	ModelID           string // image jobs: id of the training job whose weights were used
	InputRef          string // source archive URL for training, prompt for image generation
	OutputRef         string // trained-weights URL or generated-image URL
	Thumbnail         string // preview artifact, training jobs only
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
