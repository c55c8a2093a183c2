package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictora/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, provider_request_id, kind, status, name, model_id, input_ref, output_ref, thumbnail, created_at, updated_at`

const insertJobQuery = `
INSERT INTO jobs (id, user_id, provider_request_id, kind, status, name, model_id, input_ref, output_ref, thumbnail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.pool.Exec(ctx, insertJobQuery,
		job.ID,
		job.UserID,
		job.ProviderRequestID,
		job.Kind,
		job.Status,
		job.Name,
		job.ModelID,
		job.InputRef,
		job.OutputRef,
		job.Thumbnail,
	)
	return err
}

// CreateBatch inserts all jobs in one round trip.
func (r *JobRepositoryPG) CreateBatch(ctx context.Context, jobs []*domain.Job) error {
	batch := &pgx.Batch{}
	for _, job := range jobs {
		batch.Queue(insertJobQuery,
			job.ID,
			job.UserID,
			job.ProviderRequestID,
			job.Kind,
			job.Status,
			job.Name,
			job.ModelID,
			job.InputRef,
			job.OutputRef,
			job.Thumbnail,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range jobs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// GetForUser fetches a job scoped to its owner.
func (r *JobRepositoryPG) GetForUser(ctx context.Context, id, userID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2;`
	return r.scanJob(r.pool.QueryRow(ctx, query, id, userID))
}

// GetByProviderRequestID resolves the webhook correlation key to a job.
func (r *JobRepositoryPG) GetByProviderRequestID(ctx context.Context, requestID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE provider_request_id = $1;`
	return r.scanJob(r.pool.QueryRow(ctx, query, requestID))
}

// ListByKind lists a user's jobs of one kind, newest first.
func (r *JobRepositoryPG) ListByKind(ctx context.Context, userID string, kind domain.JobKind, limit, offset int) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1 AND kind = $2 AND status <> $3
ORDER BY created_at DESC
LIMIT $4 OFFSET $5;
`
	rows, err := r.pool.Query(ctx, query, userID, kind, domain.JobStatusFailed, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListByIDs lists the user's jobs matching ids, newest first. Ids the user
// does not own simply drop out of the result.
func (r *JobRepositoryPG) ListByIDs(ctx context.Context, userID string, ids []string) ([]domain.Job, error) {
	query := `
SELECT ` + jobColumns + `
FROM jobs
WHERE user_id = $1 AND id = ANY($2)
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, userID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Claim records the output for a live job exactly once. The empty-output
// guard is re-checked under the row lock, so of two concurrent claimants for
// the same request id only one sees a row change.
func (r *JobRepositoryPG) Claim(ctx context.Context, providerRequestID, outputRef string) (bool, error) {
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW(),
    output_ref = $3
WHERE provider_request_id = $1 AND status = ANY($4) AND output_ref = '';
`
	live := []string{string(domain.JobStatusPending), string(domain.JobStatusProcessing)}
	tag, err := r.pool.Exec(ctx, query, providerRequestID, domain.JobStatusProcessing, outputRef, live)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Transition applies a status-guarded update keyed by the provider request id.
// The guard makes terminal states immutable and serializes competing webhook
// deliveries: only one of two concurrent updates can match the stored status.
func (r *JobRepositoryPG) Transition(ctx context.Context, providerRequestID string, from []domain.JobStatus, to domain.JobStatus, outputRef, thumbnail *string) (bool, error) {
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW(),
    output_ref = COALESCE($3, output_ref),
    thumbnail = COALESCE($4, thumbnail)
WHERE provider_request_id = $1 AND status = ANY($5);
`
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	tag, err := r.pool.Exec(ctx, query, providerRequestID, to, outputRef, thumbnail, states)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepositoryPG) scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.ProviderRequestID,
		&job.Kind,
		&job.Status,
		&job.Name,
		&job.ModelID,
		&job.InputRef,
		&job.OutputRef,
		&job.Thumbnail,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}
