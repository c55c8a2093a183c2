package repo

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"pictora/internal/domain"
)

// PackRepositoryPG implements domain.PackRepository.
type PackRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPackRepository creates a pack catalog backed by PostgreSQL.
func NewPackRepository(pool *pgxpool.Pool) *PackRepositoryPG {
	return &PackRepositoryPG{pool: pool}
}

// List returns the pack catalog.
func (r *PackRepositoryPG) List(ctx context.Context) ([]domain.Pack, error) {
	query := `
SELECT id, name, description, created_at
FROM packs
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var packs []domain.Pack
	for rows.Next() {
		var p domain.Pack
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

// ListPrompts returns the prompts belonging to a pack.
func (r *PackRepositoryPG) ListPrompts(ctx context.Context, packID string) ([]domain.PackPrompt, error) {
	query := `
SELECT id, pack_id, prompt
FROM pack_prompts
WHERE pack_id = $1;
`
	rows, err := r.pool.Query(ctx, query, packID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var prompts []domain.PackPrompt
	for rows.Next() {
		var p domain.PackPrompt
		if err := rows.Scan(&p.ID, &p.PackID, &p.Prompt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}
