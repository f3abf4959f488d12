package storage

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"estate-harvester/models"
)

const sourceColumns = `id, code, name, base_url, kind, fetch_mode, options, is_active, created_at`

// UpsertSource inserts or updates a source by code and fills s.ID and
// s.CreatedAt.
func (p *Postgres) UpsertSource(ctx context.Context, s *models.Source) error {
	if s.FetchMode == "" {
		s.FetchMode = models.FetchModeHTTP
	}
	err := p.db.QueryRowxContext(ctx, `
		INSERT INTO sources (code, name, base_url, kind, fetch_mode, options, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (code) DO UPDATE SET
			name       = EXCLUDED.name,
			base_url   = EXCLUDED.base_url,
			kind       = EXCLUDED.kind,
			fetch_mode = EXCLUDED.fetch_mode,
			options    = EXCLUDED.options,
			is_active  = EXCLUDED.is_active
		RETURNING id, created_at
	`, s.Code, s.Name, s.BaseURL, s.Kind, s.FetchMode, s.Options, s.Active).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert source %s: %w", s.Code, err)
	}
	return nil
}

// ListSources returns every source ordered by code.
func (p *Postgres) ListSources(ctx context.Context) ([]models.Source, error) {
	var sources []models.Source
	err := p.db.SelectContext(ctx, &sources, `SELECT `+sourceColumns+` FROM sources ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	return sources, nil
}

// GetSourcesByCodes returns the sources whose code is in codes. Unknown
// codes are simply absent from the result.
func (p *Postgres) GetSourcesByCodes(ctx context.Context, codes []string) ([]models.Source, error) {
	var sources []models.Source
	err := p.db.SelectContext(ctx, &sources,
		`SELECT `+sourceColumns+` FROM sources WHERE code = ANY($1) ORDER BY code`,
		pq.Array(codes))
	if err != nil {
		return nil, fmt.Errorf("postgres: get sources: %w", err)
	}
	return sources, nil
}
