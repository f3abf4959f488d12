package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"estate-harvester/models"
)

const listingColumns = `id, source_id, external_id, url, title, description,
	location_text, district, municipality, region, property_type, offer_type,
	price, currency, floor_area, land_area, rooms, condition, construction,
	first_seen_at, last_seen_at, is_active`

// photoBatchSize keeps a multi-row photo insert well under the bind
// parameter limit.
const photoBatchSize = 100

// UpsertListing implements ListingStore. The row and its photo set are
// written in one transaction; re-observation reactivates a deactivated row.
func (p *Postgres) UpsertListing(ctx context.Context, l *models.NormalizedListing, now time.Time) (inserted bool, err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO listings (
			source_id, external_id, url, title, description,
			location_text, district, municipality, region,
			property_type, offer_type, price, currency,
			floor_area, land_area, rooms, condition, construction,
			first_seen_at, last_seen_at, is_active
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19,TRUE)
		ON CONFLICT (source_id, external_id) DO UPDATE SET
			url           = EXCLUDED.url,
			title         = EXCLUDED.title,
			description   = EXCLUDED.description,
			location_text = EXCLUDED.location_text,
			district      = EXCLUDED.district,
			municipality  = EXCLUDED.municipality,
			region        = EXCLUDED.region,
			property_type = EXCLUDED.property_type,
			offer_type    = EXCLUDED.offer_type,
			price         = EXCLUDED.price,
			currency      = EXCLUDED.currency,
			floor_area    = EXCLUDED.floor_area,
			land_area     = EXCLUDED.land_area,
			rooms         = EXCLUDED.rooms,
			condition     = EXCLUDED.condition,
			construction  = EXCLUDED.construction,
			last_seen_at  = GREATEST(listings.last_seen_at, EXCLUDED.last_seen_at),
			is_active     = TRUE
		RETURNING id, first_seen_at, last_seen_at, (xmax = 0) AS inserted
	`,
		l.SourceID, l.ExternalID, l.URL, l.Title, l.Description,
		l.LocationText, l.District, l.Municipality, l.Region,
		l.PropertyType, l.OfferType, l.Price, l.Currency,
		l.FloorArea, l.LandArea, l.Rooms, l.Condition, l.Construction,
		now,
	).Scan(&l.ID, &l.FirstSeenAt, &l.LastSeenAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("postgres: upsert listing %d/%s: %w", l.SourceID, l.ExternalID, err)
	}
	l.IsActive = true

	if _, err = tx.ExecContext(ctx, `DELETE FROM listing_photos WHERE listing_id = $1`, l.ID); err != nil {
		return false, fmt.Errorf("postgres: clear photos: %w", err)
	}
	for i := 0; i < len(l.Photos); i += photoBatchSize {
		end := min(i+photoBatchSize, len(l.Photos))
		if err = insertPhotoBatch(ctx, tx, l.ID, i, l.Photos[i:end]); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("postgres: commit: %w", err)
	}
	return inserted, nil
}

func insertPhotoBatch(ctx context.Context, tx *sqlx.Tx, listingID int64, offset int, batch []string) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]any, 0, len(batch)*3)

	for idx, url := range batch {
		base := idx * 3
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d)", base+1, base+2, base+3))
		valueArgs = append(valueArgs, listingID, offset+idx, url)
	}

	query := fmt.Sprintf(`INSERT INTO listing_photos (listing_id, position, url) VALUES %s`,
		strings.Join(valueStrings, ","))

	if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
		return fmt.Errorf("postgres: insert photos: %w", err)
	}
	return nil
}

// DeactivateUnseen implements ListingStore.
func (p *Postgres) DeactivateUnseen(ctx context.Context, sourceID int64, seen []string) (int, error) {
	if seen == nil {
		seen = []string{}
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE listings
		SET is_active = FALSE
		WHERE source_id = $1
		  AND is_active
		  AND NOT (external_id = ANY($2))
	`, sourceID, pq.Array(seen))
	if err != nil {
		return 0, fmt.Errorf("postgres: deactivate unseen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(n), nil
}

// GetListing returns one listing with its photos.
func (p *Postgres) GetListing(ctx context.Context, key models.ListingKey) (*models.NormalizedListing, error) {
	var l models.NormalizedListing
	err := p.db.GetContext(ctx, &l,
		`SELECT `+listingColumns+` FROM listings WHERE source_id = $1 AND external_id = $2`,
		key.SourceID, key.ExternalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get listing: %w", err)
	}

	if err := p.db.SelectContext(ctx, &l.Photos,
		`SELECT url FROM listing_photos WHERE listing_id = $1 ORDER BY position`, l.ID); err != nil {
		return nil, fmt.Errorf("postgres: get photos: %w", err)
	}
	return &l, nil
}

// ListListings retrieves all stored listings; used by the insight report.
func (p *Postgres) ListListings(ctx context.Context) ([]*models.NormalizedListing, error) {
	var listings []*models.NormalizedListing
	err := p.db.SelectContext(ctx, &listings, `SELECT `+listingColumns+` FROM listings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	return listings, nil
}
