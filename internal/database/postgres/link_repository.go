package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/porkli/link-rotator/internal/database"
	"github.com/porkli/link-rotator/internal/models"
)

type linkRecord struct {
	ID             int64      `db:"id"`
	OwnerID        *int64     `db:"owner_id"`
	ShortCode      string     `db:"short_code"`
	Destinations   []byte     `db:"destinations"`
	RotationPolicy string     `db:"rotation_policy"`
	Cursor         int        `db:"cursor"`
	PasswordHash   *string    `db:"password_hash"`
	ExpiresAt      *time.Time `db:"expires_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

func (r *linkRecord) ToLink() (*models.Link, error) {
	var dests []string
	if err := json.Unmarshal(r.Destinations, &dests); err != nil {
		return nil, fmt.Errorf("failed to decode destinations: %w", err)
	}

	return &models.Link{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		ShortCode:      r.ShortCode,
		Destinations:   dests,
		RotationPolicy: models.RotationPolicy(r.RotationPolicy),
		Cursor:         r.Cursor,
		PasswordHash:   r.PasswordHash,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}, nil
}

// notExpired filters out links past their expiry at read time. Expired
// rows stay invisible even before the reaper physically removes them.
const notExpired = "(expires_at IS NULL OR expires_at > now())"

// LinkRepository persists links in PostgreSQL. It is the single
// writer-of-record for destinations, password hashes and rotation cursors.
type LinkRepository struct {
	db *sqlx.DB
}

func NewLinkRepository(db *sqlx.DB) *LinkRepository {
	return &LinkRepository{
		db: db,
	}
}

// Create inserts a new link. Code uniqueness is enforced by the unique
// index, so concurrent creations of the same code cannot both succeed.
func (r *LinkRepository) Create(ctx context.Context, params database.CreateLinkParams) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.Create"

	dests, err := json.Marshal(params.Destinations)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode destinations: %w", op, err)
	}

	rec := new(linkRecord)
	query := `INSERT INTO links(owner_id, short_code, destinations, rotation_policy, password_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`

	err = r.db.GetContext(ctx, rec, query,
		params.OwnerID, params.ShortCode, dests, string(params.RotationPolicy),
		params.PasswordHash, params.ExpiresAt)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrCodeTaken)
		}

		return nil, fmt.Errorf("%s: failed to create link record: %w", op, err)
	}

	return rec.ToLink()
}

// GetByCode retrieves an unexpired link by its short code.
func (r *LinkRepository) GetByCode(ctx context.Context, shortCode string) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.GetByCode"

	rec := new(linkRecord)
	query := `SELECT * FROM links WHERE short_code = $1 AND ` + notExpired

	err := r.db.GetContext(ctx, rec, query, shortCode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get link record: %w", op, err)
	}

	return rec.ToLink()
}

// ReplaceDestinations swaps the destination set and rotation policy of a
// link, resetting the cursor to 0 in the same statement.
func (r *LinkRepository) ReplaceDestinations(ctx context.Context, id int64, destinations []string, policy models.RotationPolicy) (*models.Link, error) {
	const op = "database.postgres.LinkRepository.ReplaceDestinations"

	dests, err := json.Marshal(destinations)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to encode destinations: %w", op, err)
	}

	rec := new(linkRecord)
	query := `UPDATE links
		SET destinations = $1, rotation_policy = $2, cursor = 0, updated_at = now()
		WHERE id = $3
		RETURNING *`

	err = r.db.GetContext(ctx, rec, query, dests, string(policy), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
		}

		return nil, fmt.Errorf("%s: failed to replace destinations: %w", op, err)
	}

	return rec.ToLink()
}

// SetPassword stores a new password hash for the link, or removes the
// gate entirely when hash is nil.
func (r *LinkRepository) SetPassword(ctx context.Context, id int64, hash *string) error {
	const op = "database.postgres.LinkRepository.SetPassword"

	query := `UPDATE links SET password_hash = $1, updated_at = now() WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("%s: failed to set password: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return nil
}

// AdvanceCursor moves the round-robin cursor from one position to the
// next as a compare-and-swap: the write succeeds only if the stored
// cursor still equals from. A lost race returns ErrCursorConflict so
// the caller can re-read and recompute.
func (r *LinkRepository) AdvanceCursor(ctx context.Context, id int64, from, to int) error {
	const op = "database.postgres.LinkRepository.AdvanceCursor"

	query := `UPDATE links SET cursor = $1, updated_at = now() WHERE id = $2 AND cursor = $3`

	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("%s: failed to advance cursor: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrCursorConflict)
	}

	return nil
}

// Delete removes a link. Click events are removed by the cascading
// foreign key.
func (r *LinkRepository) Delete(ctx context.Context, id int64) error {
	const op = "database.postgres.LinkRepository.Delete"

	res, err := r.db.ExecContext(ctx, `DELETE FROM links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: failed to delete link: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrLinkNotFound)
	}

	return nil
}

// ListActive returns the short code and last-modified time of every
// unexpired link, newest first, for sitemap generation.
func (r *LinkRepository) ListActive(ctx context.Context) ([]database.ActiveLink, error) {
	const op = "database.postgres.LinkRepository.ListActive"

	var links []database.ActiveLink
	query := `SELECT short_code, updated_at FROM links WHERE ` + notExpired + ` ORDER BY created_at DESC`

	if err := r.db.SelectContext(ctx, &links, query); err != nil {
		return nil, fmt.Errorf("%s: failed to list active links: %w", op, err)
	}

	return links, nil
}

// ListByOwner returns a page of an owner's links, newest first,
// optionally filtered by a substring of the code or destinations.
func (r *LinkRepository) ListByOwner(ctx context.Context, ownerID int64, search string, limit, offset int) ([]*models.Link, error) {
	const op = "database.postgres.LinkRepository.ListByOwner"

	var recs []linkRecord
	query := `SELECT * FROM links
		WHERE owner_id = $1 AND ($2 = '' OR short_code ILIKE '%' || $2 || '%' OR destinations::text ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	if err := r.db.SelectContext(ctx, &recs, query, ownerID, search, limit, offset); err != nil {
		return nil, fmt.Errorf("%s: failed to list links: %w", op, err)
	}

	links := make([]*models.Link, 0, len(recs))
	for i := range recs {
		link, err := recs[i].ToLink()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		links = append(links, link)
	}

	return links, nil
}

// CountByOwner returns the total number of links owned by an account.
func (r *LinkRepository) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	const op = "database.postgres.LinkRepository.CountByOwner"

	var count int64
	query := `SELECT COUNT(*) FROM links WHERE owner_id = $1`

	if err := r.db.GetContext(ctx, &count, query, ownerID); err != nil {
		return 0, fmt.Errorf("%s: failed to count links: %w", op, err)
	}

	return count, nil
}

// DeleteExpired physically removes links past their expiry and returns
// the number of rows deleted. Repeated sweeps with nothing expired
// return 0.
func (r *LinkRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const op = "database.postgres.LinkRepository.DeleteExpired"

	res, err := r.db.ExecContext(ctx, `DELETE FROM links WHERE expires_at IS NOT NULL AND expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to delete expired links: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows, nil
}
