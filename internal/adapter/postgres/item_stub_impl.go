package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
)

// ItemStubRepoImpl implements ItemRepository on the item_stubs table.
type ItemStubRepoImpl struct {
	db *pgxpool.Pool
}

// NewItemStubRepo creates a new instance of ItemStubRepoImpl.
func NewItemStubRepo(db *pgxpool.Pool) *ItemStubRepoImpl {
	return &ItemStubRepoImpl{db: db}
}

// UpsertItemStub inserts a pending stub or returns the existing one's id.
// An already scraped item keeps its status.
func (r *ItemStubRepoImpl) UpsertItemStub(ctx context.Context, externalID string) (int64, error) {
	query := `
		INSERT INTO item_stubs (external_id, status)
		VALUES ($1, 'pending')
		ON CONFLICT (external_id) DO UPDATE SET
			updated_at = NOW()
		RETURNING id;
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, externalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert item stub %s: %w", externalID, err)
	}
	return id, nil
}

// UpdateItemFields merges fields into the stored JSONB and marks the item
// scraped. An unknown itemRef falls back to an upsert on externalID.
func (r *ItemStubRepoImpl) UpdateItemFields(ctx context.Context, itemRef int64, externalID string, fields map[string]any) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE item_stubs SET
			fields = item_stubs.fields || $2::jsonb,
			status = 'scraped',
			updated_at = NOW()
		WHERE id = $1;
	`, itemRef, fieldsJSON)
	if err != nil {
		return fmt.Errorf("update item %d: %w", itemRef, err)
	}

	if tag.RowsAffected() == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO item_stubs (external_id, status, fields)
			VALUES ($1, 'scraped', $2::jsonb)
			ON CONFLICT (external_id) DO UPDATE SET
				fields = item_stubs.fields || EXCLUDED.fields,
				status = 'scraped',
				updated_at = NOW();
		`, externalID, fieldsJSON)
		if err != nil {
			return fmt.Errorf("create item %s: %w", externalID, err)
		}
	}
	return tx.Commit(ctx)
}

// FindByExternalID retrieves one item stub.
func (r *ItemStubRepoImpl) FindByExternalID(ctx context.Context, externalID string) (*entity.ItemStub, error) {
	query := `
		SELECT id, external_id, status, fields, created_at, updated_at
		FROM item_stubs
		WHERE external_id = $1;
	`
	var stub entity.ItemStub
	var fieldsJSON []byte
	err := r.db.QueryRow(ctx, query, externalID).Scan(
		&stub.ID,
		&stub.ExternalID,
		&stub.Status,
		&fieldsJSON,
		&stub.CreatedAt,
		&stub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &stub.Fields); err != nil {
		return nil, err
	}
	return &stub, nil
}
