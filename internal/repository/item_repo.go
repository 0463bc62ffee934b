package repository

import (
	"context"

	"github.com/user/listing-crawler/internal/entity"
)

// ItemRepository stores item stubs and their scraped fields.
type ItemRepository interface {
	// UpsertItemStub records the external id as pending if unseen and returns
	// its reference. It is idempotent on externalID.
	UpsertItemStub(ctx context.Context, externalID string) (int64, error)
	// UpdateItemFields merges fields into the item and marks it scraped. If
	// itemRef does not exist the item is created from externalID.
	UpdateItemFields(ctx context.Context, itemRef int64, externalID string, fields map[string]any) error
	// FindByExternalID returns ErrNotFound if the item is unknown.
	FindByExternalID(ctx context.Context, externalID string) (*entity.ItemStub, error)
}
