package repository

import (
	"context"

	"github.com/user/listing-crawler/internal/entity"
)

// LineageRepository tracks the state of each combo's crawl lineage.
type LineageRepository interface {
	Save(ctx context.Context, status entity.LineageStatus) error
	// Get returns ErrNotFound for unknown combos.
	Get(ctx context.Context, comboKey string) (entity.LineageStatus, error)
	List(ctx context.Context) ([]entity.LineageStatus, error)
}
