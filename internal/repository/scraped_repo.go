package repository

import (
	"context"
	"time"
)

// ScrapedRepository deduplicates detail scrapes of recently enriched items.
type ScrapedRepository interface {
	// MarkScraped marks an item as scraped with a specific expiry time.
	MarkScraped(ctx context.Context, externalID string, expiry time.Duration) error
	// IsScraped checks if an item has been scraped recently.
	IsScraped(ctx context.Context, externalID string) (bool, error)
}
