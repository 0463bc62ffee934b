package entity

import "time"

// ItemStatus tracks enrichment of an item.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemScraped ItemStatus = "scraped"
)

// ItemStub mirrors the `item_stubs` PostgreSQL table.
type ItemStub struct {
	ID         int64
	ExternalID string
	Status     ItemStatus
	Fields     map[string]any // Stored as JSONB in PostgreSQL
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
