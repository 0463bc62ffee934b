package response

import (
	"time"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/usecase"
)

type RunResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Combos   int      `json:"combos"`
	Enqueued int      `json:"enqueued"`
	Keys     []string `json:"keys"`
	Skipped  []string `json:"skipped,omitempty"`
}

func NewRunResponse(s usecase.RunSummary) RunResponse {
	return RunResponse{
		Status:   "success",
		Message:  "crawl run seeded",
		Combos:   s.Combos,
		Enqueued: s.Enqueued,
		Keys:     s.Keys,
		Skipped:  s.Skipped,
	}
}

type StopResponse struct {
	Status  string           `json:"status"`
	Drained map[string]int64 `json:"drained,omitempty"`
}

// ItemResponse is a DTO for an item stub.
type ItemResponse struct {
	ExternalID string         `json:"external_id"`
	Status     string         `json:"status"` // "pending" or "scraped"
	Fields     map[string]any `json:"fields,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func NewItemResponse(stub *entity.ItemStub) ItemResponse {
	return ItemResponse{
		ExternalID: stub.ExternalID,
		Status:     string(stub.Status),
		Fields:     stub.Fields,
		CreatedAt:  stub.CreatedAt,
		UpdatedAt:  stub.UpdatedAt,
	}
}

type HealthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}
