package entity

import "time"

// LineageState is the terminal or current state of a combo's crawl.
type LineageState string

const (
	LineagePending   LineageState = "pending"
	LineageRunning   LineageState = "running"
	LineageCompleted LineageState = "completed"
	LineageAborted   LineageState = "aborted"
)

// LineageStatus reports the progress of one combo's crawl lineage.
type LineageStatus struct {
	ComboKey        string       `json:"combo_key"`
	State           LineageState `json:"state"`
	CurrentPage     int          `json:"current_page"`
	MaxPages        int          `json:"max_pages"`
	ItemsDiscovered int          `json:"items_discovered"`
	PageItems       map[int]int  `json:"page_items,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// RecordPage stores the items captured on a page and recomputes
// ItemsDiscovered. A page that is crawled again replaces its earlier count.
func (s *LineageStatus) RecordPage(page, items int) {
	if s.PageItems == nil {
		s.PageItems = make(map[int]int)
	}
	s.PageItems[page] = items
	total := 0
	for _, n := range s.PageItems {
		total += n
	}
	s.ItemsDiscovered = total
}

// Active reports whether the lineage still has a page queued or in flight.
func (s LineageStatus) Active() bool {
	return s.State == LineagePending || s.State == LineageRunning
}
