package entity

import "maps"

// PaginationContext carries the query parameters a site expects to be echoed
// between pages of one lineage, plus the continuity token.
type PaginationContext struct {
	Params map[string]string `json:"params,omitempty"`
	Token  string            `json:"token,omitempty"`
}

// Clone returns a deep copy so a job snapshot never aliases the lineage state.
func (p PaginationContext) Clone() PaginationContext {
	return PaginationContext{Params: maps.Clone(p.Params), Token: p.Token}
}
