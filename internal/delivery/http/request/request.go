package request

// StopRequest is the optional body of POST /api/stop.
type StopRequest struct {
	Drain bool `json:"drain"`
}
