// internal/control/types.go
package control

// StateRequest is the body of PUT /state.
type StateRequest struct {
	Enabled *bool `json:"enabled"`
}

// StateResponse describes the stored preference.
type StateResponse struct {
	Enabled  bool   `json:"enabled"`
	Sequence uint64 `json:"sequence"`
}

// Response is the envelope of every control endpoint reply.
type Response struct {
	Status string         `json:"status"` // "success" or "error"
	Data   *StateResponse `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}
