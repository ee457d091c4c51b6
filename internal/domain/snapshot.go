package domain

import "time"

// DebugSnapshot is a best-effort capture of a replica's compact state
// vector taken right before an unload, kept locally for postmortem
// debugging. It is provenance metadata, not recoverable content.
type DebugSnapshot struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Reason      string    `json:"reason"`
	StateVector []byte    `json:"state_vector"`
	CapturedAt  time.Time `json:"captured_at"`
}
