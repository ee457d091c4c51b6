package domain

import "time"

// Diagram is a derived artifact (mindmap export, embedded chart)
// generated from a source document. Diagrams never sync on their own;
// they are regenerated from the document and removed with it.
type Diagram struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
