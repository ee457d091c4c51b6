package domain

import "time"

type Template struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      DocumentKind `json:"kind"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
