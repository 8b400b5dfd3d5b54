// Package sites manages the agent site registry and the single master site.
package sites

import (
	"time"

	"github.com/google/uuid"
)

// Status enumerates site availability.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Site is a branded agent micro-site.
type Site struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsMaster  bool      `json:"is_master"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateInput describes a new site.
type CreateInput struct {
	Name string `json:"name" validate:"required,max=120"`
	Slug string `json:"slug" validate:"required,max=64"`
}
