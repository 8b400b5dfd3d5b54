package rbac

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/roles"
)

// AuditAction enumerates role audit log actions.
type AuditAction string

const (
	AuditAssigned AuditAction = "assigned"
	AuditRemoved  AuditAction = "removed"
)

// Assignment ties a role to a user, optionally scoped to a site.
type Assignment struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Role      roles.Role `json:"role"`
	SiteID    *uuid.UUID `json:"site_id,omitempty"`
	GrantedBy uuid.UUID  `json:"granted_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// AuditEntry is an append-only record of a role mutation.
type AuditEntry struct {
	ID           int64       `json:"id"`
	TargetUserID uuid.UUID   `json:"target_user_id"`
	Action       AuditAction `json:"action"`
	Role         roles.Role  `json:"role"`
	SiteID       *uuid.UUID  `json:"site_id,omitempty"`
	ActorID      uuid.UUID   `json:"actor_id"`
	CreatedAt    time.Time   `json:"created_at"`
}

// AssignInput describes a role grant. SiteID is nil for uber_admin.
type AssignInput struct {
	TargetUserID uuid.UUID  `json:"user_id" validate:"required"`
	Role         string     `json:"role" validate:"required"`
	SiteID       *uuid.UUID `json:"-"`
}

// RevokeInput describes a role removal.
type RevokeInput struct {
	TargetUserID uuid.UUID
	Role         string
	SiteID       *uuid.UUID
}

// Audit trail limits.
const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 200
)
