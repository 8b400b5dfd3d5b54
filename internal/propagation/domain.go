// Package propagation queues entity changes captured on the master site,
// gates them through review, and fans approved changes out to branch sites.
package propagation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType enumerates the propagatable entities.
type EntityType string

const (
	ContentItem     EntityType = "content_item"
	ContentCategory EntityType = "content_category"
	MissionPillar   EntityType = "mission_pillar"
	AgentBranch     EntityType = "agent_branch"
	UtilitiesConfig EntityType = "utilities_config"
)

// Valid reports whether the entity type has an upsert strategy.
func (t EntityType) Valid() bool {
	switch t {
	case ContentItem, ContentCategory, MissionPillar, AgentBranch, UtilitiesConfig:
		return true
	}
	return false
}

// Status enumerates record lifecycle states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPushed   Status = "pushed"
)

// Valid reports whether the status is known.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusPushed:
		return true
	}
	return false
}

// Snapshot is the full entity payload replayed on branch sites.
type Snapshot map[string]any

// Record is a queued change captured on the master site.
type Record struct {
	ID             uuid.UUID   `json:"id"`
	SourceSiteID   uuid.UUID   `json:"source_site_id"`
	SourceSiteName string      `json:"source_site_name,omitempty"`
	SourceSiteSlug string      `json:"source_site_slug,omitempty"`
	EntityType     EntityType  `json:"entity_type"`
	EntityID       uuid.UUID   `json:"entity_id"`
	EntityData     Snapshot    `json:"entity_data"`
	Status         Status      `json:"status"`
	CreatedBy      uuid.UUID   `json:"created_by"`
	ApprovedBy     *uuid.UUID  `json:"approved_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ApprovedAt     *time.Time  `json:"approved_at,omitempty"`
	PushedAt       *time.Time  `json:"pushed_at,omitempty"`
	TargetSites    []uuid.UUID `json:"target_site_ids,omitempty"`
	FailedSites    []uuid.UUID `json:"failed_site_ids,omitempty"`
	Notes          string      `json:"notes,omitempty"`
}

// EnqueueInput describes a change captured on the master site.
type EnqueueInput struct {
	SiteID     uuid.UUID  `json:"site_id" validate:"required"`
	EntityType EntityType `json:"entity_type" validate:"required"`
	EntityID   uuid.UUID  `json:"entity_id" validate:"required"`
	EntityData Snapshot   `json:"entity_data" validate:"required"`
	Notes      string     `json:"notes" validate:"max=1000"`
}

// ListFilter narrows record listings.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Listing limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// PushResult reports per-site outcomes of a push by site name.
type PushResult struct {
	Success []string `json:"success"`
	Failed  []string `json:"failed"`
	Total   int      `json:"total"`
}

// Summary renders the operator facing outcome line.
func (r PushResult) Summary() string {
	return fmt.Sprintf("Propagated to %d of %d sites", len(r.Success), r.Total)
}
