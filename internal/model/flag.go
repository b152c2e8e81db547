package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlagType distinguishes engine-generated flags from user-authored ones.
type FlagType string

const (
	FlagAutomated FlagType = "automated"
	FlagCommunity FlagType = "community"
)

// FlagCategory names the rule (or community reason) behind a flag.
type FlagCategory string

const (
	CategoryRepeatDelays     FlagCategory = "repeat_delays"
	CategoryGhostProject     FlagCategory = "ghost_project"
	CategoryOverdueMilestone FlagCategory = "overdue_milestone"
	CategoryFundingCluster   FlagCategory = "funding_cluster"
	CategorySimilarProposal  FlagCategory = "similar_proposal"
)

// DetectorCategories lists the automated categories in run order.
var DetectorCategories = []FlagCategory{
	CategoryRepeatDelays,
	CategoryGhostProject,
	CategoryOverdueMilestone,
	CategoryFundingCluster,
	CategorySimilarProposal,
}

// IsDetectorCategory reports whether c is produced by an automated detector.
func IsDetectorCategory(c FlagCategory) bool {
	for _, dc := range DetectorCategories {
		if dc == c {
			return true
		}
	}
	return false
}

// FlagSeverity grades how serious a flag is.
type FlagSeverity string

const (
	SeverityLow      FlagSeverity = "low"
	SeverityMedium   FlagSeverity = "medium"
	SeverityHigh     FlagSeverity = "high"
	SeverityCritical FlagSeverity = "critical"
)

// FlagStatus is the review state of a flag.
type FlagStatus string

const (
	FlagPending   FlagStatus = "pending"
	FlagConfirmed FlagStatus = "confirmed"
	FlagDismissed FlagStatus = "dismissed"
	FlagResolved  FlagStatus = "resolved"
)

// FlagStatuses lists every status in display order.
var FlagStatuses = []FlagStatus{FlagPending, FlagConfirmed, FlagDismissed, FlagResolved}

// ValidateFlagTransition checks a review move: pending flags are confirmed or
// dismissed, and either outcome may later be resolved.
func ValidateFlagTransition(from, to FlagStatus) error {
	switch {
	case from == FlagPending && (to == FlagConfirmed || to == FlagDismissed):
		return nil
	case (from == FlagConfirmed || from == FlagDismissed) && to == FlagResolved:
		return nil
	}
	return fmt.Errorf("%w: flag %s -> %s", ErrInvalidTransition, from, to)
}

// Flag is a persisted warning attached to a project.
type Flag struct {
	ID          uuid.UUID      `json:"id"`
	ProjectID   uuid.UUID      `json:"project_id"`
	Type        FlagType       `json:"type"`
	Category    FlagCategory   `json:"category"`
	Severity    FlagSeverity   `json:"severity"`
	Status      FlagStatus     `json:"status"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	ReviewedBy  *uuid.UUID     `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DetectionResult is a candidate flag emitted by a detector.
type DetectionResult struct {
	ProjectID   uuid.UUID      `json:"project_id"`
	Category    FlagCategory   `json:"category"`
	Severity    FlagSeverity   `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// FlagFilter narrows a flag listing. Zero values mean "any".
type FlagFilter struct {
	Status    FlagStatus
	Category  FlagCategory
	Type      FlagType
	ProjectID *uuid.UUID
	Limit     int
	Offset    int
}

// FlagStats counts flags per status.
type FlagStats map[FlagStatus]int

// FlagPage is one page of a flag listing.
type FlagPage struct {
	Flags []Flag    `json:"flags"`
	Total int       `json:"total"`
	Stats FlagStats `json:"stats"`
}
