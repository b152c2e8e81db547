package model

import (
	"time"

	"github.com/google/uuid"
)

// Badge is the coarse trust tier derived from a 0-100 score.
type Badge string

const (
	BadgeTrusted    Badge = "TRUSTED"
	BadgeReliable   Badge = "RELIABLE"
	BadgeUnproven   Badge = "UNPROVEN"
	BadgeConcerning Badge = "CONCERNING"
)

// BadgeFor maps a score onto its tier.
func BadgeFor(score int) Badge {
	switch {
	case score >= 80:
		return BadgeTrusted
	case score >= 60:
		return BadgeReliable
	case score >= 40:
		return BadgeUnproven
	default:
		return BadgeConcerning
	}
}

// Confidence reflects how much observed evidence backs a score.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ConfidenceFor maps an observed sample count onto a confidence tier.
func ConfidenceFor(dataPoints int) Confidence {
	switch {
	case dataPoints >= 10:
		return ConfidenceHigh
	case dataPoints >= 3:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ScoreStatus is the display state of a person score.
type ScoreStatus string

const (
	ScorePreview   ScoreStatus = "preview"
	ScorePublished ScoreStatus = "published"
	ScoreDisputed  ScoreStatus = "disputed"
)

// AccountabilityScore is the stored projection of a person's score.
type AccountabilityScore struct {
	ID                 uuid.UUID   `json:"id"`
	PersonID           uuid.UUID   `json:"person_id"`
	OverallScore       int         `json:"overall_score"`
	CompletionScore    int         `json:"completion_score"`
	DeliveryScore      int         `json:"delivery_score"`
	CommunityScore     int         `json:"community_score"`
	EfficiencyScore    int         `json:"efficiency_score"`
	CommunicationScore int         `json:"communication_score"`
	FlagPenalty        int         `json:"flag_penalty"`
	ConfirmedFlags     int         `json:"confirmed_flags"`
	Badge              Badge       `json:"badge"`
	Confidence         Confidence  `json:"confidence"`
	DataPoints         int         `json:"data_points"`
	Status             ScoreStatus `json:"status"`
	PreviewUntil       *time.Time  `json:"preview_until,omitempty"`
	PublishedAt        *time.Time  `json:"published_at,omitempty"`
	CalculatedAt       time.Time   `json:"calculated_at"`
}

// OrganizationScore is the stored projection of an organization's score.
type OrganizationScore struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	OverallScore   int       `json:"overall_score"`
	Badge          Badge     `json:"badge"`
	CalculatedAt   time.Time `json:"calculated_at"`
}

// LeaderboardEntry is one row of the person leaderboard.
type LeaderboardEntry struct {
	PersonID     uuid.UUID   `json:"person_id"`
	PersonName   string      `json:"person_name"`
	OverallScore int         `json:"overall_score"`
	Badge        Badge       `json:"badge"`
	Confidence   Confidence  `json:"confidence"`
	Status       ScoreStatus `json:"status"`
}

// DisputeStatus is the review state of a score dispute.
type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeApproved DisputeStatus = "approved"
	DisputeRejected DisputeStatus = "rejected"
)

// ScoreDispute is a user's challenge against a preview score.
type ScoreDispute struct {
	ID          uuid.UUID     `json:"id"`
	ScoreID     uuid.UUID     `json:"score_id"`
	UserID      uuid.UUID     `json:"user_id"`
	Reason      string        `json:"reason"`
	Evidence    *string       `json:"evidence,omitempty"`
	Status      DisputeStatus `json:"status"`
	ReviewedBy  *uuid.UUID    `json:"reviewed_by,omitempty"`
	ReviewNotes *string       `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time    `json:"reviewed_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Audit actions recorded against a person score.
const (
	AuditScoreCalculated  = "score_calculated"
	AuditScorePublished   = "score_published"
	AuditDisputeSubmitted = "dispute_submitted"
	AuditDisputeReviewed  = "dispute_reviewed"
)

// Score notification types addressed to the scored person.
const (
	NotificationScorePreview = "score_preview"
	NotificationScoreDispute = "score_dispute"
)

// ScoreAudit is one append-only history record for a person score.
type ScoreAudit struct {
	ID        uuid.UUID      `json:"id"`
	ScoreID   uuid.UUID      `json:"score_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ScoreNotification is a score-lifecycle message addressed to a person.
type ScoreNotification struct {
	ID        uuid.UUID      `json:"id"`
	PersonID  uuid.UUID      `json:"person_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
