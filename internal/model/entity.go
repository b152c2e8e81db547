package model

import (
	"time"

	"github.com/google/uuid"
)

// FundingStatus is a project's position in the funding pipeline.
type FundingStatus string

const (
	FundingFunded      FundingStatus = "funded"
	FundingNotFunded   FundingStatus = "not_funded"
	FundingUnderReview FundingStatus = "under_review"
)

// ProjectStatus is a project's delivery status.
type ProjectStatus string

const (
	ProjectPending    ProjectStatus = "pending"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectDelayed    ProjectStatus = "delayed"
	ProjectAtRisk     ProjectStatus = "at_risk"
	ProjectCompleted  ProjectStatus = "completed"
	ProjectCancelled  ProjectStatus = "cancelled"
)

// MilestoneStatus is the delivery state of a single milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

// PoAApproved is the proof-of-achievement state counted as a first-pass approval.
const PoAApproved = "approved"

// UserRole is the role of an application user that receives notifications.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

// Fund is a funding round.
type Fund struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Number int       `json:"number"`
}

// Person is a proposer identity.
type Person struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Organization groups people and the projects delivered under its name.
type Organization struct {
	ID                      uuid.UUID `json:"id"`
	Name                    string    `json:"name"`
	CompletedProposalsCount int       `json:"completed_proposals_count"`
}

// Project is a funded or proposed piece of work.
type Project struct {
	ID            uuid.UUID     `json:"id"`
	FundID        uuid.UUID     `json:"fund_id"`
	Category      string        `json:"category"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Problem       string        `json:"problem"`
	Solution      string        `json:"solution"`
	FundingStatus FundingStatus `json:"funding_status"`
	Status        ProjectStatus `json:"status"`
	FundingAmount float64       `json:"funding_amount"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProjectPerson links a person to a project.
type ProjectPerson struct {
	ProjectID uuid.UUID `json:"project_id"`
	PersonID  uuid.UUID `json:"person_id"`
	Role      string    `json:"role"`
	IsPrimary bool      `json:"is_primary"`
}

// Milestone belongs to one project.
type Milestone struct {
	ID            uuid.UUID       `json:"id"`
	ProjectID     uuid.UUID       `json:"project_id"`
	Title         string          `json:"title"`
	Status        MilestoneStatus `json:"status"`
	DueDate       *time.Time      `json:"due_date,omitempty"`
	PoAStatus     string          `json:"poa_status,omitempty"`
	PoAApprovedAt *time.Time      `json:"poa_approved_at,omitempty"`
}

// Concern is a community-raised issue against a project.
type Concern struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Responses int       `json:"responses"`
}

// Notification is an in-app message to an application user.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification types written to application users.
const (
	NotificationFlagAlert    = "flag_alert"
	NotificationFlagResponse = "flag_response"
)
