package model

import (
	"time"

	"github.com/google/uuid"
)

// PersonProjectLink is one person-project membership joined with the
// project and fund columns the detectors group on.
type PersonProjectLink struct {
	PersonID      uuid.UUID
	PersonName    string
	ProjectID     uuid.UUID
	ProjectTitle  string
	FundID        uuid.UUID
	FundName      string
	FundNumber    int
	FundingStatus FundingStatus
	Status        ProjectStatus
	FundingAmount float64
}

// StaleProject is a project that has not been touched for a while.
type StaleProject struct {
	ProjectID     uuid.UUID
	Title         string
	FundName      string
	FundingAmount float64
	UpdatedAt     time.Time
}

// OverdueMilestone is an unfinished milestone past its due date.
type OverdueMilestone struct {
	MilestoneID    uuid.UUID
	MilestoneTitle string
	DueDate        time.Time
	ProjectID      uuid.UUID
	ProjectTitle   string
	FundName       string
}

// Proposal is the text of a project as compared for duplicate scope.
type Proposal struct {
	ProjectID   uuid.UUID
	FundID      uuid.UUID
	Category    string
	Title       string
	Description string
	Problem     string
	Solution    string
}

// ProjectOutcome is the funding and delivery state of one of a person's projects.
type ProjectOutcome struct {
	ProjectID     uuid.UUID
	FundingStatus FundingStatus
	Status        ProjectStatus
}

// MilestoneOutcome is the delivery record of one milestone.
type MilestoneOutcome struct {
	Status        MilestoneStatus
	DueDate       *time.Time
	PoAStatus     string
	PoAApprovedAt *time.Time
}

// PersonActivity is everything the person scorer reads for one person,
// gathered across all projects the person is linked to.
type PersonActivity struct {
	PersonID          uuid.UUID
	Projects          []ProjectOutcome
	Milestones        []MilestoneOutcome
	ReportsSubmitted  int
	ReviewRatings     []int
	ConcernsTotal     int
	ConcernsResponded int
	ConfirmedFlags    []FlagSeverity
}

// MemberScore is the stored score of one organization member.
type MemberScore struct {
	PersonID     uuid.UUID
	OverallScore int
	Badge        Badge
}

// OrganizationProfile is everything the organization scorer reads.
type OrganizationProfile struct {
	OrganizationID          uuid.UUID
	CompletedProposalsCount int
	ProjectIDs              []uuid.UUID
	ProjectPeople           []ProjectPerson
	MemberScores            []MemberScore
}
