// Package detection runs the automated flag rules over the entity store and
// ingests their candidates as pending flags.
package detection

import (
	"context"
	"errors"
	"time"

	"github.com/ashita-ai/shinrai/internal/model"
)

// ErrUnknownDetector is returned when a run names a category with no detector.
var ErrUnknownDetector = errors.New("detection: unknown detector")

// Source is the read side of the entity store used by detectors.
type Source interface {
	// ListPersonProjectLinks returns every person-project link joined with its
	// project and fund, ordered by person.
	ListPersonProjectLinks(ctx context.Context) ([]model.PersonProjectLink, error)
	// ListStaleProjects returns funded projects in one of statuses whose
	// updated_at is strictly before updatedBefore.
	ListStaleProjects(ctx context.Context, statuses []model.ProjectStatus, updatedBefore time.Time) ([]model.StaleProject, error)
	// ListOverdueMilestones returns pending or in-progress milestones due
	// strictly before dueBefore on funded projects that are neither completed
	// nor cancelled.
	ListOverdueMilestones(ctx context.Context, dueBefore time.Time) ([]model.OverdueMilestone, error)
	// ListProposals returns the text of every project in a stable order.
	ListProposals(ctx context.Context) ([]model.Proposal, error)
}

// Sink is the write side used by ingestion.
type Sink interface {
	// InsertAutomatedFlag creates a pending automated flag unless an open
	// (pending or confirmed) automated flag already exists for the same
	// project and category. It reports whether a row was created.
	InsertAutomatedFlag(ctx context.Context, r model.DetectionResult) (bool, error)
	// NotifyAdmins writes one notification to every administrative user and
	// returns how many were written.
	NotifyAdmins(ctx context.Context, notificationType, title, message string) (int, error)
}

// Store is everything the detection service needs.
type Store interface {
	Source
	Sink
}

// Detector is a stateless rule that turns store state into flag candidates.
type Detector interface {
	Category() model.FlagCategory
	Detect(ctx context.Context) ([]model.DetectionResult, error)
}

// Defaults returns one detector per automated category, in run order.
func Defaults(src Source, now func() time.Time) []Detector {
	return []Detector{
		&RepeatDelays{src: src},
		&GhostProjects{src: src, now: now},
		&OverdueMilestones{src: src, now: now},
		&FundingClusters{src: src},
		&SimilarProposals{src: src},
	}
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from) / (24 * time.Hour))
}
