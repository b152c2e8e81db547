// Package memstore is an in-memory entity store. It satisfies the same
// contracts as the PostgreSQL store and backs unit tests and dry runs.
package memstore

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

type user struct {
	id   uuid.UUID
	role model.UserRole
}

// Store holds every entity in process memory. All methods are safe for
// concurrent use.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	funds       map[uuid.UUID]model.Fund
	people      []model.Person
	orgs        []model.Organization
	orgMembers  map[uuid.UUID][]uuid.UUID
	orgProjects map[uuid.UUID][]uuid.UUID
	projects    []model.Project
	links       []model.ProjectPerson
	milestones  []model.Milestone
	reports     map[uuid.UUID]int
	reviews     map[uuid.UUID][]int
	concerns    []model.Concern
	users       []user

	notifications []model.Notification
	flags         []model.Flag
	scores        map[uuid.UUID]model.AccountabilityScore
	orgScores     map[uuid.UUID]model.OrganizationScore
	audits        []model.ScoreAudit
	scoreNotes    []model.ScoreNotification
	disputes      []model.ScoreDispute

	failures map[string]error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		now:         time.Now,
		funds:       make(map[uuid.UUID]model.Fund),
		orgMembers:  make(map[uuid.UUID][]uuid.UUID),
		orgProjects: make(map[uuid.UUID][]uuid.UUID),
		reports:     make(map[uuid.UUID]int),
		reviews:     make(map[uuid.UUID][]int),
		scores:      make(map[uuid.UUID]model.AccountabilityScore),
		orgScores:   make(map[uuid.UUID]model.OrganizationScore),
		failures:    make(map[string]error),
	}
}

// SetClock overrides the clock used to stamp rows the store creates itself.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

func (s *Store) failure(method string) error {
	return s.failures[method]
}

// --- seeding -----------------------------------------------------------------

func (s *Store) AddFund(f model.Fund) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funds[f.ID] = f
}

func (s *Store) AddPerson(p model.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.people = append(s.people, p)
}

// AddOrganization stores o with the given members.
func (s *Store) AddOrganization(o model.Organization, members ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = append(s.orgs, o)
	s.orgMembers[o.ID] = append(s.orgMembers[o.ID], members...)
}

// LinkOrganizationProject associates a project with an organization.
func (s *Store) LinkOrganizationProject(orgID, projectID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgProjects[orgID] = append(s.orgProjects[orgID], projectID)
}

func (s *Store) AddProject(p model.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = append(s.projects, p)
}

// LinkPerson adds a person to a project team.
func (s *Store) LinkPerson(l model.ProjectPerson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, l)
}

func (s *Store) AddMilestone(m model.Milestone) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.milestones = append(s.milestones, m)
}

// AddReports records n submitted monthly reports for a project.
func (s *Store) AddReports(projectID uuid.UUID, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[projectID] += n
}

func (s *Store) AddReview(projectID uuid.UUID, rating int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[projectID] = append(s.reviews[projectID], rating)
}

func (s *Store) AddConcern(c model.Concern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concerns = append(s.concerns, c)
}

func (s *Store) AddUser(id uuid.UUID, role model.UserRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, user{id: id, role: role})
}

// AddFlag stores a flag as given.
func (s *Store) AddFlag(f model.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = append(s.flags, f)
}

// PutPersonScore stores a person score as given.
func (s *Store) PutPersonScore(sc model.AccountabilityScore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	s.scores[sc.PersonID] = sc
}

// --- inspection ----------------------------------------------------------------

// Flags returns a copy of every stored flag.
func (s *Store) Flags() []model.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.flags)
}

// Notifications returns a copy of every user notification.
func (s *Store) Notifications() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.notifications)
}

// Audits returns a copy of every score audit record.
func (s *Store) Audits() []model.ScoreAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audits)
}

// ScoreNotifications returns a copy of every score notification.
func (s *Store) ScoreNotifications() []model.ScoreNotification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.scoreNotes)
}

// --- lookups -------------------------------------------------------------------

func (s *Store) project(id uuid.UUID) (model.Project, bool) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, true
		}
	}
	return model.Project{}, false
}

func (s *Store) person(id uuid.UUID) (model.Person, bool) {
	for _, p := range s.people {
		if p.ID == id {
			return p, true
		}
	}
	return model.Person{}, false
}

func (s *Store) personProjects(personID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	for _, l := range s.links {
		if l.PersonID == personID && !slices.Contains(ids, l.ProjectID) {
			ids = append(ids, l.ProjectID)
		}
	}
	return ids
}

func (s *Store) scoreByID(id uuid.UUID) (model.AccountabilityScore, bool) {
	for _, sc := range s.scores {
		if sc.ID == id {
			return sc, true
		}
	}
	return model.AccountabilityScore{}, false
}

func severityRank(sev model.FlagSeverity) int {
	switch sev {
	case model.SeverityCritical:
		return 4
	case model.SeverityHigh:
		return 3
	case model.SeverityMedium:
		return 2
	case model.SeverityLow:
		return 1
	}
	return 0
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}

func byOverall(a, b model.LeaderboardEntry) int {
	if c := cmp.Compare(b.OverallScore, a.OverallScore); c != 0 {
		return c
	}
	return cmp.Compare(a.PersonName, b.PersonName)
}
