package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

func (s *Store) ListPersonProjectLinks(_ context.Context) ([]model.PersonProjectLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListPersonProjectLinks"); err != nil {
		return nil, err
	}
	out := make([]model.PersonProjectLink, 0, len(s.links))
	for _, l := range s.links {
		p, ok := s.project(l.ProjectID)
		if !ok {
			continue
		}
		person, _ := s.person(l.PersonID)
		fund := s.funds[p.FundID]
		out = append(out, model.PersonProjectLink{
			PersonID:      l.PersonID,
			PersonName:    person.Name,
			ProjectID:     p.ID,
			ProjectTitle:  p.Title,
			FundID:        p.FundID,
			FundName:      fund.Name,
			FundNumber:    fund.Number,
			FundingStatus: p.FundingStatus,
			Status:        p.Status,
			FundingAmount: p.FundingAmount,
		})
	}
	return out, nil
}

func (s *Store) ListStaleProjects(_ context.Context, statuses []model.ProjectStatus, updatedBefore time.Time) ([]model.StaleProject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListStaleProjects"); err != nil {
		return nil, err
	}
	var out []model.StaleProject
	for _, p := range s.projects {
		if p.FundingStatus != model.FundingFunded || !slices.Contains(statuses, p.Status) || !p.UpdatedAt.Before(updatedBefore) {
			continue
		}
		out = append(out, model.StaleProject{
			ProjectID:     p.ID,
			Title:         p.Title,
			FundName:      s.funds[p.FundID].Name,
			FundingAmount: p.FundingAmount,
			UpdatedAt:     p.UpdatedAt,
		})
	}
	return out, nil
}

func (s *Store) ListOverdueMilestones(_ context.Context, dueBefore time.Time) ([]model.OverdueMilestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListOverdueMilestones"); err != nil {
		return nil, err
	}
	var out []model.OverdueMilestone
	for _, m := range s.milestones {
		if m.DueDate == nil || !m.DueDate.Before(dueBefore) {
			continue
		}
		if m.Status != model.MilestonePending && m.Status != model.MilestoneInProgress {
			continue
		}
		p, ok := s.project(m.ProjectID)
		if !ok || p.FundingStatus != model.FundingFunded || p.Status == model.ProjectCompleted || p.Status == model.ProjectCancelled {
			continue
		}
		out = append(out, model.OverdueMilestone{
			MilestoneID:    m.ID,
			MilestoneTitle: m.Title,
			DueDate:        *m.DueDate,
			ProjectID:      p.ID,
			ProjectTitle:   p.Title,
			FundName:       s.funds[p.FundID].Name,
		})
	}
	return out, nil
}

func (s *Store) ListProposals(_ context.Context) ([]model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListProposals"); err != nil {
		return nil, err
	}
	out := make([]model.Proposal, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, model.Proposal{
			ProjectID:   p.ID,
			FundID:      p.FundID,
			Category:    p.Category,
			Title:       p.Title,
			Description: p.Description,
			Problem:     p.Problem,
			Solution:    p.Solution,
		})
	}
	return out, nil
}

// InsertAutomatedFlag checks for an open flag and inserts under one lock.
func (s *Store) InsertAutomatedFlag(_ context.Context, r model.DetectionResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("InsertAutomatedFlag"); err != nil {
		return false, err
	}
	for _, f := range s.flags {
		if f.ProjectID == r.ProjectID && f.Category == r.Category && f.Type == model.FlagAutomated &&
			(f.Status == model.FlagPending || f.Status == model.FlagConfirmed) {
			return false, nil
		}
	}
	now := s.now().UTC()
	s.flags = append(s.flags, model.Flag{
		ID:          uuid.New(),
		ProjectID:   r.ProjectID,
		Type:        model.FlagAutomated,
		Category:    r.Category,
		Severity:    r.Severity,
		Status:      model.FlagPending,
		Title:       r.Title,
		Description: r.Description,
		Metadata:    cloneMeta(r.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	return true, nil
}

func (s *Store) NotifyAdmins(_ context.Context, notificationType, title, message string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("NotifyAdmins"); err != nil {
		return 0, err
	}
	n := 0
	for _, u := range s.users {
		if u.role != model.UserRoleAdmin {
			continue
		}
		s.notifications = append(s.notifications, model.Notification{
			ID:        uuid.New(),
			UserID:    u.id,
			Type:      notificationType,
			Title:     title,
			Message:   message,
			CreatedAt: s.now().UTC(),
		})
		n++
	}
	return n, nil
}
