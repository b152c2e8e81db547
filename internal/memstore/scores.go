package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

func (s *Store) ListPersonIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListPersonIDs"); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(s.people))
	for i, p := range s.people {
		ids[i] = p.ID
	}
	return ids, nil
}

func (s *Store) ListOrganizationIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListOrganizationIDs"); err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(s.orgs))
	for i, o := range s.orgs {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *Store) GetPersonActivity(_ context.Context, personID uuid.UUID) (model.PersonActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("GetPersonActivity"); err != nil {
		return model.PersonActivity{}, err
	}
	if _, ok := s.person(personID); !ok {
		return model.PersonActivity{}, model.ErrNotFound
	}

	a := model.PersonActivity{PersonID: personID}
	projectIDs := s.personProjects(personID)
	for _, id := range projectIDs {
		p, ok := s.project(id)
		if !ok {
			continue
		}
		a.Projects = append(a.Projects, model.ProjectOutcome{ProjectID: p.ID, FundingStatus: p.FundingStatus, Status: p.Status})
		a.ReportsSubmitted += s.reports[id]
		a.ReviewRatings = append(a.ReviewRatings, s.reviews[id]...)
	}
	for _, m := range s.milestones {
		if slices.Contains(projectIDs, m.ProjectID) {
			a.Milestones = append(a.Milestones, model.MilestoneOutcome{
				Status:        m.Status,
				DueDate:       m.DueDate,
				PoAStatus:     m.PoAStatus,
				PoAApprovedAt: m.PoAApprovedAt,
			})
		}
	}
	for _, c := range s.concerns {
		if slices.Contains(projectIDs, c.ProjectID) {
			a.ConcernsTotal++
			if c.Responses > 0 {
				a.ConcernsResponded++
			}
		}
	}
	for _, f := range s.flags {
		if f.Status == model.FlagConfirmed && slices.Contains(projectIDs, f.ProjectID) {
			a.ConfirmedFlags = append(a.ConfirmedFlags, f.Severity)
		}
	}
	return a, nil
}

func (s *Store) GetOrganizationProfile(_ context.Context, orgID uuid.UUID) (model.OrganizationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("GetOrganizationProfile"); err != nil {
		return model.OrganizationProfile{}, err
	}
	idx := slices.IndexFunc(s.orgs, func(o model.Organization) bool { return o.ID == orgID })
	if idx < 0 {
		return model.OrganizationProfile{}, model.ErrNotFound
	}

	p := model.OrganizationProfile{
		OrganizationID:          orgID,
		CompletedProposalsCount: s.orgs[idx].CompletedProposalsCount,
		ProjectIDs:              slices.Clone(s.orgProjects[orgID]),
	}
	for _, l := range s.links {
		if slices.Contains(p.ProjectIDs, l.ProjectID) {
			p.ProjectPeople = append(p.ProjectPeople, l)
		}
	}
	for _, member := range s.orgMembers[orgID] {
		if sc, ok := s.scores[member]; ok {
			p.MemberScores = append(p.MemberScores, model.MemberScore{PersonID: member, OverallScore: sc.OverallScore, Badge: sc.Badge})
		}
	}
	return p, nil
}

func (s *Store) SavePersonScore(_ context.Context, score model.AccountabilityScore, audit model.ScoreAudit, note model.ScoreNotification) (model.AccountabilityScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("SavePersonScore"); err != nil {
		return model.AccountabilityScore{}, err
	}
	if prev, ok := s.scores[score.PersonID]; ok {
		score.ID = prev.ID
	} else {
		score.ID = uuid.New()
	}
	score.PublishedAt = nil
	s.scores[score.PersonID] = score

	audit.ID, audit.ScoreID = uuid.New(), score.ID
	s.audits = append(s.audits, audit)
	note.ID = uuid.New()
	s.scoreNotes = append(s.scoreNotes, note)
	return score, nil
}

func (s *Store) SaveOrganizationScore(_ context.Context, score model.OrganizationScore) (model.OrganizationScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("SaveOrganizationScore"); err != nil {
		return model.OrganizationScore{}, err
	}
	if prev, ok := s.orgScores[score.OrganizationID]; ok {
		score.ID = prev.ID
	} else {
		score.ID = uuid.New()
	}
	s.orgScores[score.OrganizationID] = score
	return score, nil
}

func (s *Store) GetPersonScore(_ context.Context, personID uuid.UUID) (model.AccountabilityScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[personID]
	if !ok {
		return model.AccountabilityScore{}, model.ErrNotFound
	}
	return sc, nil
}

func (s *Store) GetOrganizationScore(_ context.Context, orgID uuid.UUID) (model.OrganizationScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.orgScores[orgID]
	if !ok {
		return model.OrganizationScore{}, model.ErrNotFound
	}
	return sc, nil
}

func (s *Store) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LeaderboardEntry, 0, len(s.scores))
	for _, sc := range s.scores {
		p, _ := s.person(sc.PersonID)
		out = append(out, model.LeaderboardEntry{
			PersonID:     sc.PersonID,
			PersonName:   p.Name,
			OverallScore: sc.OverallScore,
			Badge:        sc.Badge,
			Confidence:   sc.Confidence,
			Status:       sc.Status,
		})
	}
	slices.SortFunc(out, byOverall)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) hasPendingDispute(scoreID uuid.UUID) bool {
	return slices.ContainsFunc(s.disputes, func(d model.ScoreDispute) bool {
		return d.ScoreID == scoreID && d.Status == model.DisputePending
	})
}

func (s *Store) PublishExpiredScores(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure("PublishExpiredScores"); err != nil {
		return 0, err
	}
	n := 0
	for personID, sc := range s.scores {
		if sc.Status != model.ScorePreview || sc.PreviewUntil == nil || sc.PreviewUntil.After(now) || s.hasPendingDispute(sc.ID) {
			continue
		}
		published := now
		sc.Status = model.ScorePublished
		sc.PublishedAt = &published
		s.scores[personID] = sc
		s.audits = append(s.audits, model.ScoreAudit{
			ID:        uuid.New(),
			ScoreID:   sc.ID,
			Action:    model.AuditScorePublished,
			Payload:   map[string]any{"reason": "preview_expired"},
			CreatedAt: now,
		})
		n++
	}
	return n, nil
}

func (s *Store) CreateDispute(_ context.Context, d model.ScoreDispute) (model.ScoreDispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scoreByID(d.ScoreID)
	if !ok {
		return model.ScoreDispute{}, model.ErrNotFound
	}
	if sc.Status != model.ScorePreview {
		return model.ScoreDispute{}, model.ErrScoreNotInPreview
	}
	if slices.ContainsFunc(s.disputes, func(x model.ScoreDispute) bool {
		return x.ScoreID == d.ScoreID && x.UserID == d.UserID && x.Status == model.DisputePending
	}) {
		return model.ScoreDispute{}, model.ErrDuplicateDispute
	}

	s.disputes = append(s.disputes, d)
	sc.Status = model.ScoreDisputed
	s.scores[sc.PersonID] = sc
	s.scoreNotes = append(s.scoreNotes, model.ScoreNotification{
		ID:        uuid.New(),
		PersonID:  sc.PersonID,
		Type:      model.NotificationScoreDispute,
		Payload:   map[string]any{"disputeId": d.ID.String(), "reason": d.Reason},
		CreatedAt: d.CreatedAt,
	})
	actor := d.UserID
	s.audits = append(s.audits, model.ScoreAudit{
		ID:        uuid.New(),
		ScoreID:   sc.ID,
		Action:    model.AuditDisputeSubmitted,
		Payload:   map[string]any{"disputeId": d.ID.String(), "reason": d.Reason},
		ActorID:   &actor,
		CreatedAt: d.CreatedAt,
	})
	return d, nil
}

func (s *Store) ResolveDispute(_ context.Context, review model.ScoreDispute) (model.ScoreDispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.disputes, func(x model.ScoreDispute) bool { return x.ID == review.ID })
	if idx < 0 {
		return model.ScoreDispute{}, model.ErrNotFound
	}
	d := s.disputes[idx]
	if d.Status != model.DisputePending {
		return model.ScoreDispute{}, model.ErrDisputeNotPending
	}
	d.Status = review.Status
	d.ReviewedBy = review.ReviewedBy
	d.ReviewNotes = review.ReviewNotes
	d.ReviewedAt = review.ReviewedAt
	s.disputes[idx] = d

	sc, ok := s.scoreByID(d.ScoreID)
	if !ok {
		return model.ScoreDispute{}, model.ErrNotFound
	}
	if d.Status == model.DisputeApproved {
		sc.Status = model.ScorePublished
		sc.PublishedAt = review.ReviewedAt
	} else {
		sc.Status = model.ScorePreview
	}
	s.scores[sc.PersonID] = sc

	payload := map[string]any{"disputeId": d.ID.String(), "status": string(d.Status)}
	if d.ReviewNotes != nil {
		payload["notes"] = *d.ReviewNotes
	}
	s.audits = append(s.audits, model.ScoreAudit{
		ID:        uuid.New(),
		ScoreID:   sc.ID,
		Action:    model.AuditDisputeReviewed,
		Payload:   payload,
		ActorID:   d.ReviewedBy,
		CreatedAt: *review.ReviewedAt,
	})
	return d, nil
}
