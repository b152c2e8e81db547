package memstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

func matches(f model.Flag, filter model.FlagFilter) bool {
	switch {
	case filter.Status != "" && f.Status != filter.Status:
		return false
	case filter.Category != "" && f.Category != filter.Category:
		return false
	case filter.Type != "" && f.Type != filter.Type:
		return false
	case filter.ProjectID != nil && f.ProjectID != *filter.ProjectID:
		return false
	}
	return true
}

func (s *Store) ListFlags(_ context.Context, filter model.FlagFilter) (model.FlagPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure("ListFlags"); err != nil {
		return model.FlagPage{}, err
	}
	page := model.FlagPage{Flags: []model.Flag{}, Stats: model.FlagStats{}}
	var hits []model.Flag
	for _, f := range s.flags {
		page.Stats[f.Status]++
		if matches(f, filter) {
			hits = append(hits, f)
		}
	}
	slices.SortStableFunc(hits, func(a, b model.Flag) int {
		if c := cmp.Compare(severityRank(b.Severity), severityRank(a.Severity)); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	page.Total = len(hits)
	if filter.Offset < len(hits) {
		end := min(len(hits), filter.Offset+filter.Limit)
		page.Flags = append(page.Flags, hits[filter.Offset:end]...)
	}
	return page, nil
}

func (s *Store) flagIndex(id uuid.UUID) int {
	return slices.IndexFunc(s.flags, func(f model.Flag) bool { return f.ID == id })
}

func (s *Store) GetFlag(_ context.Context, id uuid.UUID) (model.Flag, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.flagIndex(id)
	if i < 0 {
		return model.Flag{}, "", model.ErrNotFound
	}
	p, _ := s.project(s.flags[i].ProjectID)
	return s.flags[i], p.Title, nil
}

func (s *Store) SetFlagStatus(_ context.Context, id uuid.UUID, from model.FlagStatus, update model.Flag) (model.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.flagIndex(id)
	if i < 0 {
		return model.Flag{}, model.ErrNotFound
	}
	f := s.flags[i]
	if f.Status != from {
		return model.Flag{}, model.ErrInvalidTransition
	}
	f.Status = update.Status
	if update.ReviewedAt != nil {
		f.ReviewedAt = update.ReviewedAt
		f.ReviewedBy = update.ReviewedBy
	}
	if update.ResolvedAt != nil {
		f.ResolvedAt = update.ResolvedAt
	}
	f.UpdatedAt = s.now().UTC()
	s.flags[i] = f
	return f, nil
}

func (s *Store) MergeFlagMetadata(_ context.Context, id uuid.UUID, key string, value any) (model.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.flagIndex(id)
	if i < 0 {
		return model.Flag{}, model.ErrNotFound
	}
	f := s.flags[i]
	if f.Status != model.FlagPending {
		return model.Flag{}, model.ErrFlagNotPending
	}
	f.Metadata = cloneMeta(f.Metadata)
	f.Metadata[key] = value
	f.UpdatedAt = s.now().UTC()
	s.flags[i] = f
	return f, nil
}

func (s *Store) CreateFlag(_ context.Context, f model.Flag) (model.Flag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.project(f.ProjectID); !ok {
		return model.Flag{}, model.ErrNotFound
	}
	s.flags = append(s.flags, f)
	return f, nil
}
