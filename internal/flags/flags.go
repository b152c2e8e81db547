// Package flags implements the review lifecycle of persisted flags: listing,
// status transitions, proposer responses and community-authored flags.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/shinrai/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is the persistence contract for flag review.
type Store interface {
	ListFlags(ctx context.Context, f model.FlagFilter) (model.FlagPage, error)
	// GetFlag returns the flag and the title of its project.
	GetFlag(ctx context.Context, id uuid.UUID) (model.Flag, string, error)
	// SetFlagStatus moves a flag from one status to another. It returns
	// model.ErrInvalidTransition when the stored status is no longer from.
	SetFlagStatus(ctx context.Context, id uuid.UUID, from model.FlagStatus, update model.Flag) (model.Flag, error)
	// MergeFlagMetadata sets key in a pending flag's metadata. It returns
	// model.ErrFlagNotPending for any other status.
	MergeFlagMetadata(ctx context.Context, id uuid.UUID, key string, value any) (model.Flag, error)
	CreateFlag(ctx context.Context, f model.Flag) (model.Flag, error)
	NotifyAdmins(ctx context.Context, notificationType, title, message string) (int, error)
}

// Service manages flag review.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a flag Service. now may be nil.
func New(store Store, now func() time.Time, logger *slog.Logger) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger, now: now}
}

// List returns a filtered page of flags, most severe first, with per-status
// counts across every flag.
func (s *Service) List(ctx context.Context, f model.FlagFilter) (model.FlagPage, model.FlagFilter, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	f.Limit = min(f.Limit, MaxLimit)
	f.Offset = max(f.Offset, 0)
	page, err := s.store.ListFlags(ctx, f)
	if err != nil {
		return model.FlagPage{}, f, fmt.Errorf("flags: list: %w", err)
	}
	return page, f, nil
}

// Review moves a flag to status, stamping the review or resolution time.
func (s *Service) Review(ctx context.Context, id uuid.UUID, status model.FlagStatus, reviewer *uuid.UUID) (model.Flag, error) {
	current, _, err := s.store.GetFlag(ctx, id)
	if err != nil {
		return model.Flag{}, fmt.Errorf("flags: review %s: %w", id, err)
	}
	if err := model.ValidateFlagTransition(current.Status, status); err != nil {
		return model.Flag{}, fmt.Errorf("flags: review %s: %w", id, err)
	}

	now := s.now().UTC()
	update := model.Flag{Status: status}
	switch status {
	case model.FlagConfirmed, model.FlagDismissed:
		update.ReviewedAt = &now
		update.ReviewedBy = reviewer
	case model.FlagResolved:
		update.ResolvedAt = &now
	}
	f, err := s.store.SetFlagStatus(ctx, id, current.Status, update)
	if err != nil {
		return model.Flag{}, fmt.Errorf("flags: review %s: %w", id, err)
	}
	s.logger.Info("flag reviewed", "flag_id", id, "from", current.Status, "to", status)
	return f, nil
}

// Respond attaches the proposer's response to a pending flag and tells the
// administrators about it.
func (s *Service) Respond(ctx context.Context, id uuid.UUID, response string, evidenceURL *string) (model.Flag, error) {
	if strings.TrimSpace(response) == "" {
		return model.Flag{}, fmt.Errorf("flags: %w: response is required", model.ErrInvalidInput)
	}
	current, projectTitle, err := s.store.GetFlag(ctx, id)
	if err != nil {
		return model.Flag{}, fmt.Errorf("flags: respond %s: %w", id, err)
	}
	if current.Status != model.FlagPending {
		return model.Flag{}, fmt.Errorf("flags: respond %s: %w", id, model.ErrFlagNotPending)
	}

	value := map[string]any{
		"response":    response,
		"respondedAt": s.now().UTC().Format(time.RFC3339),
	}
	if evidenceURL != nil {
		value["evidenceUrl"] = *evidenceURL
	}
	f, err := s.store.MergeFlagMetadata(ctx, id, "proposerResponse", value)
	if err != nil {
		return model.Flag{}, fmt.Errorf("flags: respond %s: %w", id, err)
	}

	msg := fmt.Sprintf("A proposer has responded to the flag \"%s\" on project \"%s\".", current.Title, projectTitle)
	if _, err := s.store.NotifyAdmins(ctx, model.NotificationFlagResponse, "Proposer responded to flag", msg); err != nil {
		s.logger.Warn("flags: notify admins of response", "flag_id", id, "error", err)
	}
	return f, nil
}

// CreateCommunity records a user-authored flag. Severity defaults to medium.
func (s *Service) CreateCommunity(ctx context.Context, req model.CreateFlagRequest) (model.Flag, error) {
	if req.ProjectID == uuid.Nil || req.Title == "" || req.Description == "" || req.Category == "" {
		return model.Flag{}, fmt.Errorf("flags: %w: project_id, category, title and description are required", model.ErrInvalidInput)
	}
	severity := req.Severity
	switch severity {
	case "":
		severity = model.SeverityMedium
	case model.SeverityLow, model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
	default:
		return model.Flag{}, fmt.Errorf("flags: %w: unknown severity %q", model.ErrInvalidInput, severity)
	}
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	now := s.now().UTC()
	f, err := s.store.CreateFlag(ctx, model.Flag{
		ID:          uuid.New(),
		ProjectID:   req.ProjectID,
		Type:        model.FlagCommunity,
		Category:    req.Category,
		Severity:    severity,
		Status:      model.FlagPending,
		Title:       req.Title,
		Description: req.Description,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return model.Flag{}, fmt.Errorf("flags: create: %w", err)
	}
	return f, nil
}
