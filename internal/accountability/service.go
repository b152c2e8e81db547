// Package accountability computes person and organization trust scores and
// manages their preview, dispute and publication lifecycle.
package accountability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/telemetry"
)

// DefaultPreviewWindow is how long a new person score stays in preview.
const DefaultPreviewWindow = 14 * 24 * time.Hour

// LeaderboardSize caps the leaderboard.
const LeaderboardSize = 100

// Store is the persistence contract for scoring.
type Store interface {
	ListPersonIDs(ctx context.Context) ([]uuid.UUID, error)
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)

	// GetPersonActivity returns model.ErrNotFound for an unknown person.
	GetPersonActivity(ctx context.Context, personID uuid.UUID) (model.PersonActivity, error)
	// GetOrganizationProfile returns model.ErrNotFound for an unknown organization.
	GetOrganizationProfile(ctx context.Context, orgID uuid.UUID) (model.OrganizationProfile, error)

	// SavePersonScore upserts the score by person and, in the same
	// transaction, appends audit and notification with their score ids set.
	SavePersonScore(ctx context.Context, score model.AccountabilityScore, audit model.ScoreAudit, note model.ScoreNotification) (model.AccountabilityScore, error)
	SaveOrganizationScore(ctx context.Context, score model.OrganizationScore) (model.OrganizationScore, error)

	GetPersonScore(ctx context.Context, personID uuid.UUID) (model.AccountabilityScore, error)
	GetOrganizationScore(ctx context.Context, orgID uuid.UUID) (model.OrganizationScore, error)
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)

	// PublishExpiredScores moves preview scores whose window closed at or
	// before now, and that have no pending dispute, to published.
	PublishExpiredScores(ctx context.Context, now time.Time) (int, error)
	// CreateDispute records a pending dispute against a preview score and
	// marks the score disputed.
	CreateDispute(ctx context.Context, d model.ScoreDispute) (model.ScoreDispute, error)
	// ResolveDispute closes a pending dispute and moves its score to
	// published (approved) or back to preview (rejected).
	ResolveDispute(ctx context.Context, d model.ScoreDispute) (model.ScoreDispute, error)
}

// Service scores people and organizations.
type Service struct {
	store         Store
	logger        *slog.Logger
	now           func() time.Time
	workers       int
	previewWindow time.Duration

	calculated    metric.Int64Counter
	failures      metric.Int64Counter
	batchDuration metric.Float64Histogram
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWorkers bounds how many entities a batch scores concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithPreviewWindow sets how long new person scores stay in preview.
func WithPreviewWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.previewWindow = d
		}
	}
}

// New creates a scoring Service.
func New(store Store, logger *slog.Logger, opts ...Option) *Service {
	meter := telemetry.Meter("shinrai/accountability")
	calculated, _ := meter.Int64Counter("shinrai.scores.calculated",
		metric.WithDescription("Scores calculated and stored"))
	failures, _ := meter.Int64Counter("shinrai.scores.errors",
		metric.WithDescription("Entities whose score could not be calculated"))
	batchDur, _ := meter.Float64Histogram("shinrai.batch.duration",
		metric.WithDescription("Time to recalculate every score (ms)"),
		metric.WithUnit("ms"),
	)

	s := &Service{
		store:         store,
		logger:        logger,
		now:           time.Now,
		workers:       4,
		previewWindow: DefaultPreviewWindow,
		calculated:    calculated,
		failures:      failures,
		batchDuration: batchDur,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ScorePerson computes and stores the score of one person.
func (s *Service) ScorePerson(ctx context.Context, personID uuid.UUID) (model.AccountabilityScore, error) {
	activity, err := s.store.GetPersonActivity(ctx, personID)
	if err != nil {
		return model.AccountabilityScore{}, fmt.Errorf("accountability: person %s: %w", personID, err)
	}
	res := ComputePerson(activity)

	now := s.now().UTC()
	until := now.Add(s.previewWindow)
	row := scoreRow(res)
	row.CalculatedAt = now
	row.PreviewUntil = &until

	audit := model.ScoreAudit{
		Action:    model.AuditScoreCalculated,
		Payload:   map[string]any{"score": res.Score, "badge": string(res.Badge)},
		CreatedAt: now,
	}
	note := model.ScoreNotification{
		PersonID:  personID,
		Type:      model.NotificationScorePreview,
		Payload:   map[string]any{"previewUntil": until.Format(time.RFC3339)},
		CreatedAt: now,
	}
	stored, err := s.store.SavePersonScore(ctx, row, audit, note)
	if err != nil {
		return model.AccountabilityScore{}, fmt.Errorf("accountability: save person %s: %w", personID, err)
	}
	s.calculated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "person")))
	return stored, nil
}

// ScoreOrganization computes and stores the score of one organization. It
// reads member scores as currently stored, so people should be scored first.
func (s *Service) ScoreOrganization(ctx context.Context, orgID uuid.UUID) (model.OrganizationScore, error) {
	profile, err := s.store.GetOrganizationProfile(ctx, orgID)
	if err != nil {
		return model.OrganizationScore{}, fmt.Errorf("accountability: organization %s: %w", orgID, err)
	}
	res := ComputeOrganization(profile)
	stored, err := s.store.SaveOrganizationScore(ctx, model.OrganizationScore{
		OrganizationID: orgID,
		OverallScore:   res.Score,
		Badge:          res.Badge,
		CalculatedAt:   s.now().UTC(),
	})
	if err != nil {
		return model.OrganizationScore{}, fmt.Errorf("accountability: save organization %s: %w", orgID, err)
	}
	s.calculated.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "organization")))
	return stored, nil
}

// RecalculateAll scores every person, then every organization. Failures are
// logged and counted; they never stop the batch. The error return is
// reserved for failing to list the entities at all.
func (s *Service) RecalculateAll(ctx context.Context) (model.BatchResult, error) {
	start := time.Now()
	var result model.BatchResult

	people, err := s.store.ListPersonIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("accountability: list people: %w", err)
	}
	orgs, err := s.store.ListOrganizationIDs(ctx)
	if err != nil {
		return result, fmt.Errorf("accountability: list organizations: %w", err)
	}

	s.fanOut(ctx, &result, "person", people, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.ScorePerson(ctx, id)
		return err
	})
	s.fanOut(ctx, &result, "organization", orgs, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.ScoreOrganization(ctx, id)
		return err
	})

	s.batchDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.logger.Info("score recalculation complete",
		"processed", result.Processed,
		"errors", result.Errors,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

func (s *Service) fanOut(ctx context.Context, result *model.BatchResult, kind string, ids []uuid.UUID, fn func(context.Context, uuid.UUID) error) {
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors++
				s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
				s.logger.Warn("accountability: scoring failed", "kind", kind, "id", id, "error", err)
				return nil
			}
			result.Processed++
			return nil
		})
	}
	_ = g.Wait()
}

// PublishExpired publishes every preview score whose window has closed.
func (s *Service) PublishExpired(ctx context.Context) (int, error) {
	n, err := s.store.PublishExpiredScores(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("accountability: publish expired: %w", err)
	}
	if n > 0 {
		s.logger.Info("published expired preview scores", "count", n)
	}
	return n, nil
}

// SubmitDispute opens a dispute against a preview score.
func (s *Service) SubmitDispute(ctx context.Context, scoreID, userID uuid.UUID, reason string, evidence *string) (model.ScoreDispute, error) {
	if reason == "" {
		return model.ScoreDispute{}, fmt.Errorf("accountability: %w: dispute reason is required", model.ErrInvalidInput)
	}
	d, err := s.store.CreateDispute(ctx, model.ScoreDispute{
		ID:        uuid.New(),
		ScoreID:   scoreID,
		UserID:    userID,
		Reason:    reason,
		Evidence:  evidence,
		Status:    model.DisputePending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return model.ScoreDispute{}, fmt.Errorf("accountability: submit dispute: %w", err)
	}
	return d, nil
}

// ReviewDispute approves or rejects a pending dispute.
func (s *Service) ReviewDispute(ctx context.Context, disputeID, reviewerID uuid.UUID, status model.DisputeStatus, notes *string) (model.ScoreDispute, error) {
	if status != model.DisputeApproved && status != model.DisputeRejected {
		return model.ScoreDispute{}, fmt.Errorf("accountability: %w: dispute -> %s", model.ErrInvalidTransition, status)
	}
	now := s.now().UTC()
	d, err := s.store.ResolveDispute(ctx, model.ScoreDispute{
		ID:          disputeID,
		Status:      status,
		ReviewedBy:  &reviewerID,
		ReviewNotes: notes,
		ReviewedAt:  &now,
	})
	if err != nil {
		return model.ScoreDispute{}, fmt.Errorf("accountability: review dispute: %w", err)
	}
	return d, nil
}

// PersonScore returns the stored score of a person.
func (s *Service) PersonScore(ctx context.Context, personID uuid.UUID) (model.AccountabilityScore, error) {
	return s.store.GetPersonScore(ctx, personID)
}

// OrganizationScore returns the stored score of an organization.
func (s *Service) OrganizationScore(ctx context.Context, orgID uuid.UUID) (model.OrganizationScore, error) {
	return s.store.GetOrganizationScore(ctx, orgID)
}

// Leaderboard returns the highest person scores.
func (s *Service) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	return s.store.Leaderboard(ctx, LeaderboardSize)
}
