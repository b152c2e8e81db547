package detection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/telemetry"
)

// Service runs detectors and ingests their results.
type Service struct {
	store     Store
	detectors []Detector
	logger    *slog.Logger

	flagsCreated   metric.Int64Counter
	flagsSkipped   metric.Int64Counter
	detectorErrors metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithDetectors replaces the default rule set.
func WithDetectors(detectors ...Detector) Option {
	return func(s *Service) { s.detectors = detectors }
}

// New creates a detection Service over store. now supplies the reference
// time for age-based rules; nil means time.Now.
func New(store Store, now func() time.Time, logger *slog.Logger, opts ...Option) *Service {
	if now == nil {
		now = time.Now
	}
	meter := telemetry.Meter("shinrai/detection")
	created, _ := meter.Int64Counter("shinrai.flags.created",
		metric.WithDescription("Automated flags created by ingestion"))
	skipped, _ := meter.Int64Counter("shinrai.flags.skipped",
		metric.WithDescription("Detection results skipped because an open flag already exists"))
	detErrs, _ := meter.Int64Counter("shinrai.detector.errors",
		metric.WithDescription("Detector runs that failed"))

	s := &Service{
		store:          store,
		detectors:      Defaults(store, now),
		logger:         logger,
		flagsCreated:   created,
		flagsSkipped:   skipped,
		detectorErrors: detErrs,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detector returns the detector registered for category.
func (s *Service) Detector(category model.FlagCategory) (Detector, error) {
	for _, d := range s.detectors {
		if d.Category() == category {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDetector, category)
}

// RunOne runs a single detector and returns its raw results without
// ingesting them.
func (s *Service) RunOne(ctx context.Context, category model.FlagCategory) ([]model.DetectionResult, error) {
	d, err := s.Detector(category)
	if err != nil {
		return nil, err
	}
	results, err := d.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("detection: %s: %w", category, err)
	}
	return results, nil
}

type detectorRun struct {
	results []model.DetectionResult
	err     error
}

// RunAll evaluates every detector concurrently, then ingests their results
// in registration order. A failing detector is recorded in the returned
// stats and never stops the others. The error return is reserved for
// cancellation of ctx.
func (s *Service) RunAll(ctx context.Context) (model.DetectionStats, error) {
	stats := model.DetectionStats{
		Errors:     []string{},
		ByCategory: make(map[model.FlagCategory]int),
	}

	runs := make([]detectorRun, len(s.detectors))
	var g errgroup.Group
	for i, d := range s.detectors {
		g.Go(func() error {
			runs[i].results, runs[i].err = d.Detect(ctx)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	var touched []string
	for i, d := range s.detectors {
		name := d.Category()
		attrs := metric.WithAttributes(attribute.String("category", string(name)))
		if err := runs[i].err; err != nil {
			s.recordFailure(ctx, &stats, name, err, attrs)
			continue
		}
		stats.ByCategory[name] = 0
		for _, r := range runs[i].results {
			created, err := s.store.InsertAutomatedFlag(ctx, r)
			if err != nil {
				s.recordFailure(ctx, &stats, name, err, attrs)
				break
			}
			if !created {
				stats.Skipped++
				s.flagsSkipped.Add(ctx, 1, attrs)
				continue
			}
			stats.Created++
			stats.ByCategory[name]++
			s.flagsCreated.Add(ctx, 1, attrs)
			if !slices.Contains(touched, string(name)) {
				touched = append(touched, string(name))
			}
		}
	}

	if stats.Created > 0 {
		title, message := alertText(stats.Created, touched)
		if _, err := s.store.NotifyAdmins(ctx, model.NotificationFlagAlert, title, message); err != nil {
			s.logger.Warn("detection: notify admins failed", "error", err)
			stats.Errors = append(stats.Errors, "notify: "+err.Error())
		}
	}

	s.logger.Info("detection run complete",
		"created", stats.Created,
		"skipped", stats.Skipped,
		"errors", len(stats.Errors))
	return stats, nil
}

func (s *Service) recordFailure(ctx context.Context, stats *model.DetectionStats, name model.FlagCategory, err error, attrs metric.AddOption) {
	s.logger.Warn("detection: detector failed", "detector", name, "error", err)
	s.detectorErrors.Add(ctx, 1, attrs)
	stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", name, err))
}

func alertText(created int, categories []string) (title, message string) {
	plural := ""
	if created > 1 {
		plural = "s"
	}
	title = fmt.Sprintf("%d new automated flag%s detected", created, plural)
	message = fmt.Sprintf("Automated detection found %d new flag%s requiring review. Categories: %s",
		created, plural, strings.Join(categories, ", "))
	return title, message
}
