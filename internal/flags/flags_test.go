package flags

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shinrai/internal/memstore"
	"github.com/ashita-ai/shinrai/internal/model"
)

var now = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Service, *memstore.Store, model.Project) {
	t.Helper()
	st := memstore.New()
	st.SetClock(func() time.Time { return now })
	p := model.Project{ID: uuid.New(), Title: "Open Ledger", FundingStatus: model.FundingFunded, Status: model.ProjectInProgress}
	st.AddProject(p)
	st.AddUser(uuid.New(), model.UserRoleAdmin)
	st.AddUser(uuid.New(), model.UserRoleUser)
	svc := New(st, func() time.Time { return now }, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, st, p
}

func addFlag(st *memstore.Store, projectID uuid.UUID, sev model.FlagSeverity, status model.FlagStatus, created time.Time) model.Flag {
	f := model.Flag{
		ID:        uuid.New(),
		ProjectID: projectID,
		Type:      model.FlagAutomated,
		Category:  model.CategoryGhostProject,
		Severity:  sev,
		Status:    status,
		Title:     "Potential ghost project",
		CreatedAt: created,
	}
	st.AddFlag(f)
	return f
}

func TestListOrdersBySeverityThenRecency(t *testing.T) {
	svc, st, p := setup(t)
	older := addFlag(st, p.ID, model.SeverityHigh, model.FlagPending, now.Add(-2*time.Hour))
	low := addFlag(st, p.ID, model.SeverityLow, model.FlagPending, now)
	newer := addFlag(st, p.ID, model.SeverityHigh, model.FlagPending, now.Add(-time.Hour))
	crit := addFlag(st, p.ID, model.SeverityCritical, model.FlagDismissed, now.Add(-24*time.Hour))

	page, filter, err := svc.List(context.Background(), model.FlagFilter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, filter.Limit)
	assert.Equal(t, 4, page.Total)
	var ids []uuid.UUID
	for _, f := range page.Flags {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []uuid.UUID{crit.ID, newer.ID, older.ID, low.ID}, ids)
	assert.Equal(t, model.FlagStats{model.FlagPending: 3, model.FlagDismissed: 1}, page.Stats)
}

func TestListFiltersAndPages(t *testing.T) {
	svc, st, p := setup(t)
	for i := range 5 {
		addFlag(st, p.ID, model.SeverityMedium, model.FlagPending, now.Add(-time.Duration(i)*time.Minute))
	}
	addFlag(st, p.ID, model.SeverityMedium, model.FlagResolved, now)

	page, filter, err := svc.List(context.Background(), model.FlagFilter{Status: model.FlagPending, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Flags, 1)
	assert.Equal(t, 4, filter.Offset)
	assert.Equal(t, 5, page.Stats[model.FlagPending], "stats ignore the filter")
	assert.Equal(t, 1, page.Stats[model.FlagResolved])

	_, filter, err = svc.List(context.Background(), model.FlagFilter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, filter.Limit)
	assert.Zero(t, filter.Offset)

	st.FailOn("ListFlags", errors.New("boom"))
	_, _, err = svc.List(context.Background(), model.FlagFilter{})
	require.Error(t, err)
}

func TestReviewTransitions(t *testing.T) {
	svc, st, p := setup(t)
	f := addFlag(st, p.ID, model.SeverityHigh, model.FlagPending, now)
	reviewer := uuid.New()
	ctx := context.Background()

	_, err := svc.Review(ctx, f.ID, model.FlagResolved, &reviewer)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	confirmed, err := svc.Review(ctx, f.ID, model.FlagConfirmed, &reviewer)
	require.NoError(t, err)
	assert.Equal(t, model.FlagConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ReviewedAt)
	assert.Equal(t, now, *confirmed.ReviewedAt)
	assert.Equal(t, &reviewer, confirmed.ReviewedBy)
	assert.Nil(t, confirmed.ResolvedAt)

	_, err = svc.Review(ctx, f.ID, model.FlagPending, &reviewer)
	require.ErrorIs(t, err, model.ErrInvalidTransition)

	// A confirmed flag keeps its penalty until resolved.
	_, err = svc.Review(ctx, f.ID, model.FlagDismissed, &reviewer)
	require.ErrorIs(t, err, model.ErrInvalidTransition)
	still, _, err := st.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlagConfirmed, still.Status)

	resolved, err := svc.Review(ctx, f.ID, model.FlagResolved, nil)
	require.NoError(t, err)
	assert.Equal(t, model.FlagResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, &reviewer, resolved.ReviewedBy, "resolution keeps the original reviewer")

	_, err = svc.Review(ctx, uuid.New(), model.FlagConfirmed, nil)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestRespond(t *testing.T) {
	svc, st, p := setup(t)
	f := addFlag(st, p.ID, model.SeverityMedium, model.FlagPending, now)
	ctx := context.Background()

	_, err := svc.Respond(ctx, f.ID, "   ", nil)
	require.ErrorIs(t, err, model.ErrInvalidInput)

	url := "https://example.org/report.pdf"
	got, err := svc.Respond(ctx, f.ID, "Work resumed in April", &url)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"response":    "Work resumed in April",
		"respondedAt": "2026-05-04T12:00:00Z",
		"evidenceUrl": url,
	}, got.Metadata["proposerResponse"])

	notes := st.Notifications()
	require.Len(t, notes, 1, "only administrators are notified")
	assert.Equal(t, model.NotificationFlagResponse, notes[0].Type)
	assert.Equal(t, "Proposer responded to flag", notes[0].Title)
	assert.Equal(t, `A proposer has responded to the flag "Potential ghost project" on project "Open Ledger".`, notes[0].Message)

	dismissed := addFlag(st, p.ID, model.SeverityMedium, model.FlagDismissed, now)
	_, err = svc.Respond(ctx, dismissed.ID, "too late", nil)
	require.ErrorIs(t, err, model.ErrFlagNotPending)
}

func TestRespondSurvivesNotifyFailure(t *testing.T) {
	svc, st, p := setup(t)
	f := addFlag(st, p.ID, model.SeverityMedium, model.FlagPending, now)
	st.FailOn("NotifyAdmins", errors.New("smtp down"))

	got, err := svc.Respond(context.Background(), f.ID, "on it", nil)
	require.NoError(t, err)
	resp, ok := got.Metadata["proposerResponse"].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, resp, "evidenceUrl")
}

func TestCreateCommunity(t *testing.T) {
	svc, st, p := setup(t)
	ctx := context.Background()

	f, err := svc.CreateCommunity(ctx, model.CreateFlagRequest{
		ProjectID:   p.ID,
		Category:    "misleading_report",
		Title:       "Report does not match repository",
		Description: "The April report claims a release that does not exist.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.FlagCommunity, f.Type)
	assert.Equal(t, model.SeverityMedium, f.Severity)
	assert.Equal(t, model.FlagPending, f.Status)
	assert.Equal(t, map[string]any{}, f.Metadata)
	assert.Len(t, st.Flags(), 1)

	_, err = svc.CreateCommunity(ctx, model.CreateFlagRequest{ProjectID: p.ID, Category: "x", Title: "t"})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = svc.CreateCommunity(ctx, model.CreateFlagRequest{
		ProjectID: p.ID, Category: "x", Title: "t", Description: "d", Severity: "apocalyptic",
	})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = svc.CreateCommunity(ctx, model.CreateFlagRequest{
		ProjectID: uuid.New(), Category: "x", Title: "t", Description: "d",
	})
	require.ErrorIs(t, err, model.ErrNotFound)
}
