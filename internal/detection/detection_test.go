package detection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shinrai/internal/memstore"
	"github.com/ashita-ai/shinrai/internal/model"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func daysAgo(d int) time.Time { return now.Add(-time.Duration(d) * 24 * time.Hour) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	store *memstore.Store
	fund  model.Fund
}

func newFixture() *fixture {
	st := memstore.New()
	st.SetClock(clock)
	f := model.Fund{ID: uuid.New(), Name: "Fund 10", Number: 10}
	st.AddFund(f)
	return &fixture{store: st, fund: f}
}

func (fx *fixture) fundN(n int) model.Fund {
	f := model.Fund{ID: uuid.New(), Name: fmt.Sprintf("Fund %d", n), Number: n}
	fx.store.AddFund(f)
	return f
}

func (fx *fixture) person(name string) uuid.UUID {
	id := uuid.New()
	fx.store.AddPerson(model.Person{ID: id, Name: name})
	return id
}

type projectOpt func(*model.Project)

func withStatus(s model.ProjectStatus) projectOpt {
	return func(p *model.Project) { p.Status = s }
}

func withFunding(s model.FundingStatus) projectOpt {
	return func(p *model.Project) { p.FundingStatus = s }
}

func withFund(f model.Fund) projectOpt {
	return func(p *model.Project) { p.FundID = f.ID }
}

func withUpdated(t time.Time) projectOpt {
	return func(p *model.Project) { p.UpdatedAt = t }
}

func withAmount(a float64) projectOpt {
	return func(p *model.Project) { p.FundingAmount = a }
}

func withCategory(c string) projectOpt {
	return func(p *model.Project) { p.Category = c }
}

func withText(title, desc string) projectOpt {
	return func(p *model.Project) { p.Title, p.Description = title, desc }
}

func (fx *fixture) project(opts ...projectOpt) uuid.UUID {
	p := model.Project{
		ID:            uuid.New(),
		FundID:        fx.fund.ID,
		Category:      "developer-tools",
		Title:         "Project " + uuid.NewString()[:8],
		FundingStatus: model.FundingFunded,
		Status:        model.ProjectInProgress,
		FundingAmount: 10000,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, o := range opts {
		o(&p)
	}
	fx.store.AddProject(p)
	return p.ID
}

func (fx *fixture) link(personID, projectID uuid.UUID) {
	fx.store.LinkPerson(model.ProjectPerson{ProjectID: projectID, PersonID: personID, Role: "lead", IsPrimary: true})
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%sw%02d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestRepeatDelays(t *testing.T) {
	fx := newFixture()
	alice := fx.person("Alice")
	var projects []uuid.UUID
	for _, s := range []model.ProjectStatus{model.ProjectInProgress, model.ProjectDelayed, model.ProjectAtRisk} {
		id := fx.project(withStatus(s))
		fx.link(alice, id)
		projects = append(projects, id)
	}
	// Neither of these counts toward the incomplete total.
	fx.link(alice, fx.project(withStatus(model.ProjectCompleted)))
	fx.link(alice, fx.project(withFunding(model.FundingNotFunded)))

	bob := fx.person("Bob")
	fx.link(bob, fx.project())
	fx.link(bob, fx.project())

	d := &RepeatDelays{src: fx.store}
	results, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, projects[i], r.ProjectID)
		assert.Equal(t, model.CategoryRepeatDelays, r.Category)
		assert.Equal(t, model.SeverityMedium, r.Severity)
		assert.Equal(t, "Proposer has 3 incomplete projects", r.Title)
		assert.Contains(t, r.Description, "Alice has 3 funded projects")
		assert.Equal(t, 3, r.Metadata["incompleteCount"])
	}

	fx.link(alice, fx.project(withStatus(model.ProjectDelayed)))
	fx.link(alice, fx.project(withStatus(model.ProjectAtRisk)))
	results, err = d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, model.SeverityHigh, r.Severity)
	}
}

func TestGhostProjects(t *testing.T) {
	fx := newFixture()
	tests := []struct {
		name     string
		opts     []projectOpt
		severity model.FlagSeverity
		flagged  bool
	}{
		{"91 days", []projectOpt{withUpdated(daysAgo(91))}, model.SeverityMedium, true},
		{"89 days", []projectOpt{withUpdated(daysAgo(89))}, "", false},
		{"121 days", []projectOpt{withUpdated(daysAgo(121))}, model.SeverityHigh, true},
		{"120 days", []projectOpt{withUpdated(daysAgo(120))}, model.SeverityMedium, true},
		{"181 days", []projectOpt{withUpdated(daysAgo(181))}, model.SeverityCritical, true},
		{"pending", []projectOpt{withUpdated(daysAgo(100)), withStatus(model.ProjectPending)}, model.SeverityMedium, true},
		{"delayed", []projectOpt{withUpdated(daysAgo(100)), withStatus(model.ProjectDelayed)}, "", false},
		{"not funded", []projectOpt{withUpdated(daysAgo(200)), withFunding(model.FundingNotFunded)}, "", false},
	}
	ids := make(map[uuid.UUID]int)
	for i, tt := range tests {
		ids[fx.project(tt.opts...)] = i
	}

	d := &GhostProjects{src: fx.store, now: clock}
	results, err := d.Detect(context.Background())
	require.NoError(t, err)

	got := make(map[int]model.DetectionResult)
	for _, r := range results {
		got[ids[r.ProjectID]] = r
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := got[i]
			require.Equal(t, tt.flagged, ok)
			if ok {
				assert.Equal(t, tt.severity, r.Severity)
				assert.Equal(t, model.CategoryGhostProject, r.Category)
			}
		})
	}
	assert.Equal(t, "No updates for 91 days", got[0].Title)
	assert.Equal(t, 91, got[0].Metadata["daysSinceUpdate"])
	assert.Equal(t, "10000", got[0].Metadata["fundingAmount"])
}

func TestOverdueMilestones(t *testing.T) {
	fx := newFixture()
	active := fx.project(withText("Bridge", ""))
	done := fx.project(withStatus(model.ProjectCompleted))

	due := func(d int) *time.Time {
		at := daysAgo(d)
		return &at
	}
	add := func(project uuid.UUID, title string, status model.MilestoneStatus, dueDate *time.Time) {
		fx.store.AddMilestone(model.Milestone{ID: uuid.New(), ProjectID: project, Title: title, Status: status, DueDate: dueDate})
	}
	add(active, "m31", model.MilestonePending, due(31))
	add(active, "m61", model.MilestoneInProgress, due(61))
	add(active, "m91", model.MilestonePending, due(91))
	add(active, "m29", model.MilestonePending, due(29))
	add(active, "finished", model.MilestoneCompleted, due(100))
	add(active, "undated", model.MilestonePending, nil)
	add(done, "closed project", model.MilestonePending, due(100))

	d := &OverdueMilestones{src: fx.store, now: clock}
	results, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	bySeverity := map[model.FlagSeverity]model.DetectionResult{}
	for _, r := range results {
		assert.Equal(t, active, r.ProjectID)
		bySeverity[r.Severity] = r
	}
	assert.Equal(t, `Milestone "m31" is 31 days overdue`, bySeverity[model.SeverityLow].Title)
	assert.Equal(t, `Milestone "m61" is 61 days overdue`, bySeverity[model.SeverityMedium].Title)
	assert.Equal(t, `Milestone "m91" is 91 days overdue`, bySeverity[model.SeverityHigh].Title)
	assert.Equal(t, "Bridge", bySeverity[model.SeverityHigh].Metadata["projectTitle"])
}

func TestFundingClusters(t *testing.T) {
	fx := newFixture()
	carol := fx.person("Carol")
	for i := 1; i <= 3; i++ {
		fx.link(carol, fx.project(withFund(fx.fundN(i)), withAmount(1000.4)))
	}
	fx.link(carol, fx.project(withFund(fx.fundN(4)), withFunding(model.FundingNotFunded)))

	dave := fx.person("Dave")
	f1, f2 := fx.fundN(20), fx.fundN(21)
	fx.link(dave, fx.project(withFund(f1)))
	fx.link(dave, fx.project(withFund(f2)))
	fx.link(dave, fx.project(withFund(f2)))

	d := &FundingClusters{src: fx.store}
	results, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	r := results[0]
	assert.Equal(t, model.SeverityMedium, r.Severity)
	assert.Equal(t, "Part of 3-fund cluster (Carol)", r.Title)
	assert.Contains(t, r.Description, "totaling $3,001.")
	assert.Equal(t, 3, r.Metadata["fundCount"])
	assert.InDelta(t, 3001.2, r.Metadata["totalFunding"].(float64), 1e-9)
	assert.Equal(t, []string{"Fund 3", "Fund 2", "Fund 1"}, r.Metadata["funds"])

	for i := 5; i <= 7; i++ {
		fx.link(carol, fx.project(withFund(fx.fundN(i))))
	}
	results, err = d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 6)
	assert.Equal(t, model.SeverityHigh, results[0].Severity)
}

func TestSimilarProposals(t *testing.T) {
	fx := newFixture()
	shared := words("shared", 19)

	a := fx.project(withText("Alpha", shared+" "+words("left", 2)))
	b := fx.project(withText("Beta", shared+" "+words("right", 2)))
	// 19 shared, and 3 unique on each side (title plus two words): 19/25.
	fx.project(withText("Gamma", shared+" "+words("left", 2)), withCategory("defi"))
	fx.project(withText("Delta", words("other", 21)))

	d := &SimilarProposals{src: fx.store}
	results, err := d.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2, "only a and b share fund, category and text")

	assert.Equal(t, a, results[0].ProjectID)
	assert.Equal(t, b.String(), results[0].Metadata["similarProjectId"])
	assert.Equal(t, b, results[1].ProjectID)
	assert.Equal(t, a.String(), results[1].Metadata["similarProjectId"])
	assert.InDelta(t, 0.76, results[0].Metadata["similarityScore"].(float64), 1e-12)
	assert.Equal(t, model.SeverityMedium, results[0].Severity)
	assert.Equal(t, "Similar proposal detected: Beta", results[0].Title)
	assert.Contains(t, results[0].Description, "(76% overlap)")
}

func TestSimilarProposalsBelowThreshold(t *testing.T) {
	fx := newFixture()
	shared := words("shared", 18)
	// 18 shared, 3 unique each (title + 2 words): 18/24 = 0.75.
	fx.project(withText("Alpha", shared+" "+words("left", 2)))
	fx.project(withText("Beta", shared+" "+words("right", 2)))

	results, err := (&SimilarProposals{src: fx.store}).Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilarProposalsHighSeverityAndCap(t *testing.T) {
	fx := newFixture()
	text := words("same", 10)
	var ids []uuid.UUID
	for range MaxProposalsPerBucket + 1 {
		ids = append(ids, fx.project(withText("", text)))
	}

	results, err := (&SimilarProposals{src: fx.store}).Detect(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, MaxProposalsPerBucket*(MaxProposalsPerBucket-1))
	for _, r := range results {
		assert.Equal(t, model.SeverityHigh, r.Severity)
		assert.NotEqual(t, ids[MaxProposalsPerBucket], r.ProjectID, "proposals past the cap are never compared")
	}
}

func seedAllRules(fx *fixture) {
	eve := fx.person("Eve")
	for range 3 {
		fx.link(eve, fx.project(withStatus(model.ProjectDelayed)))
	}
	fx.project(withUpdated(daysAgo(150)))
}

func TestRunAllIsIdempotent(t *testing.T) {
	fx := newFixture()
	seedAllRules(fx)
	admin := uuid.New()
	fx.store.AddUser(admin, model.UserRoleAdmin)
	fx.store.AddUser(uuid.New(), model.UserRoleUser)

	svc := New(fx.store, clock, testLogger())
	stats, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Created)
	assert.Equal(t, 0, stats.Skipped)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 3, stats.ByCategory[model.CategoryRepeatDelays])
	assert.Equal(t, 1, stats.ByCategory[model.CategoryGhostProject])
	assert.Equal(t, 0, stats.ByCategory[model.CategorySimilarProposal])
	require.Len(t, stats.ByCategory, 5)

	notes := fx.store.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, admin, notes[0].UserID)
	assert.Equal(t, model.NotificationFlagAlert, notes[0].Type)
	assert.Equal(t, "4 new automated flags detected", notes[0].Title)
	assert.Equal(t, "Automated detection found 4 new flags requiring review. Categories: repeat_delays, ghost_project", notes[0].Message)

	for _, f := range fx.store.Flags() {
		assert.Equal(t, model.FlagPending, f.Status)
		assert.Equal(t, model.FlagAutomated, f.Type)
	}

	again, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
	assert.Equal(t, 4, again.Skipped)
	assert.Len(t, fx.store.Flags(), 4)
	assert.Len(t, fx.store.Notifications(), 1, "no alert when nothing was created")
}

func TestRunAllReopensAfterDismissal(t *testing.T) {
	fx := newFixture()
	fx.project(withUpdated(daysAgo(150)))
	svc := New(fx.store, clock, testLogger())

	_, err := svc.RunAll(context.Background())
	require.NoError(t, err)
	flags := fx.store.Flags()
	require.Len(t, flags, 1)

	st := memstore.New()
	st.SetClock(clock)
	dismissed := flags[0]
	dismissed.Status = model.FlagDismissed
	st.AddFund(fx.fund)
	p := model.Project{ID: dismissed.ProjectID, FundID: fx.fund.ID, FundingStatus: model.FundingFunded, Status: model.ProjectInProgress, UpdatedAt: daysAgo(150)}
	st.AddProject(p)
	st.AddFlag(dismissed)

	stats, err := New(st, clock, testLogger()).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created, "dismissed flags do not block a new one")

	confirmed := dismissed
	confirmed.ID, confirmed.Status = uuid.New(), model.FlagConfirmed
	st2 := memstore.New()
	st2.AddFund(fx.fund)
	st2.AddProject(p)
	st2.AddFlag(confirmed)
	stats, err = New(st2, clock, testLogger()).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
}

func TestRunAllIsolatesDetectorFailure(t *testing.T) {
	fx := newFixture()
	seedAllRules(fx)
	fx.store.FailOn("ListStaleProjects", errors.New("connection reset"))

	stats, err := New(fx.store, clock, testLogger()).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost_project: connection reset"}, stats.Errors)
	assert.Equal(t, 3, stats.Created)
	_, ran := stats.ByCategory[model.CategoryGhostProject]
	assert.False(t, ran)
	assert.Equal(t, 3, stats.ByCategory[model.CategoryRepeatDelays])
}

func TestRunAllIngestFailure(t *testing.T) {
	fx := newFixture()
	seedAllRules(fx)
	fx.store.FailOn("InsertAutomatedFlag", errors.New("disk full"))

	stats, err := New(fx.store, clock, testLogger()).RunAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats.Errors, 2)
	assert.Equal(t, "repeat_delays: disk full", stats.Errors[0])
	assert.Zero(t, stats.Created)
}

func TestRunOne(t *testing.T) {
	fx := newFixture()
	seedAllRules(fx)
	svc := New(fx.store, clock, testLogger())

	results, err := svc.RunOne(context.Background(), model.CategoryRepeatDelays)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Empty(t, fx.store.Flags(), "single detector runs do not ingest")

	_, err = svc.RunOne(context.Background(), "bogus")
	require.ErrorIs(t, err, ErrUnknownDetector)
}

func TestAlertText(t *testing.T) {
	title, msg := alertText(1, []string{"ghost_project"})
	assert.Equal(t, "1 new automated flag detected", title)
	assert.Equal(t, "Automated detection found 1 new flag requiring review. Categories: ghost_project", msg)
}
