package shinrai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shinrai/internal/accountability"
	"github.com/ashita-ai/shinrai/internal/auth"
	"github.com/ashita-ai/shinrai/internal/memstore"
	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/server"
)

func TestResolveDefaults(t *testing.T) {
	o := resolve(nil)
	assert.Equal(t, "dev", o.version)
	assert.NotNil(t, o.logger)
	assert.NotNil(t, o.now)
	assert.True(t, o.serveHTTP)

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o = resolve([]Option{
		WithPort(9090),
		WithDatabaseURL("postgres://x"),
		WithVersion("1.2.3"),
		WithClock(func() time.Time { return fixed }),
		WithoutHTTP(),
	})
	assert.Equal(t, 9090, o.port)
	assert.Equal(t, "postgres://x", o.databaseURL)
	assert.Equal(t, "1.2.3", o.version)
	assert.Equal(t, fixed, o.now())
	assert.False(t, o.serveHTTP)
}

func TestEveryRunsUntilCancelled(t *testing.T) {
	a := &App{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		a.every(ctx, "test", 5*time.Millisecond, func(context.Context) error {
			if calls.Add(1)%2 == 0 {
				return errors.New("boom")
			}
			return nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestEveryDisabledByZeroInterval(t *testing.T) {
	a := &App{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	called := false
	a.every(context.Background(), "off", 0, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
}

func TestStopLoopsWaitsForRunInProgress(t *testing.T) {
	a := &App{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	var started, finished atomic.Bool
	stop := a.startLoops(context.Background(),
		loop{"slow", time.Millisecond, func(ctx context.Context) error {
			started.Store(true)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		}},
		loop{"off", 0, func(context.Context) error { return nil }},
	)

	require.Eventually(t, started.Load, time.Second, time.Millisecond)
	stop()
	assert.True(t, finished.Load(), "stop returned while a run was still using its connections")
	stop()
}

func TestScheduledRecalculationFlushesScoreCache(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	st := memstore.New()
	st.SetClock(clock)
	fund := model.Fund{ID: uuid.New(), Name: "Fund 10", Number: 10}
	st.AddFund(fund)
	person, project := uuid.New(), uuid.New()
	st.AddPerson(model.Person{ID: person, Name: "Dana"})
	st.AddProject(model.Project{
		ID: project, FundID: fund.ID, Title: "Open Ledger",
		FundingStatus: model.FundingFunded, Status: model.ProjectCompleted,
	})
	st.LinkPerson(model.ProjectPerson{ProjectID: project, PersonID: person, IsPrimary: true})
	st.AddReports(project, 4)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour, logger)
	require.NoError(t, err)
	token, _, err := jwtMgr.IssueToken(uuid.New(), "reader", model.RoleReader)
	require.NoError(t, err)

	scores := accountability.New(st, logger, accountability.WithClock(clock))
	srv := server.New(server.ServerConfig{
		Accountability: scores,
		JWTMgr:         jwtMgr,
		Logger:         logger,
		CacheTTL:       time.Hour,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	a := &App{srv: srv, scores: scores, logger: logger}

	overall := func() int {
		t.Helper()
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/people/"+person.String()+"/score", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Data model.AccountabilityScore `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		return body.Data.OverallScore
	}

	ctx := context.Background()
	_, err = a.Recalculate(ctx)
	require.NoError(t, err)
	before := overall()

	st.AddFlag(model.Flag{
		ID: uuid.New(), ProjectID: project, Type: model.FlagAutomated,
		Category: model.CategoryGhostProject, Severity: model.SeverityCritical,
		Status: model.FlagConfirmed, Title: "Potential ghost project",
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	})

	// A write that skips the App leaves the cached read in place.
	_, err = scores.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, overall())

	_, err = a.Recalculate(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-25, overall())

	_, err = a.Publish(ctx)
	require.NoError(t, err)
}
