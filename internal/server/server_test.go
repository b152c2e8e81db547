package server_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/shinrai/internal/accountability"
	"github.com/ashita-ai/shinrai/internal/auth"
	"github.com/ashita-ai/shinrai/internal/detection"
	"github.com/ashita-ai/shinrai/internal/flags"
	"github.com/ashita-ai/shinrai/internal/memstore"
	"github.com/ashita-ai/shinrai/internal/model"
	"github.com/ashita-ai/shinrai/internal/ratelimit"
	"github.com/ashita-ai/shinrai/internal/server"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type env struct {
	store   *memstore.Store
	srv     *httptest.Server
	admin   string
	reader  string
	person  uuid.UUID
	project uuid.UUID
}

type options struct {
	limiter  ratelimit.Limiter
	cacheTTL time.Duration
	spec     []byte
}

func setup(t *testing.T, opts options) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return now }

	st := memstore.New()
	st.SetClock(clock)
	fund := model.Fund{ID: uuid.New(), Name: "Fund 10", Number: 10}
	st.AddFund(fund)
	e := &env{store: st, person: uuid.New(), project: uuid.New()}
	st.AddPerson(model.Person{ID: e.person, Name: "Dana"})
	st.AddProject(model.Project{
		ID: e.project, FundID: fund.ID, Title: "Open Ledger",
		FundingStatus: model.FundingFunded, Status: model.ProjectCompleted,
	})
	st.LinkPerson(model.ProjectPerson{ProjectID: e.project, PersonID: e.person, IsPrimary: true})
	st.AddReports(e.project, 4)

	jwtMgr, err := auth.NewJWTManager("", "", time.Hour, logger)
	require.NoError(t, err)
	e.admin, _, err = jwtMgr.IssueToken(uuid.New(), "admin", model.RoleAdmin)
	require.NoError(t, err)
	e.reader, _, err = jwtMgr.IssueToken(uuid.New(), "reader", model.RoleReader)
	require.NoError(t, err)

	srv := server.New(server.ServerConfig{
		Detection:           detection.New(st, clock, logger),
		Accountability:      accountability.New(st, logger, accountability.WithClock(clock)),
		Flags:               flags.New(st, clock, logger),
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Limiter:             opts.limiter,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 10,
		CacheTTL:            opts.cacheTTL,
		OpenAPISpec:         opts.spec,
	})
	e.srv = httptest.NewServer(srv.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

type envelope struct {
	Data  json.RawMessage   `json:"data"`
	Error model.ErrorDetail `json:"error"`
	Meta  model.ResponseMeta
}

func (e *env) do(t *testing.T, method, path, token string, body any) (*http.Response, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	}
	return resp, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	e := setup(t, options{})
	resp, body := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, resp.Header.Get("X-Request-ID"), body.Meta.RequestID)

	health := decode[model.HealthResponse](t, body.Data)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "not_configured", health.Postgres)
	assert.Equal(t, "test", health.Version)
}

func TestOpenAPISpec(t *testing.T) {
	e := setup(t, options{spec: []byte("openapi: 3.1.0\n")})
	resp, _ := e.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	bare := setup(t, options{})
	resp, _ = bare.do(t, http.MethodGet, "/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthAndRoles(t *testing.T) {
	e := setup(t, options{})

	resp, body := e.do(t, http.MethodGet, "/v1/flags", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrCodeUnauthorized, body.Error.Code)

	resp, _ = e.do(t, http.MethodGet, "/v1/flags", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/v1/scores/recalculate", e.reader, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, model.ErrCodeForbidden, body.Error.Code)

	resp, _ = e.do(t, http.MethodGet, "/v1/flags", e.reader, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/v1/flags", e.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDetect(t *testing.T) {
	e := setup(t, options{})

	resp, body := e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[model.DetectionStats](t, body.Data)
	assert.Zero(t, stats.Created)
	assert.Empty(t, stats.Errors)

	category := model.CategoryRepeatDelays
	resp, body = e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, model.DetectRequest{Category: &category})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	one := decode[model.DetectorRunResponse](t, body.Data)
	assert.Equal(t, category, one.Category)
	assert.Equal(t, 0, one.Count)
	assert.NotNil(t, one.Results)

	unknown := model.FlagCategory("astrology")
	resp, body = e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, model.DetectRequest{Category: &unknown})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, model.ErrCodeInvalidInput, body.Error.Code)

	resp, _ = e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, map[string]any{"categry": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDetectIsRateLimited(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.001, 1)
	t.Cleanup(func() { _ = limiter.Close() })
	e := setup(t, options{limiter: limiter})

	resp, _ := e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := e.do(t, http.MethodPost, "/v1/flags/detect", e.admin, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "10", resp.Header.Get("Retry-After"))

	// Reads are not throttled.
	resp, _ = e.do(t, http.MethodGet, "/v1/flags", e.admin, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFlagReviewFlow(t *testing.T) {
	e := setup(t, options{})
	flagID := uuid.New()
	e.store.AddFlag(model.Flag{
		ID: flagID, ProjectID: e.project, Type: model.FlagAutomated,
		Category: model.CategoryGhostProject, Severity: model.SeverityHigh,
		Status: model.FlagPending, Title: "Potential ghost project",
		Metadata: map[string]any{}, CreatedAt: now, UpdatedAt: now,
	})

	resp, body := e.do(t, http.MethodGet, "/v1/flags?status=pending&limit=10", e.reader, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[model.FlagListResponse](t, body.Data)
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 10, list.Limit)
	require.Len(t, list.Flags, 1)
	assert.Equal(t, flagID, list.Flags[0].ID)

	resp, _ = e.do(t, http.MethodGet, "/v1/flags?project_id=nope", e.reader, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/v1/flags/"+flagID.String()+"/respond", e.reader,
		model.RespondFlagRequest{Response: "We shipped last week."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	responded := decode[model.Flag](t, body.Data)
	assert.Contains(t, responded.Metadata, "proposerResponse")

	resp, body = e.do(t, http.MethodPatch, "/v1/flags/"+flagID.String(), e.admin,
		model.ReviewFlagRequest{Status: model.FlagDismissed})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reviewed := decode[model.Flag](t, body.Data)
	assert.Equal(t, model.FlagDismissed, reviewed.Status)
	assert.NotNil(t, reviewed.ReviewedAt)

	resp, body = e.do(t, http.MethodPatch, "/v1/flags/"+flagID.String(), e.admin,
		model.ReviewFlagRequest{Status: model.FlagConfirmed})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.ErrCodeConflict, body.Error.Code)

	resp, _ = e.do(t, http.MethodPost, "/v1/flags/"+flagID.String()+"/respond", e.reader,
		model.RespondFlagRequest{Response: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/v1/flags/"+uuid.NewString(), e.admin,
		model.ReviewFlagRequest{Status: model.FlagConfirmed})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/v1/flags/not-a-uuid", e.admin,
		model.ReviewFlagRequest{Status: model.FlagConfirmed})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateCommunityFlag(t *testing.T) {
	e := setup(t, options{})

	resp, body := e.do(t, http.MethodPost, "/v1/flags", e.reader, model.CreateFlagRequest{
		ProjectID: e.project, Category: "misleading_claims",
		Title: "Demo does not match report", Description: "The linked demo 404s.",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	f := decode[model.Flag](t, body.Data)
	assert.Equal(t, model.FlagCommunity, f.Type)
	assert.Equal(t, model.SeverityMedium, f.Severity)

	resp, _ = e.do(t, http.MethodPost, "/v1/flags", e.reader, model.CreateFlagRequest{ProjectID: e.project})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScoresAndDisputes(t *testing.T) {
	e := setup(t, options{cacheTTL: time.Minute})

	resp, _ := e.do(t, http.MethodGet, "/v1/people/"+e.person.String()+"/score", e.reader, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/v1/scores/recalculate", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	batch := decode[model.BatchResult](t, body.Data)
	assert.Equal(t, model.BatchResult{Processed: 1, Errors: 0}, batch)

	resp, body = e.do(t, http.MethodGet, "/v1/people/"+e.person.String()+"/score", e.reader, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	score := decode[model.AccountabilityScore](t, body.Data)
	assert.Equal(t, model.ScorePreview, score.Status)

	resp, body = e.do(t, http.MethodGet, "/v1/scores/leaderboard", e.reader, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	board := decode[[]model.LeaderboardEntry](t, body.Data)
	require.Len(t, board, 1)
	assert.Equal(t, "Dana", board[0].PersonName)

	resp, body = e.do(t, http.MethodPost, "/v1/disputes", e.reader,
		model.SubmitDisputeRequest{ScoreID: score.ID, Reason: "Reports were filed late by the fund, not by me."})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dispute := decode[model.ScoreDispute](t, body.Data)
	assert.Equal(t, model.DisputePending, dispute.Status)

	// The cached preview score must not outlive the dispute.
	_, body = e.do(t, http.MethodGet, "/v1/people/"+e.person.String()+"/score", e.reader, nil)
	assert.Equal(t, model.ScoreDisputed, decode[model.AccountabilityScore](t, body.Data).Status)

	resp, _ = e.do(t, http.MethodPost, "/v1/disputes", e.reader,
		model.SubmitDisputeRequest{ScoreID: score.ID, Reason: "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/v1/disputes/"+dispute.ID.String(), e.reader,
		model.ReviewDisputeRequest{Status: model.DisputeApproved})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, "/v1/disputes/"+dispute.ID.String(), e.admin,
		model.ReviewDisputeRequest{Status: model.DisputeApproved})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.DisputeApproved, decode[model.ScoreDispute](t, body.Data).Status)

	_, body = e.do(t, http.MethodGet, "/v1/people/"+e.person.String()+"/score", e.reader, nil)
	assert.Equal(t, model.ScorePublished, decode[model.AccountabilityScore](t, body.Data).Status)

	resp, body = e.do(t, http.MethodPost, "/v1/scores/publish", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[model.PublishResponse](t, body.Data).Published)
}

func TestOrganizationScore(t *testing.T) {
	e := setup(t, options{})
	org := uuid.New()
	e.store.AddOrganization(model.Organization{ID: org, Name: "Builders"}, e.person)
	e.store.LinkOrganizationProject(org, e.project)

	resp, _ := e.do(t, http.MethodPost, "/v1/scores/recalculate", e.admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/v1/organizations/"+org.String()+"/score", e.reader, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sc := decode[model.OrganizationScore](t, body.Data)
	assert.Equal(t, org, sc.OrganizationID)

	resp, _ = e.do(t, http.MethodGet, "/v1/organizations/"+uuid.NewString()+"/score", e.reader, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestBodyLimit(t *testing.T) {
	e := setup(t, options{})
	resp, body := e.do(t, http.MethodPost, "/v1/flags/"+uuid.NewString()+"/respond", e.reader,
		model.RespondFlagRequest{Response: string(bytes.Repeat([]byte("x"), 4096))})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body.Error.Message, "exceeds")
}
