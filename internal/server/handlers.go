package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ashita-ai/shinrai/internal/accountability"
	"github.com/ashita-ai/shinrai/internal/detection"
	"github.com/ashita-ai/shinrai/internal/flags"
	"github.com/ashita-ai/shinrai/internal/model"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	detection           *detection.Service
	scores              *accountability.Service
	flags               *flags.Service
	db                  Pinger
	cache               *cache.Cache
	logger              *slog.Logger
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte
	startedAt           time.Time
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	Detection           *detection.Service
	Scores              *accountability.Service
	Flags               *flags.Service
	DB                  Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	CacheTTL            time.Duration
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies. A non-positive
// CacheTTL disables the read cache.
func NewHandlers(d HandlersDeps) *Handlers {
	h := &Handlers{
		detection:           d.Detection,
		scores:              d.Scores,
		flags:               d.Flags,
		db:                  d.DB,
		logger:              d.Logger,
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
		startedAt:           time.Now(),
	}
	if d.CacheTTL > 0 {
		h.cache = cache.New(d.CacheTTL, 2*d.CacheTTL)
	}
	return h
}

// cached serves key from the read cache or fills it with load.
func cached[T any](h *Handlers, key string, load func() (T, error)) (T, error) {
	if h.cache != nil {
		if v, ok := h.cache.Get(key); ok {
			return v.(T), nil
		}
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if h.cache != nil {
		h.cache.SetDefault(key, v)
	}
	return v, nil
}

// invalidateScores drops every cached score read after a write.
func (h *Handlers) invalidateScores() {
	if h.cache != nil {
		h.cache.Flush()
	}
}

// HandleDetect handles POST /v1/flags/detect.
func (h *Handlers) HandleDetect(w http.ResponseWriter, r *http.Request) {
	var req model.DetectRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if req.Category != nil {
		results, err := h.detection.RunOne(r.Context(), *req.Category)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if results == nil {
			results = []model.DetectionResult{}
		}
		writeJSON(w, r, http.StatusOK, model.DetectorRunResponse{
			Category: *req.Category,
			Results:  results,
			Count:    len(results),
		})
		return
	}

	stats, err := h.detection.RunAll(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleListFlags handles GET /v1/flags.
func (h *Handlers) HandleListFlags(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.FlagFilter{
		Status:   model.FlagStatus(q.Get("status")),
		Category: model.FlagCategory(q.Get("category")),
		Type:     model.FlagType(q.Get("type")),
		Limit:    queryInt(r, "limit", 0),
		Offset:   queryInt(r, "offset", 0),
	}
	if v := q.Get("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid project_id: "+v)
			return
		}
		filter.ProjectID = &id
	}

	page, filter, err := h.flags.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.FlagListResponse{
		Flags:  page.Flags,
		Total:  page.Total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Stats:  page.Stats,
	})
}

// HandleCreateFlag handles POST /v1/flags.
func (h *Handlers) HandleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var req model.CreateFlagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	f, err := h.flags.CreateCommunity(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, f)
}

// HandleReviewFlag handles PATCH /v1/flags/{id}.
func (h *Handlers) HandleReviewFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req model.ReviewFlagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	reviewer := ClaimsFromContext(r.Context()).UserID()
	f, err := h.flags.Review(r.Context(), id, req.Status, &reviewer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	// Confirmed flags feed the next recalculation, not stored scores.
	writeJSON(w, r, http.StatusOK, f)
}

// HandleRespondFlag handles POST /v1/flags/{id}/respond.
func (h *Handlers) HandleRespondFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req model.RespondFlagRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	f, err := h.flags.Respond(r.Context(), id, req.Response, req.EvidenceURL)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, f)
}

// HandleRecalculate handles POST /v1/scores/recalculate.
func (h *Handlers) HandleRecalculate(w http.ResponseWriter, r *http.Request) {
	result, err := h.scores.RecalculateAll(r.Context())
	h.invalidateScores()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// HandlePublish handles POST /v1/scores/publish.
func (h *Handlers) HandlePublish(w http.ResponseWriter, r *http.Request) {
	n, err := h.scores.PublishExpired(r.Context())
	h.invalidateScores()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.PublishResponse{Published: n})
}

// HandlePersonScore handles GET /v1/people/{id}/score.
func (h *Handlers) HandlePersonScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	score, err := cached(h, "person:"+id.String(), func() (model.AccountabilityScore, error) {
		return h.scores.PersonScore(r.Context(), id)
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, score)
}

// HandleOrganizationScore handles GET /v1/organizations/{id}/score.
func (h *Handlers) HandleOrganizationScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	score, err := cached(h, "org:"+id.String(), func() (model.OrganizationScore, error) {
		return h.scores.OrganizationScore(r.Context(), id)
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, score)
}

// HandleLeaderboard handles GET /v1/scores/leaderboard.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := cached(h, "leaderboard", func() ([]model.LeaderboardEntry, error) {
		return h.scores.Leaderboard(r.Context())
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, r, http.StatusOK, entries)
}

// HandleSubmitDispute handles POST /v1/disputes.
func (h *Handlers) HandleSubmitDispute(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitDisputeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	userID := ClaimsFromContext(r.Context()).UserID()
	d, err := h.scores.SubmitDispute(r.Context(), req.ScoreID, userID, req.Reason, req.Evidence)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidateScores()
	writeJSON(w, r, http.StatusCreated, d)
}

// HandleReviewDispute handles PATCH /v1/disputes/{id}.
func (h *Handlers) HandleReviewDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req model.ReviewDisputeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	reviewer := ClaimsFromContext(r.Context()).UserID()
	d, err := h.scores.ReviewDispute(r.Context(), id, reviewer, req.Status, req.Notes)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.invalidateScores()
	writeJSON(w, r, http.StatusOK, d)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "not_configured"
	status := "healthy"
	httpStatus := http.StatusOK

	if h.db != nil {
		pgStatus = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			pgStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// writeServiceError maps domain sentinels onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, err.Error())
	case errors.Is(err, model.ErrInvalidInput), errors.Is(err, detection.ErrUnknownDetector):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrScoreNotInPreview),
		errors.Is(err, model.ErrDuplicateDispute),
		errors.Is(err, model.ErrDisputeNotPending),
		errors.Is(err, model.ErrFlagNotPending):
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, err.Error())
	default:
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
			"error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
	}
}

// --- Shared helpers ---

func pathUUID(w http.ResponseWriter, r *http.Request, key string) (uuid.UUID, bool) {
	v := r.PathValue(key)
	id, err := uuid.Parse(v)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, fmt.Sprintf("invalid %s: %s", key, v))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}
