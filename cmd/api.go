package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/cost"
	"github.com/sells-group/postpilot/internal/lifecycle"
	"github.com/sells-group/postpilot/internal/model"
	"github.com/sells-group/postpilot/internal/router"
	"github.com/sells-group/postpilot/internal/store"
)

// maxSlotPreview caps GET /schedule/slots.
const maxSlotPreview = 50

// reviewService is the lifecycle surface exposed over HTTP. Implemented by
// *lifecycle.Manager.
type reviewService interface {
	Pending(ctx context.Context) ([]model.GeneratedPost, error)
	Scheduled(ctx context.Context) ([]model.GeneratedPost, error)
	Approve(ctx context.Context, id, note string) (*model.GeneratedPost, error)
	Edit(ctx context.Context, id, content string, approveAfter bool) (*model.GeneratedPost, error)
	Reject(ctx context.Context, id, reason string) (*model.GeneratedPost, error)
	MarkForRegeneration(ctx context.Context, id, reason string) (*model.GeneratedPost, error)
	MarkPosted(ctx context.Context, id string, at time.Time) (*model.GeneratedPost, error)
	AutoApprove(ctx context.Context, minScore float64) (int, error)
	OpenSlots(ctx context.Context, n int) ([]time.Time, error)
}

// postReader is the read side of store.Store.
type postReader interface {
	GetPost(ctx context.Context, id string) (*model.GeneratedPost, error)
	ListPosts(ctx context.Context, filter store.PostFilter) ([]model.GeneratedPost, error)
}

// pipelineService is implemented by *pipeline.Orchestrator.
type pipelineService interface {
	DailyRun(ctx context.Context) (*model.RunStats, error)
	GenerateEmergencyPost(ctx context.Context, topic, urgency string) (*model.GeneratedPost, error)
	Stats(ctx context.Context, days int) (*model.PipelineStats, error)
}

// costService is implemented by *cost.Ledger.
type costService interface {
	UsageStats(ctx context.Context, days int) (*cost.UsageStats, error)
	MonthlyCosts(ctx context.Context) (*cost.MonthlyReport, error)
	Recommendations(ctx context.Context) ([]cost.Recommendation, error)
}

// modelStatuser is implemented by *router.Router.
type modelStatuser interface {
	Status(ctx context.Context) ([]router.ModelStatus, error)
}

// runReporter is implemented by *monitoring.Alerter.
type runReporter interface {
	ReportRun(ctx context.Context, stats *model.RunStats)
}

// apiHandler serves the review API.
type apiHandler struct {
	review   reviewService
	posts    postReader
	pipeline pipelineService
	costs    costService
	models   modelStatuser
	reporter runReporter

	// runCtx outlives requests so background runs survive the response.
	runCtx context.Context
}

func newAPIHandler(ctx context.Context, env *appEnv) *apiHandler {
	return &apiHandler{
		review:   env.Lifecycle,
		posts:    env.Store,
		pipeline: env.Pipeline,
		costs:    env.Ledger,
		models:   env.Router,
		reporter: env.Alerter,
		runCtx:   ctx,
	}
}

// newRouter mounts health, metrics and the versioned API.
func newRouter(h *apiHandler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/posts", h.listPosts)
		r.Get("/posts/pending", h.pendingPosts)
		r.Get("/posts/scheduled", h.scheduledPosts)
		r.Post("/posts/auto-approve", h.autoApprove)
		r.Get("/posts/{id}", h.getPost)
		r.Post("/posts/{id}/approve", h.approvePost)
		r.Post("/posts/{id}/edit", h.editPost)
		r.Post("/posts/{id}/reject", h.rejectPost)
		r.Post("/posts/{id}/regenerate", h.regeneratePost)
		r.Post("/posts/{id}/posted", h.markPosted)
		r.Get("/schedule/slots", h.openSlots)

		r.Post("/runs", h.startRun)
		r.Post("/emergency", h.emergencyPost)
		r.Get("/stats", h.pipelineStats)
		r.Get("/models", h.modelStatus)

		r.Get("/costs/stats", h.costStats)
		r.Get("/costs/monthly", h.monthlyCosts)
		r.Get("/costs/recommendations", h.recommendations)
	})
	return r
}

func (h *apiHandler) listPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.PostFilter{
		Limit:  queryInt(q.Get("limit"), 50),
		Offset: queryInt(q.Get("offset"), 0),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Statuses = append(filter.Statuses, model.PostStatus(strings.TrimSpace(s)))
		}
	}
	posts, err := h.posts.ListPosts(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *apiHandler) pendingPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.review.Pending(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *apiHandler) scheduledPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.review.Scheduled(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *apiHandler) openSlots(w http.ResponseWriter, r *http.Request) {
	n := min(queryInt(r.URL.Query().Get("count"), 5), maxSlotPreview)
	slots, err := h.review.OpenSlots(r.Context(), n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (h *apiHandler) getPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.GetPost(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type reviewRequest struct {
	Note     string     `json:"note"`
	Reason   string     `json:"reason"`
	Content  string     `json:"content"`
	Approve  bool       `json:"approve"`
	MinScore float64    `json:"min_score"`
	PostedAt *time.Time `json:"posted_at"`
}

func (h *apiHandler) approvePost(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.respondPost(w)(h.review.Approve(r.Context(), chi.URLParam(r, "id"), req.Note))
}

func (h *apiHandler) editPost(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "content is required")
		return
	}
	p, err := h.review.Edit(r.Context(), chi.URLParam(r, "id"), req.Content, req.Approve)
	if err != nil && p == nil {
		writeDomainError(w, err)
		return
	}
	resp := editResponse{Post: p}
	if err != nil {
		// The edit is saved; only the requested approval was refused.
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type editResponse struct {
	Post    *model.GeneratedPost `json:"post"`
	Warning string               `json:"warning,omitempty"`
}

func (h *apiHandler) rejectPost(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.respondPost(w)(h.review.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (h *apiHandler) regeneratePost(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	h.respondPost(w)(h.review.MarkForRegeneration(r.Context(), chi.URLParam(r, "id"), req.Reason))
}

func (h *apiHandler) markPosted(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	at := time.Now()
	if req.PostedAt != nil {
		at = *req.PostedAt
	}
	h.respondPost(w)(h.review.MarkPosted(r.Context(), chi.URLParam(r, "id"), at))
}

func (h *apiHandler) autoApprove(w http.ResponseWriter, r *http.Request) {
	req := reviewRequest{MinScore: 8.0}
	if !decodeOptional(w, r, &req) {
		return
	}
	n, err := h.review.AutoApprove(r.Context(), req.MinScore)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": n, "min_score": req.MinScore})
}

func (h *apiHandler) respondPost(w http.ResponseWriter) func(*model.GeneratedPost, error) {
	return func(p *model.GeneratedPost, err error) {
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// startRun launches a daily run in the background and returns immediately.
func (h *apiHandler) startRun(w http.ResponseWriter, _ *http.Request) {
	go func() {
		stats, err := h.pipeline.DailyRun(h.runCtx)
		if stats != nil && h.reporter != nil {
			h.reporter.ReportRun(h.runCtx, stats)
		}
		if err != nil {
			zap.L().Error("api: daily run failed", zap.Error(err))
			return
		}
		zap.L().Info("api: daily run complete",
			zap.String("run_id", stats.RunID),
			zap.Int("generated", stats.PostsGenerated),
			zap.Bool("success", stats.Success),
		)
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *apiHandler) emergencyPost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic   string `json:"topic"`
		Urgency string `json:"urgency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "topic is required")
		return
	}
	p, err := h.pipeline.GenerateEmergencyPost(r.Context(), req.Topic, req.Urgency)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if p == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "needs_review"})
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *apiHandler) pipelineStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.pipeline.Stats(r.Context(), queryInt(r.URL.Query().Get("days"), 7))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *apiHandler) modelStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.models.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (h *apiHandler) costStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.costs.UsageStats(r.Context(), queryInt(r.URL.Query().Get("days"), 7))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *apiHandler) monthlyCosts(w http.ResponseWriter, r *http.Request) {
	m, err := h.costs.MonthlyCosts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *apiHandler) recommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.costs.Recommendations(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recs == nil {
		recs = []cost.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
		return false
	}
	return true
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// mapDomainError translates package errors to HTTP status and error code.
func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "post not found"
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, store.ErrStaleWrite):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, lifecycle.ErrQualityTooLow), errors.Is(err, lifecycle.ErrContentPolicyViolation):
		return http.StatusUnprocessableEntity, "QUALITY_REJECTED", err.Error()
	case errors.Is(err, router.ErrNoModelsAvailable), errors.Is(err, router.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "no language model available"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, msg := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Int("status", status), zap.Error(err))
	}
	writeError(w, status, code, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": msg},
	})
}

// requestLogger logs one line per request through zap.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
