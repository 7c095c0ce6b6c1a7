package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/internal/insights"
	"github.com/celerix-dev/celerix-enrich/internal/records"
	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/internal/triage"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// OperatorHeader carries the operator name on every mutating request.
const OperatorHeader = "X-Operator"

type Handler struct {
	Triage   *triage.Queue
	Sessions *review.Registry
	Review   review.Deps
	Insights *insights.Service
	Records  *records.Service
	Logger   *zap.Logger
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/triage/stats", h.TriageStats)
	r.GET("/triage/next/:field", h.TriageNext)
	r.POST("/triage/fix", h.TriageFix)

	r.POST("/review/sessions", h.StartReview)
	r.GET("/review/sessions/:id", h.CurrentReview)
	r.POST("/review/sessions/:id/skip", h.SkipReview)
	r.POST("/review/sessions/:id/save", h.SaveReview)
	r.DELETE("/review/sessions/:id", h.EndReview)

	r.GET("/insights/overview", h.Overview)
	r.GET("/insights/batches", h.Batches)
	r.GET("/insights/owners", h.Owners)
	r.GET("/insights/ops", h.Ops)
	r.GET("/insights/profiles", h.Profiles)
	r.GET("/insights/leaderboard", h.Leaderboard)
	r.GET("/insights/quality", h.Quality)
	r.GET("/insights/persona", h.Persona)

	r.GET("/records/search", h.Search)
	r.PATCH("/records/:email", h.Edit)
	r.POST("/records/:email/rerun", h.Rerun)
}

func operator(c *gin.Context) schema.Operator {
	return schema.Operator{Name: c.GetHeader(OperatorHeader)}
}

// statusFor maps service errors onto HTTP codes.
func statusFor(err error) int {
	var werr *engine.WriteError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, triage.ErrUnknownField),
		errors.Is(err, schema.ErrNotEditable),
		errors.Is(err, records.ErrEmailRequired):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrBusy), errors.Is(err, review.ErrComplete):
		return http.StatusConflict
	case errors.As(err, &werr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *Handler) TriageStats(c *gin.Context) {
	stats, err := h.Triage.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) TriageNext(c *gin.Context) {
	field, err := triage.ParseField(c.Param("field"))
	if err != nil {
		h.fail(c, err)
		return
	}
	rec, err := h.Triage.Next(c.Request.Context(), field)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) TriageFix(c *gin.Context) {
	var input struct {
		Email string `json:"email" binding:"required"`
		Field string `json:"field" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	field, err := triage.ParseField(input.Field)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Triage.ApplyFix(c.Request.Context(), operator(c), input.Email, field, input.Value); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type reviewView struct {
	ID       string          `json:"id"`
	Progress review.Progress `json:"progress"`
	Item     *review.Item    `json:"item,omitempty"`
}

func view(id string, s *review.Session) reviewView {
	v := reviewView{ID: id, Progress: s.Progress()}
	if item, ok := s.Current(); ok {
		v.Item = &item
	}
	return v
}

func (h *Handler) StartReview(c *gin.Context) {
	var input struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := review.Load(c.Request.Context(), h.Review, operator(c), input.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	id := h.Sessions.Add(s)
	c.JSON(http.StatusCreated, view(id, s))
}

func (h *Handler) session(c *gin.Context) (string, *review.Session, bool) {
	id := c.Param("id")
	s, err := h.Sessions.Get(id)
	if err != nil {
		h.fail(c, err)
		return "", nil, false
	}
	return id, s, true
}

func (h *Handler) CurrentReview(c *gin.Context) {
	id, s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, view(id, s))
}

func (h *Handler) SkipReview(c *gin.Context) {
	id, s, ok := h.session(c)
	if !ok {
		return
	}
	if err := s.Skip(); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view(id, s))
}

func (h *Handler) SaveReview(c *gin.Context) {
	id, s, ok := h.session(c)
	if !ok {
		return
	}
	var input struct {
		Form review.Form `json:"form"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Save(c.Request.Context(), input.Form); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view(id, s))
}

func (h *Handler) EndReview(c *gin.Context) {
	h.Sessions.Remove(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// respond writes v, or the mapped error.
func (h *Handler) respond(c *gin.Context, v any, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) Overview(c *gin.Context) {
	v, err := h.Insights.Overview(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Batches(c *gin.Context) {
	v, err := h.Insights.Batches(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Owners(c *gin.Context) {
	v, err := h.Insights.Owners(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Ops(c *gin.Context) {
	v, err := h.Insights.Ops(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Profiles(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return
	}
	v, err := h.Insights.Profiles(c.Request.Context(), limit)
	h.respond(c, v, err)
}

func (h *Handler) Leaderboard(c *gin.Context) {
	v, err := h.Insights.Leaderboard(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Quality(c *gin.Context) {
	v, err := h.Insights.Quality(c.Request.Context(), c.Query("probability"))
	h.respond(c, v, err)
}

func (h *Handler) Persona(c *gin.Context) {
	v, err := h.Insights.Persona(c.Request.Context())
	h.respond(c, v, err)
}

func (h *Handler) Search(c *gin.Context) {
	recs, err := h.Records.Search(c.Request.Context(), c.Query("q"))
	if recs == nil {
		recs = []schema.Record{}
	}
	h.respond(c, recs, err)
}

func (h *Handler) Edit(c *gin.Context) {
	var patch schema.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Records.Edit(c.Request.Context(), operator(c), c.Param("email"), patch); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) Rerun(c *gin.Context) {
	if err := h.Records.Rerun(c.Request.Context(), operator(c), c.Param("email")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// RequestLogger logs one line per request through zap.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("operator", c.GetHeader(OperatorHeader)),
		)
	}
}
