// Package server exposes the trust core over HTTP: trust scoring, mode
// selection, escalation lifecycle, bid submission, and the resolver registry.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/industriverse/trustcore/audit"
	"github.com/industriverse/trustcore/directory"
	"github.com/industriverse/trustcore/escalation"
	"github.com/industriverse/trustcore/market"
	"github.com/industriverse/trustcore/mode"
	"github.com/industriverse/trustcore/trust"
	"github.com/industriverse/trustcore/types"
)

// Components are the wired core collaborators the server fronts.
type Components struct {
	Selector    *mode.Selector
	Coordinator *escalation.Coordinator
	Market      *market.Market
	Directory   *directory.Static
	Audit       *audit.Recorder      // optional; nil disables /v1/audit
	Gatherer    prometheus.Gatherer  // optional; nil disables /metrics
	Logger      *slog.Logger
}

// Server is the HTTP frontend.
type Server struct {
	components Components
	logger     *slog.Logger
	router     *gin.Engine
}

// New builds the server and its route table.
func New(c Components) (*Server, error) {
	if c.Selector == nil || c.Coordinator == nil || c.Market == nil || c.Directory == nil {
		return nil, errors.New("server requires selector, coordinator, market, and directory")
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{components: c, logger: logger, router: router}
	s.routes()
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	if s.components.Gatherer != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			s.components.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.router.Group("/v1")
	{
		v1.POST("/trust/score", s.handleTrustScore)

		v1.POST("/mode/select", s.handleModeSelect)
		v1.GET("/mode/:taskID", s.handleModeCurrent)
		v1.GET("/mode/:taskID/history", s.handleModeHistory)

		v1.POST("/escalations", s.handleEscalationEvaluate)
		v1.GET("/escalations", s.handleEscalationList)
		v1.GET("/escalations/:id", s.handleEscalationGet)
		v1.DELETE("/escalations/:id", s.handleEscalationCancel)
		v1.POST("/escalations/:id/resolve", s.handleEscalationResolve)

		v1.POST("/bids", s.handleBidSubmit)

		v1.POST("/resolvers", s.handleResolverRegister)
		v1.GET("/resolvers/:id", s.handleResolverGet)
		v1.DELETE("/resolvers/:id", s.handleResolverRemove)
		v1.POST("/outcomes", s.handleOutcomeRecord)

		if s.components.Audit != nil {
			v1.GET("/audit", s.handleAuditTrail)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ─── Trust & mode ────────────────────────────────────────────────────────────

type trustScoreRequest struct {
	Factors []types.TrustFactor `json:"factors" binding:"required"`
}

func (s *Server) handleTrustScore(c *gin.Context) {
	var req trustScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	score, err := trust.Compute(req.Factors)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"score":         score,
		"band":          trust.BandOf(score.Value),
		"contributions": trust.Contributions(req.Factors),
	})
}

func (s *Server) handleModeSelect(c *gin.Context) {
	var ec types.ExecutionContext
	if err := c.ShouldBindJSON(&ec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	selected, explanation, err := s.components.Selector.Select(c.Request.Context(), ec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mode.ErrMissingContext) {
			status = http.StatusBadRequest
		} else if errors.Is(err, trust.ErrInvalidWeighting) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": selected, "explanation": explanation})
}

func (s *Server) handleModeCurrent(c *gin.Context) {
	taskID := c.Param("taskID")
	current, ok := s.components.Selector.Current(taskID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no mode selected for task " + taskID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": taskID, "mode": current})
}

func (s *Server) handleModeHistory(c *gin.Context) {
	taskID := c.Param("taskID")
	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"history": s.components.Selector.History(taskID),
	})
}

// ─── Escalations ─────────────────────────────────────────────────────────────

type evaluateRequest struct {
	TaskID  string               `json:"task_id" binding:"required"`
	Signals types.RuntimeSignals `json:"signals"`
}

func (s *Server) handleEscalationEvaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, fired, err := s.components.Coordinator.Evaluate(c.Request.Context(), req.TaskID, req.Signals)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !fired {
		c.JSON(http.StatusOK, gin.H{"triggered": false})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"triggered": true, "instance": inst})
}

func (s *Server) handleEscalationList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"instances": s.components.Coordinator.List()})
}

func (s *Server) handleEscalationGet(c *gin.Context) {
	id := c.Param("id")
	inst, ok := s.components.Coordinator.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "escalation instance not found: " + id})
		return
	}
	response := gin.H{"instance": inst}
	if assignment, assigned := s.components.Coordinator.Assignment(id); assigned {
		response["assignment"] = assignment
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) handleEscalationCancel(c *gin.Context) {
	inst, err := s.components.Coordinator.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(escalationErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

func (s *Server) handleEscalationResolve(c *gin.Context) {
	inst, err := s.components.Coordinator.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(escalationErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"instance": inst})
}

func escalationErrorStatus(err error) int {
	switch {
	case errors.Is(err, escalation.ErrInstanceNotFound):
		return http.StatusNotFound
	case errors.Is(err, escalation.ErrInstanceTerminal),
		errors.Is(err, escalation.ErrNotAssigned):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ─── Bids ────────────────────────────────────────────────────────────────────

type bidSubmission struct {
	RequestID                     string  `json:"request_id" binding:"required"`
	ResolverID                    string  `json:"resolver_id" binding:"required"`
	AvailabilityScore             float64 `json:"availability_score"`
	ResponseTimeCommitmentSeconds int64   `json:"response_time_commitment_seconds"`
	ConfidenceScore               float64 `json:"confidence_score"`
}

func (s *Server) handleBidSubmit(c *gin.Context) {
	var req bidSubmission
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// The capability match is computed here from the registered profile, not
	// taken from the caller: a bidder must not be able to inflate its own score.
	open, ok := s.components.Market.OpenRequest(req.RequestID)
	if !ok {
		c.JSON(http.StatusGone, gin.H{"error": market.ErrBidTooLate.Error()})
		return
	}
	profile, err := s.components.Directory.Get(req.ResolverID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	err = s.components.Market.SubmitBid(req.RequestID, types.Bid{
		ResolverID:                    req.ResolverID,
		CapabilityMatchScore:          market.CapabilityMatchScore(open.RequiredCapabilities, profile.Capabilities),
		AvailabilityScore:             req.AvailabilityScore,
		ResponseTimeCommitmentSeconds: req.ResponseTimeCommitmentSeconds,
		ConfidenceScore:               req.ConfidenceScore,
	})
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, market.ErrBidTooLate) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// ─── Resolver registry ───────────────────────────────────────────────────────

type resolverRegistration struct {
	Profile types.ResolverProfile `json:"profile" binding:"required"`
	Groups  []string              `json:"groups"`
}

func (s *Server) handleResolverRegister(c *gin.Context) {
	var req resolverRegistration
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.components.Directory.Register(req.Profile, req.Groups...); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"resolver_id": req.Profile.ResolverID})
}

func (s *Server) handleResolverGet(c *gin.Context) {
	profile, err := s.components.Directory.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

func (s *Server) handleResolverRemove(c *gin.Context) {
	s.components.Directory.Remove(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleOutcomeRecord(c *gin.Context) {
	var record types.OutcomeRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.components.Directory.RecordOutcome(record); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, directory.ErrResolverNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

// ─── Audit ───────────────────────────────────────────────────────────────────

func (s *Server) handleAuditTrail(c *gin.Context) {
	entries := s.components.Audit.Entries()
	if taskID := c.Query("task_id"); taskID != "" {
		entries = s.components.Audit.EntriesForTask(taskID)
	}
	c.JSON(http.StatusOK, gin.H{
		"entries":          entries,
		"chain_intact":     s.components.Audit.Verify() == -1,
		"first_corruption": s.components.Audit.Verify(),
	})
}
