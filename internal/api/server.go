// Package api serves the platform operations over HTTP and streams the
// live activity feed over websocket.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"agent-engine/internal/engine"
	"agent-engine/internal/observability"
	"agent-engine/internal/scheduler"
	"agent-engine/internal/settlement"
	"agent-engine/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server wires the engine and scheduler into HTTP handlers.
type Server struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	hub       *Hub
	logger    *log.Logger
}

// NewServer creates a Server.
func NewServer(eng *engine.Engine, sched *scheduler.Scheduler, hub *Hub, logger *log.Logger) *Server {
	return &Server{engine: eng, scheduler: sched, hub: hub, logger: logger}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	router.GET("/ws/activity", s.handleActivity)

	api := router.Group("/api")
	{
		api.POST("/agents", s.handleCreateAgent)
		api.GET("/agents", s.handleListAgents)
		api.POST("/agents/:id/cycle", s.handleForceCycle)
		api.POST("/agents/:id/disable", s.handleSetDisabled(true))
		api.POST("/agents/:id/enable", s.handleSetDisabled(false))
		api.GET("/agents/:id/portfolio", s.handlePortfolio)
		api.GET("/agents/:id/risk", s.handleRiskStatus)
		api.GET("/agents/:id/orders", s.handleOrderHistory)
		api.POST("/agents/:id/claims", s.handleClaim)
		api.GET("/leaderboard", s.handleLeaderboard)
	}
	return router
}

type createAgentRequest struct {
	Name             string `json:"name" binding:"required"`
	Creator          string `json:"creator" binding:"required"`
	RiskTolerance    int    `json:"risk_tolerance" binding:"required"`
	MaxTradeLamports int64  `json:"max_trade_lamports"`
	CycleIntervalMs  int64  `json:"cycle_interval_ms"`
	TokenDecimals    uint8  `json:"token_decimals"`
}

func (s *Server) handleCreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.engine.CreateAgent(c.Request.Context(), engine.CreateAgentParams{
		Name:             req.Name,
		Creator:          req.Creator,
		RiskTolerance:    req.RiskTolerance,
		MaxTradeLamports: req.MaxTradeLamports,
		CycleIntervalMs:  req.CycleIntervalMs,
		TokenDecimals:    req.TokenDecimals,
	})
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"agent_id":             result.Agent.AgentID,
		"wallet":               result.Agent.Wallet,
		"mint_public_key":      result.MintPublicKey,
		"creation_transaction": result.CreationTransaction,
	})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.engine.Agents(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(agents))
	for _, a := range agents {
		out = append(out, gin.H{
			"agent_id":          a.AgentID,
			"name":              a.Name,
			"wallet":            a.Wallet,
			"token_mint":        a.TokenMint,
			"risk_tolerance":    a.RiskTolerance,
			"cycle_interval_ms": a.CycleIntervalMs,
			"disabled":          a.Disabled,
			"risk_breached":     a.RiskBreached,
			"created_at":        a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

func (s *Server) handleForceCycle(c *gin.Context) {
	order, err := s.scheduler.ForceCycle(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	if order == nil {
		c.JSON(http.StatusOK, gin.H{"order": nil, "note": "no trade signal this cycle"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) handleSetDisabled(disabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.engine.SetAgentDisabled(c.Request.Context(), c.Param("id"), disabled); err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agent_id": c.Param("id"), "disabled": disabled})
	}
}

func (s *Server) handlePortfolio(c *gin.Context) {
	view, err := s.engine.Portfolio(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleRiskStatus(c *gin.Context) {
	view, err := s.engine.RiskStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleOrderHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	orders, err := s.engine.OrderHistory(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type claimRequest struct {
	Holder string `json:"holder" binding:"required"`
}

func (s *Server) handleClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	amount, err := s.engine.ClaimRevenue(c.Request.Context(), req.Holder, c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed_lamports": amount})
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	end := int64Query(c, "end", time.Now().UnixMilli())
	start := int64Query(c, "start", 0)
	limit := intQuery(c, "limit", 20)

	rows, err := s.engine.Leaderboard(c.Request.Context(), start, end, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, r := range rows {
		out = append(out, gin.H{
			"agent_id":     r.AgentID,
			"trades":       r.Trades,
			"wins":         r.Wins,
			"win_rate":     r.WinRate(),
			"total_profit": r.TotalProfit,
			"fees_paid":    r.FeesPaid,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": out})
}

func (s *Server) handleActivity(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	s.hub.register <- conn

	// Drain client frames to surface disconnects; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.unregister <- conn
				return
			}
		}
	}()
}

// renderError maps domain errors onto HTTP statuses. Invariant failures
// surface as a generic failure without internal detail.
func (s *Server) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, settlement.ErrInvalidClaim):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrCycleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "cycle already in flight"})
	case errors.Is(err, engine.ErrAgentDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": "agent disabled"})
	case errors.Is(err, settlement.ErrPoolFrozen):
		c.JSON(http.StatusConflict, gin.H{"error": "settlement suspended for this agent"})
	case errors.Is(err, settlement.ErrInvariant):
		s.logger.Printf("invariant violation: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "try again later"})
	default:
		s.logger.Printf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
	}
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func int64Query(c *gin.Context, key string, fallback int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
