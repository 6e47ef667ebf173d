// Package opsserver exposes the matching core's operational surface: a
// liveness check and a per-pair debug snapshot. It deliberately carries
// none of the teacher gateway's trading REST API, rate limiting, or
// WebSocket fan-out — the core's only externally callable operations are
// Submit/Cancel/Update/ScanAndMatch, which arrive over the Ledger
// collaborator's boundary, not HTTP.
package opsserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terminal-bench/tradeengine/internal/supervisor"
)

func parsePairID(raw string) (uint64, error) {
	return strconv.ParseUint(raw, 10, 64)
}

// Config holds the ops server's listen configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sane timeouts for a local debug listener.
func DefaultConfig(addr string) Config {
	return Config{Addr: addr, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
}

// Server is the gin-backed ops HTTP surface.
type Server struct {
	router *gin.Engine
	sup    *supervisor.Supervisor
	cfg    Config
}

// New builds a Server bound to a running supervisor.
func New(sup *supervisor.Supervisor, cfg Config) *Server {
	s := &Server{router: gin.New(), sup: sup, cfg: cfg}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.healthz)
	s.router.GET("/debug/stats/:pair", s.debugStats)
}

// Run starts the HTTP listener; it blocks until the server is stopped or
// fails to bind.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return srv.ListenAndServe()
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) debugStats(c *gin.Context) {
	pairID, err := parsePairID(c.Param("pair"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	shard, ok := s.sup.Shard(pairID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running shard for pair"})
		return
	}

	stats := shard.Facade.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"pair_id":    pairID,
		"order_count": stats.OrderCount,
		"scanned_at": stats.ScannedAt,
	})
}
