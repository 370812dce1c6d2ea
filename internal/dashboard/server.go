package dashboard

import (
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shuttlr-io/shuttlr/internal/logging"
	"github.com/shuttlr-io/shuttlr/internal/state"
)

//go:embed index.html
var indexPage []byte

// Server exposes the read-only dashboard over HTTP.
type Server struct {
	store   *state.Store
	querier *Querier
	engine  *gin.Engine
}

func NewServer(store *state.Store, querier *Querier) *Server {
	s := &Server{store: store, querier: querier}
	s.engine = s.router()
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/", s.index)
	r.GET("/api/customer-data", s.customerData)
	r.GET("/health", s.health)
	return r
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(port int) error {
	addr := fmt.Sprintf(":%d", port)
	logging.Info("dashboard listening", "addr", addr)
	return s.engine.Run(addr)
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

func (s *Server) customerData(c *gin.Context) {
	doc, err := s.store.Load()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	report, err := s.querier.CountryBreakdown(c.Request.Context(), doc)
	if err != nil {
		var soft SoftError
		if errors.As(err, &soft) {
			c.JSON(http.StatusOK, gin.H{"error": soft.Error()})
			return
		}
		logging.Error("customer data query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
