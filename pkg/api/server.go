// Package api serves the operational HTTP surface: health, status, the
// prometheus endpoint, and a read-only item view. The dashboard remains
// the operator's control surface; this API never mutates pipeline state.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shortsforge/shortsforge/pkg/state"
	"github.com/shortsforge/shortsforge/pkg/supervisor"
	"github.com/shortsforge/shortsforge/pkg/version"
)

// Server hosts the operational endpoints.
type Server struct {
	sup     *supervisor.Supervisor
	db      *state.DB
	metrics http.Handler

	httpSrv *http.Server
}

// NewServer wires the server. metrics may be nil to disable /metrics.
func NewServer(sup *supervisor.Supervisor, db *state.DB, metrics http.Handler) *Server {
	return &Server{sup: sup, db: db, metrics: metrics}
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.GET("/items", s.listItems)
	r.GET("/items/:id", s.getItem)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	return r
}

// Start serves on the port in the background.
func (s *Server) Start(port int) {
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
	})
}

func (s *Server) status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	h, err := s.sup.Health(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"version": version.Full(),
		"health":  h,
	})
}

// itemView is the read-only projection served over HTTP. Errors are
// already masked by the state machine before they reach storage.
type itemView struct {
	ID             string `json:"id"`
	Source         string `json:"source"`
	Title          string `json:"title"`
	State          string `json:"state"`
	FailedStage    string `json:"failed_stage,omitempty"`
	PublicationURL string `json:"publication_url,omitempty"`
	Error          string `json:"error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func viewOf(it *state.Item) itemView {
	v := itemView{
		ID:             it.ID,
		Source:         string(it.Source),
		Title:          it.Title,
		State:          string(it.State),
		FailedStage:    it.FailedStage,
		PublicationURL: it.PublicationURL,
		CreatedAt:      it.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      it.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if it.LastError != nil {
		v.Error = it.LastError.Message
	}
	return v
}

func (s *Server) listItems(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	items, err := s.db.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]itemView, len(items))
	for i, it := range items {
		views[i] = viewOf(it)
	}
	c.JSON(http.StatusOK, gin.H{"items": views})
}

func (s *Server) getItem(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	it, err := s.db.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(it))
}
