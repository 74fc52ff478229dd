// Package server exposes the Jira webhook over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Ilia01/jira2drive/internal/config"
	"github.com/Ilia01/jira2drive/internal/pipeline"
)

const ackBody = "Webhook received"

// Runner executes one export. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, issueKey string) (*pipeline.Result, error)
}

type Server struct {
	runner Runner
	mode   string
	log    *zap.Logger
	engine *gin.Engine
	http   *http.Server

	mu     sync.Mutex
	closed bool
	runs   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type webhookPayload struct {
	Issue struct {
		Key string `json:"key"`
	} `json:"issue"`
}

func New(settings *config.Settings, runner Runner, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if settings.Env != "development" && settings.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner: runner,
		mode:   settings.Server.WebhookMode,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
	r.GET("/healthz", s.healthz)
	r.POST("/jira-webhook", s.webhook)
	s.engine = r

	s.http = &http.Server{
		Addr:              ":" + settings.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("webhook_mode", s.mode))
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight runs. When ctx
// expires first the remaining runs are canceled and ctx's error returned.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("canceling in-flight runs")
		s.cancel()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	s.cancel()
	return err
}

// Wait blocks until every accepted run has finished.
func (s *Server) Wait() { s.runs.Wait() }

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// webhook always acknowledges with 200. A body without an issue key starts
// nothing.
func (s *Server) webhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil || payload.Issue.Key == "" {
		s.log.Warn("webhook ignored: no issue key", zap.Error(err), zap.String("ip", c.ClientIP()))
		c.String(http.StatusOK, ackBody)
		return
	}
	key := payload.Issue.Key
	s.log.Info("webhook received", zap.String("issue", key), zap.String("ip", c.ClientIP()))

	if !s.begin() {
		s.log.Warn("webhook ignored: shutting down", zap.String("issue", key))
		c.String(http.StatusOK, ackBody)
		return
	}
	if s.mode == config.WebhookModeSync {
		s.run(s.ctx, key)
	} else {
		go s.run(s.ctx, key)
	}
	c.String(http.StatusOK, ackBody)
}

// begin registers a run unless Shutdown has started draining.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.runs.Add(1)
	return true
}

func (s *Server) run(ctx context.Context, key string) {
	defer s.runs.Done()
	res, err := s.runner.Run(ctx, key)
	if err != nil {
		s.log.Error("export failed", zap.String("issue", key), zap.Error(err))
		return
	}
	s.log.Info("export done",
		zap.String("issue", key),
		zap.String("run_id", res.RunID),
		zap.String("link", res.Link))
}
