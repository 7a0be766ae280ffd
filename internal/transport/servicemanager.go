package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/iKryptonic/RBXStateMachine/internal/logging"
)

// serviceManagerRequest is the JSON body POSTed to the ServiceManager
// endpoint: a named request plus positional arguments.
type serviceManagerRequest struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

type serviceManagerResponse struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Server is the gin-backed, admin-gated ServiceManager request/response
// endpoint described in §6: "snapshot", "request_entity_snapshot",
// "update_settings", "fsm", "console_command", "scheduler" all route
// through one POST handler dispatched by request name.
type Server struct {
	engine *gin.Engine
	logger logging.Logger
	token  string

	mu       sync.RWMutex
	handlers map[string]RequestHandler
}

// NewServer builds a Server gated by token (checked against the
// Authorization: Bearer <token> header on every /service-manager
// request; an empty token disables the check, and /healthz is never
// gated).
func NewServer(token string, logger logging.Logger) *Server {
	logger = logging.OrNop(logger)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"POST", "GET", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	s := &Server{engine: engine, logger: logger, token: token, handlers: make(map[string]RequestHandler)}

	engine.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	admin := engine.Group("/service-manager")
	admin.Use(s.authMiddleware())
	admin.POST("", s.handleRequest)

	return s
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.token == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		if header != "Bearer "+s.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "service manager access denied"})
			return
		}
		c.Next()
	}
}

// RegisterHandler implements transport.RequestResponder.
func (s *Server) RegisterHandler(name string, handler RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = handler
}

// Request satisfies transport.RequestResponder for in-process callers
// (e.g. tests) that want to invoke a registered handler directly
// without going over HTTP.
func (s *Server) Request(ctx context.Context, name string, args ...any) (any, error) {
	s.mu.RLock()
	handler, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport: no ServiceManager handler registered for %q", name)
	}
	return handler(ctx, args...)
}

func (s *Server) handleRequest(c *gin.Context) {
	var req serviceManagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, serviceManagerResponse{Error: err.Error()})
		return
	}

	result, err := s.Request(c.Request.Context(), req.Name, req.Args...)
	if err != nil {
		s.logger.Warn("service manager request %q failed: %v", req.Name, err)
		c.JSON(http.StatusOK, serviceManagerResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, serviceManagerResponse{Result: result})
}

// Handler returns the underlying http.Handler for embedding in a
// larger server or httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe runs the ServiceManager HTTP endpoint on addr until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Client is the client-side half of the ServiceManager request/
// response channel: it issues HTTP requests against a Server and
// blocks for a reply or context timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client targeting baseURL (e.g.
// "http://localhost:8080").
func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{}}
}

// Request implements transport.RequestResponder; a context deadline
// maps directly to an HTTP request timeout, returning the context's
// error on expiry per the documented TransportFailure semantics.
func (c *Client) Request(ctx context.Context, name string, args ...any) (any, error) {
	body, err := json.Marshal(serviceManagerRequest{Name: name, Args: args})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/service-manager", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var smResp serviceManagerResponse
	if err := json.Unmarshal(raw, &smResp); err != nil {
		return nil, fmt.Errorf("transport: decode service manager response: %w", err)
	}
	if smResp.Error != "" {
		return nil, fmt.Errorf("transport: service manager request %q failed: %s", name, smResp.Error)
	}
	return smResp.Result, nil
}

// RegisterHandler is not supported on the client side; requests are
// always server-originated handlers.
func (c *Client) RegisterHandler(string, RequestHandler) {}
