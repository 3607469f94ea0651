package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"wbgate-go/internal/apierr"
	"wbgate-go/internal/authtoken"
	"wbgate-go/internal/config"
	"wbgate-go/internal/events"
	"wbgate-go/internal/executor"
	"wbgate-go/internal/genai"
	"wbgate-go/internal/middleware"
)

const maxProxyBody = 32 << 20

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Cfg         *config.Config
	Client      *executor.Client
	Gen         *genai.Client
	Tokens      *authtoken.Store
	Broadcaster *events.Broadcaster
}

// Server is the localhost gateway: it fronts the resilient request layer with
// a plain HTTP API so browser frontends get failover, refresh and fallback
// without implementing any of it.
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// New builds the gateway server.
func New(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local gateway; the frontend runs on another localhost port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Router assembles the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	if !s.deps.Cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	if s.deps.Cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimiter(s.deps.Cfg.RateLimit.RPS, s.deps.Cfg.RateLimit.Burst))
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/ws", s.handleWebsocket)

	v1 := r.Group("/v1")
	{
		v1.POST("/generate", s.handleGenerate)
		v1.GET("/models", s.handleModels)
	}

	auth := r.Group("/auth", middleware.ManagementAuth(s.deps.Cfg.ManagementKeyHash))
	{
		auth.GET("/status", s.handleAuthStatus)
		auth.POST("/token", s.handleSetToken)
		auth.DELETE("/token", s.handleClearToken)
	}

	// Everything else under /api is forwarded through the executor.
	r.Any("/api/*path", s.handleForward)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	backendUp := s.deps.Gen.Healthy(c.Request.Context())
	_, authenticated := s.deps.Tokens.Get(c.Request.Context())

	status := http.StatusOK
	if !backendUp {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":        map[bool]string{true: "ok", false: "degraded"}[backendUp],
		"backend":       backendUp,
		"authenticated": authenticated,
		"endpoints":     s.deps.Cfg.Endpoints,
	})
}

func (s *Server) handleGenerate(c *gin.Context) {
	var body struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "prompt is required", "type": "invalid_request"},
		})
		return
	}

	result, err := s.deps.Gen.Generate(c.Request.Context(), body.Prompt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleModels(c *gin.Context) {
	models, err := s.deps.Gen.Models(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (s *Server) handleAuthStatus(c *gin.Context) {
	_, authenticated := s.deps.Tokens.Get(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"authenticated": authenticated,
		"tier":          string(s.deps.Tokens.TierOf()),
	})
}

func (s *Server) handleSetToken(c *gin.Context) {
	var body struct {
		Token    string `json:"token" binding:"required"`
		Remember bool   `json:"remember"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "token is required", "type": "invalid_request"},
		})
		return
	}
	s.deps.Client.SetAuthToken(c.Request.Context(), body.Token, body.Remember)
	c.JSON(http.StatusOK, gin.H{"authenticated": true})
}

func (s *Server) handleClearToken(c *gin.Context) {
	s.deps.Client.ClearAuthToken(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

// handleForward runs an arbitrary backend call through the executor so the
// caller inherits failover and 401-refresh handling.
func (s *Server) handleForward(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProxyBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"message": "unreadable request body", "type": "invalid_request"},
		})
		return
	}

	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path += "?" + raw
	}

	header := make(http.Header)
	if ct := c.GetHeader("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	if accept := c.GetHeader("Accept"); accept != "" {
		header.Set("Accept", accept)
	}

	resp, err := s.deps.Client.Do(c.Request.Context(), executor.Request{
		Method: c.Request.Method,
		Path:   path,
		Body:   body,
		Header: header,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Data(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
}

func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed: %v", err)
		return
	}
	if !s.deps.Broadcaster.Add(conn) {
		_ = conn.Close()
		return
	}
	// Read loop exists only to notice the client going away.
	middleware.SafeGo("ws-reader", func() {
		defer s.deps.Broadcaster.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// writeError maps the structured error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	kind := apierr.KindOf(err)
	switch kind {
	case apierr.KindHTTP:
		if st := apierr.StatusOf(err); st > 0 {
			status = st
		}
	case apierr.KindUnauthenticated:
		status = http.StatusUnauthorized
	case apierr.KindTimeout:
		status = http.StatusGatewayTimeout
	case apierr.KindCancelled:
		// Client went away; gin maps this to a closed connection anyway.
		status = 499
	case apierr.KindConnection, apierr.KindEndpointsExhausted, apierr.KindCandidatesExhausted:
		status = http.StatusBadGateway
	case apierr.KindRefreshFailed:
		status = http.StatusUnauthorized
	}

	payload := gin.H{"message": err.Error(), "type": string(kind)}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && len(apiErr.Endpoints) > 0 {
		payload["attempted_endpoints"] = apiErr.Endpoints
	}
	c.JSON(status, gin.H{"error": payload})
}
