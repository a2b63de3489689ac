package rest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/api/websocket"
	"github.com/KevinKickass/sunspec-gateway/internal/auth"
	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/interfaces"
	"github.com/KevinKickass/sunspec-gateway/internal/setup"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dependencies are the collaborators the handlers need besides the
// lifecycle manager. Metrics may be nil.
type Dependencies struct {
	Hub       *websocket.Hub
	Auth      *auth.AuthService
	Validator *setup.Validator
	Metrics   http.Handler
}

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
	validator   *setup.Validator
	metrics     http.Handler
	metricsPath string

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       deps.Hub,
		authService: deps.Auth,
		validator:   deps.Validator,
		metrics:     deps.Metrics,
		metricsPath: cfg.Metrics.Path,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("Starting REST API server", zap.String("address", lis.Addr().String()))
	go func() {
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	s.router.GET("/", s.index)
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/uptime", s.uptime)

	if s.metrics != nil && s.metricsPath != "" {
		s.router.GET(s.metricsPath, gin.WrapH(s.metrics))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/auth/login", s.login)

		system := v1.Group("/system")
		{
			system.GET("/status", s.getSystemStatus)
			system.POST("/reboot", s.authService.AuthMiddleware(), auth.RequireRole(auth.RoleAdmin), s.reboot)
		}

		data := v1.Group("/sunspec")
		{
			data.GET("", s.getSnapshot)
			data.GET("/registers", s.getRegisters)
		}

		setupGroup := v1.Group("/setup")
		{
			setupGroup.GET("", s.getSetup)
			setupGroup.POST("", s.authService.AuthMiddleware(), auth.RequireRole(auth.RoleAdmin), s.postSetup)
		}

		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
