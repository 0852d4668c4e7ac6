// Package server
//
// Serves the login, registration and third-party authentication pages and a
// small session-authenticated JSON API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/authd-dev/authd/internal/auth"
	"github.com/authd-dev/authd/internal/config"
	"github.com/authd-dev/authd/internal/database"
	"github.com/authd-dev/authd/internal/session"
	"github.com/authd-dev/authd/internal/views"
)

// TaskEnqueuer is the subset of *asynq.Client the server uses
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Server represents the HTTP server
type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	config   *config.Config
	logger   zerolog.Logger
	passport *auth.Passport
	sessions *session.Manager
	limiter  *clientLimiter
	tasks    TaskEnqueuer
	version  string

	closers []func() error
}

// Options wires a Server from already constructed dependencies
type Options struct {
	Config   *config.Config
	Logger   zerolog.Logger
	DB       *gorm.DB
	Passport *auth.Passport
	Sessions *session.Manager
	Tasks    TaskEnqueuer // optional
	Version  string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := database.Open(cfg, zlog)
	if err != nil {
		return nil, err
	}

	signer, generated := auth.NewSigner(cfg.Session.Secret, cfg.Session.TTL)
	if generated {
		zlog.Warn().Msg("SESSION_SECRET not set - using a random secret, sessions will not survive restarts")
	}

	passport, err := auth.NewPassport(context.Background(), db, cfg.Auth.Strategies, cfg.HTTP.BaseURL, zlog)
	if err != nil {
		return nil, err
	}

	// Initialize Asynq client for enqueueing tasks
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})

	srv, err := NewWithOptions(Options{
		Config:   cfg,
		Logger:   zlog,
		DB:       db,
		Passport: passport,
		Sessions: session.NewManager(db, signer, cfg.Session, zlog),
		Tasks:    asynqClient,
		Version:  version,
	})
	if err != nil {
		return nil, err
	}
	srv.closers = append(srv.closers, asynqClient.Close, func() error { return database.Close(db) })

	return srv, nil
}

// NewWithOptions creates a server from prepared dependencies
func NewWithOptions(opts Options) (*Server, error) {
	renderer, err := views.New()
	if err != nil {
		return nil, fmt.Errorf("failed to load views: %w", err)
	}

	if err := registerValidators(); err != nil {
		return nil, err
	}

	s := &Server{
		db:       opts.DB,
		config:   opts.Config,
		logger:   opts.Logger,
		passport: opts.Passport,
		sessions: opts.Sessions,
		limiter:  newClientLimiter(opts.Config.Auth.RateLimit, opts.Config.Auth.RateBurst),
		tasks:    opts.Tasks,
		version:  opts.Version,
	}

	s.setupRouter(renderer)

	return s, nil
}

// registerValidators adds the custom rules used by form bindings
func registerValidators() error {
	validate, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}

	// Allow alphanumeric, hyphens, and underscores only
	return validate.RegisterValidation("alphanumdash", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, char := range value {
			if !((char >= 'a' && char <= 'z') ||
				(char >= 'A' && char <= 'Z') ||
				(char >= '0' && char <= '9') ||
				char == '-' ||
				char == '_') {
				return false
			}
		}
		return true
	})
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter(renderer *views.Renderer) {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.HTMLRender = renderer

	// Add middleware
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// Health check endpoint (no session required)
	s.router.GET("/health", s.healthCheck)

	pages := s.router.Group("/")
	pages.Use(s.sessions.Middleware())
	{
		pages.GET("/", s.home)
		pages.GET("/login", s.login)
		pages.GET("/register", s.register)
		pages.GET("/logout", s.logout)

		pages.GET("/auth/:provider", s.provider)
		pages.GET("/auth/:provider/:action", s.callback)
		pages.POST("/auth/:provider", s.callback)
		pages.POST("/auth/:provider/:action", s.callback)

		pages.GET("/account", RequireLogin(s.sessions, s.logger), s.account)
	}

	// Session-authenticated JSON API
	api := s.router.Group("/api")
	if len(s.config.HTTP.CORSOrigins) > 0 {
		api.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.HTTP.CORSOrigins,
			AllowMethods:     []string{"GET", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	api.Use(s.sessions.Middleware())
	api.Use(SessionAuthMiddleware(s.db, s.logger))
	{
		api.GET("/auth/me", s.getCurrentUser)

		// User management (admin only)
		userRoutes := api.Group("/users")
		userRoutes.Use(AdminOnlyMiddleware(s.logger))
		{
			userRoutes.GET("", s.listUsers)
			userRoutes.DELETE("/:id", s.deleteUser)
		}
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "authd",
		"version":   s.version,
	})
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := s.config.HTTP.Address

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")
	case err := <-errChan:
		s.logger.Error().Err(err).Msg("HTTP server error")
		s.close()
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	s.close()
	s.logger.Info().Msg("Server shutdown complete")

	return nil
}

func (s *Server) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Warn().Err(err).Msg("Error releasing resource")
		}
	}
}
