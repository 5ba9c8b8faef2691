// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/referral-ledger/internal/logging"
	"github.com/referral-ledger/internal/metrics"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/service"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// Service interfaces for dependency injection and testing

// UserServiceInterface defines the account and read-model operations
type UserServiceInterface interface {
	Register(ctx context.Context, input *service.RegisterInput) (*models.User, error)
	ApproveUser(ctx context.Context, userID, adminID string) (*models.User, error)
	RejectUser(ctx context.Context, userID, adminID string) (*models.User, error)
	ChangePlan(ctx context.Context, userID, planName, actorID string) (*models.User, error)
	UpdateUserBalance(ctx context.Context, userID string, newBalance decimal.Decimal, adminID string) (*models.User, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ListUserTransactions(ctx context.Context, userID string) ([]*models.Transaction, error)
	ListNotifications(ctx context.Context, userID string) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) (*models.Notification, error)
	ListAdminLogs(ctx context.Context, adminID string, limit int) ([]*models.AdminActionLog, error)
	ReferralSummary(ctx context.Context, userID string) (*service.ReferralSummary, error)
}

// SettlementServiceInterface defines the transaction lifecycle operations
type SettlementServiceInterface interface {
	AddTransaction(ctx context.Context, input *service.AddTransactionInput) (*models.Transaction, error)
	SettleTransaction(ctx context.Context, transactionID string, target types.TransactionStatus, adminID string) (*service.SettlementResult, error)
}

// ReferralServiceInterface defines the manual bonus payout
type ReferralServiceInterface interface {
	PayoutReferralBonus(ctx context.Context, depositID, adminID string) (*service.BonusPayoutResult, error)
}

// AccrualServiceInterface defines on-demand profit accrual
type AccrualServiceInterface interface {
	AccrueProfit(ctx context.Context, userID string, now time.Time) (*service.AccrualResult, error)
}

// Services groups the engines the API exposes
type Services struct {
	Users      UserServiceInterface
	Settlement SettlementServiceInterface
	Referral   ReferralServiceInterface
	Accrual    AccrualServiceInterface
}

// HealthCheck reports the state of one background component for /health
type HealthCheck func() interface{}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	checks     map[string]HealthCheck
	clock      func() time.Time
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int
	Burst             int
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		checks:   make(map[string]HealthCheck),
		clock:    time.Now,
		logger:   logger.Component("api"),
		config:   config,
	}

	s.setupRouter()

	return s
}

// AddHealthCheck registers a component reported by /health. Call before Start.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)
	s.router.Use(metrics.InstrumentHandler)
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Investor endpoints
	api.HandleFunc("/users", s.handleRegister).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/transactions", s.handleListTransactions).Methods("GET")
	api.HandleFunc("/users/{id}/notifications", s.handleListNotifications).Methods("GET")
	api.HandleFunc("/users/{id}/referrals", s.handleReferralSummary).Methods("GET")
	api.HandleFunc("/users/{id}/plan", s.handleChangePlan).Methods("POST")
	api.HandleFunc("/users/{id}/accrue", s.handleAccrue).Methods("POST")
	api.HandleFunc("/notifications/{id}/read", s.handleMarkNotificationRead).Methods("POST")
	api.HandleFunc("/transactions", s.handleAddTransaction).Methods("POST")

	// Admin endpoints
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/users/{id}/approve", s.handleApproveUser).Methods("POST")
	admin.HandleFunc("/users/{id}/reject", s.handleRejectUser).Methods("POST")
	admin.HandleFunc("/users/{id}/balance", s.handleUpdateBalance).Methods("PUT")
	admin.HandleFunc("/transactions/{id}/settle", s.handleSettleTransaction).Methods("POST")
	admin.HandleFunc("/transactions/{id}/bonus-payout", s.handleBonusPayout).Methods("POST")
	admin.HandleFunc("/logs", s.handleListAdminLogs).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "healthy",
		"service": "referral-ledger",
	}
	if len(s.checks) > 0 {
		components := make(map[string]interface{}, len(s.checks))
		for name, check := range s.checks {
			components[name] = check()
		}
		body["components"] = components
	}
	respondJSON(w, http.StatusOK, body)
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
