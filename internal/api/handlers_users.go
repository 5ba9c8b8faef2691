package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/service"
)

// ChangePlanRequest represents the request body for POST /api/users/{id}/plan
type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

// handleRegister handles POST /api/users
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := parseJSONBody(r, &input); err != nil {
		respondInvalidBody(w, err)
		return
	}

	user, err := s.services.Users.Register(r.Context(), &input)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, user.Public())
}

// handleGetUser handles GET /api/users/{id}
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.services.Users.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

// handleListTransactions handles GET /api/users/{id}/transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := s.services.Users.ListUserTransactions(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"count":        len(txs),
	})
}

// handleListNotifications handles GET /api/users/{id}/notifications
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.services.Users.ListNotifications(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"count":         len(notifications),
	})
}

// handleReferralSummary handles GET /api/users/{id}/referrals
func (s *Server) handleReferralSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Users.ReferralSummary(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

// handleChangePlan handles POST /api/users/{id}/plan.
// The actor is the admin when X-Admin-ID is set, otherwise the calling user.
func (s *Server) handleChangePlan(w http.ResponseWriter, r *http.Request) {
	actorID := r.Header.Get("X-Admin-ID")
	if actorID == "" {
		actorID = r.Header.Get("X-User-ID")
	}
	if actorID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID or X-Admin-ID header is required", nil)
		return
	}

	var req ChangePlanRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondInvalidBody(w, err)
		return
	}

	user, err := s.services.Users.ChangePlan(r.Context(), mux.Vars(r)["id"], req.Plan, actorID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

// handleAccrue handles POST /api/users/{id}/accrue
func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	result, err := s.services.Accrual.AccrueProfit(r.Context(), mux.Vars(r)["id"], s.clock())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleMarkNotificationRead handles POST /api/notifications/{id}/read
func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header is required", nil)
		return
	}

	notification, err := s.services.Users.MarkNotificationRead(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, notification)
}
