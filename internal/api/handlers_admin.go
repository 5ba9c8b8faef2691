package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/referral-ledger/internal/models"
	"github.com/referral-ledger/internal/types"
	"github.com/shopspring/decimal"
)

const defaultAdminLogLimit = 50

// UpdateBalanceRequest represents the request body for PUT /api/admin/users/{id}/balance
type UpdateBalanceRequest struct {
	BalanceUSD decimal.Decimal `json:"balanceUSD"`
}

// SettleRequest represents the request body for POST /api/admin/transactions/{id}/settle
type SettleRequest struct {
	Status types.TransactionStatus `json:"status"`
}

// adminID returns the acting admin or writes a 401
func adminID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Admin-ID")
	if id == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Admin-ID header is required", nil)
		return "", false
	}
	return id, true
}

// handleApproveUser handles POST /api/admin/users/{id}/approve
func (s *Server) handleApproveUser(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, true)
}

// handleRejectUser handles POST /api/admin/users/{id}/reject
func (s *Server) handleRejectUser(w http.ResponseWriter, r *http.Request) {
	s.review(w, r, false)
}

func (s *Server) review(w http.ResponseWriter, r *http.Request, approve bool) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	review := s.services.Users.RejectUser
	if approve {
		review = s.services.Users.ApproveUser
	}
	user, err := review(r.Context(), mux.Vars(r)["id"], admin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

// handleUpdateBalance handles PUT /api/admin/users/{id}/balance
func (s *Server) handleUpdateBalance(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var req UpdateBalanceRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondInvalidBody(w, err)
		return
	}

	user, err := s.services.Users.UpdateUserBalance(r.Context(), mux.Vars(r)["id"], req.BalanceUSD, admin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, user.Public())
}

// handleSettleTransaction handles POST /api/admin/transactions/{id}/settle
func (s *Server) handleSettleTransaction(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	var req SettleRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondInvalidBody(w, err)
		return
	}

	result, err := s.services.Settlement.SettleTransaction(r.Context(), mux.Vars(r)["id"], req.Status, admin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleBonusPayout handles POST /api/admin/transactions/{id}/bonus-payout
func (s *Server) handleBonusPayout(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	result, err := s.services.Referral.PayoutReferralBonus(r.Context(), mux.Vars(r)["id"], admin)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleListAdminLogs handles GET /api/admin/logs?limit=N
func (s *Server) handleListAdminLogs(w http.ResponseWriter, r *http.Request) {
	admin, ok := adminID(w, r)
	if !ok {
		return
	}

	limit := defaultAdminLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a positive integer", map[string]interface{}{
				"limit": raw,
			})
			return
		}
		limit = n
	}

	logs, err := s.services.Users.ListAdminLogs(r.Context(), admin, limit)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.AdminActionLog{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}
