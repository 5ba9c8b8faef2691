package api

import (
	"net/http"

	"github.com/referral-ledger/internal/service"
)

// handleAddTransaction handles POST /api/transactions.
// userId defaults to the X-User-ID header when the body omits it.
func (s *Server) handleAddTransaction(w http.ResponseWriter, r *http.Request) {
	var input service.AddTransactionInput
	if err := parseJSONBody(r, &input); err != nil {
		respondInvalidBody(w, err)
		return
	}
	if input.UserID == "" {
		input.UserID = r.Header.Get("X-User-ID")
	}

	tx, err := s.services.Settlement.AddTransaction(r.Context(), &input)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, tx)
}
