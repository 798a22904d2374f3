package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// followUpRequest identifies the abandoned lead an agent has worked.
type followUpRequest struct {
	Identifier string `json:"identifier"`
}

// followUpHandler marks an abandoned lead as followed up. Agents call it
// after contacting a lead from the digest so later reports can separate
// worked leads from untouched ones.
func (s *Server) followUpHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req followUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.followUpHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Identifier == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("identifier is required"))
		return
	}

	lead, err := s.leads.GetLead(r.Context(), req.Identifier)
	if err != nil {
		slog.Error("Server.followUpHandler: lookup failed", "error", err, "identifier", req.Identifier)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to look up lead"))
		return
	}
	if lead == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Lead not found"))
		return
	}
	if err := s.leads.MarkFollowedUp(r.Context(), req.Identifier); err != nil {
		slog.Error("Server.followUpHandler: mark failed", "error", err, "identifier", req.Identifier)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to mark lead"))
		return
	}
	slog.Info("Server.followUpHandler: lead marked followed up", "identifier", req.Identifier)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Lead marked followed up", nil))
}
