// Package api provides HTTP handlers for the intake endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// reasonSessionExpired is returned when the state token is missing, expired,
// or fails signature verification. The client must restart the intake.
const reasonSessionExpired = "session_expired"

// intakeRequest is the shared request envelope for all intake endpoints.
// State and Window carry the signed progress and rate-limit tokens; the
// remaining fields are operation-specific.
type intakeRequest struct {
	State      string   `json:"state,omitempty"`
	Window     string   `json:"window,omitempty"`
	Issues     []string `json:"issues,omitempty"`
	Key        string   `json:"key,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	Question   string   `json:"question,omitempty"`
	Name       string   `json:"name,omitempty"`
	Preference string   `json:"preference,omitempty"`
	Value      string   `json:"value,omitempty"`
	EmailCode  string   `json:"email_code,omitempty"`
	PhoneCode  string   `json:"phone_code,omitempty"`
}

// intakeResult is the shared response envelope. State is omitted once the
// conversation completes so the client clears its copy.
type intakeResult struct {
	OK          bool   `json:"ok"`
	Phase       string `json:"phase"`
	Prompt      string `json:"prompt,omitempty"`
	Answer      string `json:"answer,omitempty"`
	ErrorReason string `json:"error_reason,omitempty"`
	State       string `json:"state,omitempty"`
	Window      string `json:"window,omitempty"`
}

// decodeIntakeRequest enforces POST and parses the JSON envelope. It writes
// the error response itself and reports whether the caller should continue.
func decodeIntakeRequest(w http.ResponseWriter, r *http.Request, handler string) (intakeRequest, bool) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req intakeRequest
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		slog.Warn("Server."+handler+": method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server."+handler+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return req, false
	}
	return req, true
}

// loadSnapshot decodes the state token. A nil return means the handler has
// already written the session-expired response.
func (s *Server) loadSnapshot(w http.ResponseWriter, token, handler string) *models.ProgressSnapshot {
	snap := s.codec.DecodeSnapshot(token)
	if snap == nil {
		slog.Warn("Server."+handler+": state token rejected", "token_set", token != "")
		writeJSONResponse(w, http.StatusOK, models.Success(intakeResult{
			OK:          false,
			ErrorReason: reasonSessionExpired,
		}))
		return nil
	}
	return snap
}

// respond encodes the refreshed tokens around the submit result and writes
// the envelope. Completed sessions drop the state token, leave the tracker,
// and close out any earlier abandoned record.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, snap *models.ProgressSnapshot, window *models.RateLimitWindow, res models.SubmitResult, immediate bool) {
	out := intakeResult{
		OK:          res.OK,
		Phase:       string(res.NextPhase),
		Prompt:      res.Prompt,
		Answer:      res.Answer,
		ErrorReason: res.ErrorReason,
	}

	if res.NextPhase == models.PhaseDone {
		s.tracker.Forget(snap.SessionID)
		if err := s.reconciler.Reconcile(r.Context(), *snap); err != nil {
			slog.Error("Server.respond: failed to close out completed session", "error", err, "sessionID", snap.SessionID)
		}
	} else {
		token, err := s.codec.EncodeSnapshot(*snap)
		if err != nil {
			slog.Error("Server.respond: failed to encode state token", "error", err, "sessionID", snap.SessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode session state"))
			return
		}
		out.State = token
		if immediate {
			s.tracker.TouchNow(*snap)
		} else {
			s.tracker.Touch(*snap)
		}
	}

	if window != nil {
		token, err := s.codec.EncodeWindow(*window)
		if err != nil {
			slog.Error("Server.respond: failed to encode window token", "error", err, "sessionID", snap.SessionID)
			writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to encode rate-limit state"))
			return
		}
		out.Window = token
	}

	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := decodeIntakeRequest(w, r, "startHandler"); !ok {
		return
	}
	var snap models.ProgressSnapshot
	res := s.conversation.Start(&snap)
	s.respond(w, r, &snap, nil, res, false)
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "resumeHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "resumeHandler")
	if snap == nil {
		return
	}
	res := s.conversation.Resume(r.Context(), snap)
	s.respond(w, r, snap, nil, res, false)
}

func (s *Server) issuesHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "issuesHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "issuesHandler")
	if snap == nil {
		return
	}
	res := s.conversation.SubmitIssues(snap, req.Issues)
	s.respond(w, r, snap, nil, res, false)
}

func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "answerHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "answerHandler")
	if snap == nil {
		return
	}
	res := s.conversation.AnswerStep(snap, req.Key, req.Answer)
	s.respond(w, r, snap, nil, res, false)
}

func (s *Server) questionHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "questionHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "questionHandler")
	if snap == nil {
		return
	}
	window := s.codec.DecodeWindow(req.Window)
	res := s.conversation.SubmitQuestion(r.Context(), snap, &window, req.Question)
	s.respond(w, r, snap, &window, res, true)
}

func (s *Server) nameHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "nameHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "nameHandler")
	if snap == nil {
		return
	}
	res := s.conversation.SubmitName(snap, req.Name)
	s.respond(w, r, snap, nil, res, false)
}

func (s *Server) contactPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "contactPreferenceHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "contactPreferenceHandler")
	if snap == nil {
		return
	}
	res := s.conversation.ChooseContactPreference(snap, models.ContactPreference(req.Preference))
	s.respond(w, r, snap, nil, res, false)
}

func (s *Server) contactHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "contactHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "contactHandler")
	if snap == nil {
		return
	}
	res := s.conversation.SubmitContactDetail(r.Context(), snap, req.Value)
	s.respond(w, r, snap, nil, res, true)
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "verifyHandler")
	if !ok {
		return
	}
	snap := s.loadSnapshot(w, req.State, "verifyHandler")
	if snap == nil {
		return
	}
	res := s.conversation.SubmitVerification(r.Context(), snap, req.EmailCode, req.PhoneCode)
	s.respond(w, r, snap, nil, res, true)
}

// abandonHandler is the beacon endpoint the hosting page calls on unload.
// It records the snapshot as an abandoned lead right away instead of
// waiting for the idle sweep.
func (s *Server) abandonHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIntakeRequest(w, r, "abandonHandler")
	if !ok {
		return
	}
	snap := s.codec.DecodeSnapshot(req.State)
	if snap == nil {
		// Nothing recoverable; acknowledge the beacon anyway.
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Nothing to record", nil))
		return
	}
	s.tracker.Forget(snap.SessionID)
	if err := s.reconciler.Reconcile(r.Context(), *snap); err != nil {
		slog.Error("Server.abandonHandler: reconcile failed", "error", err, "sessionID", snap.SessionID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record abandonment"))
		return
	}
	slog.Info("Server.abandonHandler: abandonment recorded", "sessionID", snap.SessionID, "phase", snap.LastPhase)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Abandonment recorded", nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"status":   "healthy",
		"sessions": s.tracker.Len(),
	}))
}
