// Package api provides HTTP handlers for VitalAI endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
	"github.com/go-chi/chi/v5"
)

// Twilio webhook form fields.
const (
	formFieldFrom       = "From"
	formFieldBody       = "Body"
	formFieldMessageSid = "MessageSid"
)

// webhookHandler handles inbound Twilio WhatsApp messages (POST /whatsapp).
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.webhookHandler: failed to parse form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form body"))
		return
	}

	from := strings.TrimSpace(r.FormValue(formFieldFrom))
	if from == "" {
		slog.Warn("Server.webhookHandler: missing sender")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: From"))
		return
	}

	resp := models.Response{
		From:      from,
		Body:      r.FormValue(formFieldBody),
		MessageID: r.FormValue(formFieldMessageSid),
		Time:      time.Now().Unix(),
	}
	slog.Debug("Server.webhookHandler: inbound message", "from", resp.From, "messageID", resp.MessageID, "body_length", len(resp.Body))

	if s.async != nil {
		if !s.async.EmitResponse(resp) {
			writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Message queue unavailable"))
			return
		}
		writeTwiMLResponse(w, "")
		return
	}

	reply, handled, err := s.processor.Process(r.Context(), resp)
	if err != nil {
		slog.Warn("Server.webhookHandler: rejected message", "error", err, "from", resp.From)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if !handled {
		writeTwiMLResponse(w, "")
		return
	}
	s.processor.RecordReply(resp.From, reply, models.MessageStatusReplied)
	slog.Info("Server.webhookHandler: replied", "to", resp.From, "length", len(reply))
	writeTwiMLResponse(w, reply)
}

// receiptsHandler returns all outbound replies (GET /receipts).
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	slog.Debug("Server.receiptsHandler: receipts fetched", "count", len(receipts))
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

// responsesHandler returns all inbound messages (GET /responses).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Server.responsesHandler: failed to fetch responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	slog.Debug("Server.responsesHandler: responses fetched", "count", len(responses))
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// statsHandler returns transcript and onboarding statistics (GET /stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Server.statsHandler: failed to fetch responses", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.statsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}

	total := len(responses)
	perSender := make(map[string]int)
	var sumLen int
	for _, resp := range responses {
		perSender[resp.From]++
		sumLen += len(resp.Body)
	}
	avgLen := 0.0
	if total > 0 {
		avgLen = float64(sumLen) / float64(total)
	}

	stats := map[string]interface{}{
		"total_responses":      total,
		"total_receipts":       len(receipts),
		"responses_per_sender": perSender,
		"avg_response_length":  avgLen,
		"onboarding":           s.controller.Stats(),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// userHandler returns the conversation record for one user (GET /users/{userID}).
func (s *Server) userHandler(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	rec, ok := s.controller.StateManager().Get(userID)
	if !ok {
		writeJSONResponse(w, http.StatusNotFound, models.Error("User not found"))
		return
	}
	result := map[string]interface{}{
		"record": rec,
		"state":  rec.State(len(s.controller.Questions())),
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// healthHandler provides a health check endpoint for monitoring and load balancing
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"users":     s.controller.Stats().Users,
	}

	// The transcript store is the only dependency that can fail here.
	if _, err := s.st.IsDuplicate("health-check"); err != nil {
		slog.Warn("Server.healthHandler: store check failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Transcript store unavailable"
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
