package server

import (
	"net/http"
	"time"

	"github.com/claudeway/claudeway/internal/openai"
	"github.com/claudeway/claudeway/internal/translate"
)

type healthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
}

type sessionInfo struct {
	Conversation string    `json:"conversation"`
	SessionID    string    `json:"session_id"`
	TurnCount    int       `json:"turn_count"`
	MessageCount int       `json:"message_count"`
	LastActivity time.Time `json:"last_activity"`
}

func (c *controllerV1) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, healthResponse{
		Status:         "ok",
		ActiveSessions: c.tracker.Len(),
	})
}

func (c *controllerV1) handleGetModels(w http.ResponseWriter, r *http.Request) {
	models := []openai.Model{}
	for _, tier := range translate.SupportedModels() {
		models = append(models, openai.Model{
			ID:      tier,
			Object:  "model",
			OwnedBy: "anthropic",
		})
	}
	jsonEncode(w, openai.ModelList{Object: "list", Data: models})
}

func (c *controllerV1) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []sessionInfo{}
	for key, sess := range c.tracker.All() {
		sessions = append(sessions, sessionInfo{
			Conversation: key,
			SessionID:    sess.ID,
			TurnCount:    sess.TurnCount,
			MessageCount: sess.MessageCount,
			LastActivity: sess.LastActivity,
		})
	}
	jsonEncode(w, sessions)
}

func (c *controllerV1) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")
	c.tracker.Delete(key)
	w.WriteHeader(http.StatusNoContent)
}

func (c *controllerV1) handleNotFound(w http.ResponseWriter, r *http.Request) {
	jsonError(w, http.StatusNotFound, openai.ErrorDetail{
		Message: "unknown route: " + r.Method + " " + r.URL.Path,
		Type:    openai.ErrorTypeInvalidRequest,
		Code:    "not_found",
	})
}
