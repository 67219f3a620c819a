package handler

import (
	"net/http"

	"github.com/msgsync/internal/presence"
)

type PresenceHandler struct {
	tracker *presence.Tracker
}

func NewPresenceHandler(tracker *presence.Tracker) *PresenceHandler {
	return &PresenceHandler{tracker: tracker}
}

// Get GET /api/presence?user_id=...: один пользователь или весь набор онлайн.
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("user_id"); id != "" {
		writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "online": h.tracker.Online(id)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"online": h.tracker.IDs()})
}
