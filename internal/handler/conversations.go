package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msgsync/internal/conversations"
)

// ConversationHandler отдаёт UI список разговоров и принимает действия над ним.
type ConversationHandler struct {
	list *conversations.List
}

func NewConversationHandler(list *conversations.List) *ConversationHandler {
	return &ConversationHandler{list: list}
}

type conversationsResponse struct {
	Conversations any  `json:"conversations"`
	HasMore       bool `json:"has_more"`
}

// List GET /api/conversations?limit=N: текущий список (без запроса к бэкенду).
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	items := h.list.Snapshot()
	if n := queryInt(r, "limit", 0); n > 0 && n < len(items) {
		items = items[:n]
	}
	writeJSON(w, http.StatusOK, conversationsResponse{Conversations: items, HasMore: h.list.HasMore()})
}

// Refresh POST /api/conversations/refresh: перезагрузка первой страницы.
func (h *ConversationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.list.LoadFirstPage(r.Context()); err != nil {
		writeCoreError(w, err)
		return
	}
	h.List(w, r)
}

// Next POST /api/conversations/next: следующая страница.
func (h *ConversationHandler) Next(w http.ResponseWriter, r *http.Request) {
	added, err := h.list.LoadNextPage(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "has_more": h.list.HasMore()})
}

// MarkRead PUT /api/conversations/{id}/read. Бейдж обнуляется даже при ошибке бэкенда.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	if err := h.list.MarkRead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleMute PUT /api/conversations/{id}/mute.
func (h *ConversationHandler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	muted, err := h.list.ToggleMute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_muted": muted})
}

// Delete DELETE /api/conversations/{id}.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.list.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
