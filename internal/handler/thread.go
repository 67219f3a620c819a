package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/msgsync/internal/messenger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/thread"
)

// ThreadHandler: действия над открытым тредом.
type ThreadHandler struct {
	core *messenger.Messenger
}

func NewThreadHandler(core *messenger.Messenger) *ThreadHandler {
	return &ThreadHandler{core: core}
}

func (h *ThreadHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.core.Thread.Snapshot())
}

// Open POST /api/thread/open {conversation_id | recipient_id}.
func (h *ThreadHandler) Open(w http.ResponseWriter, r *http.Request) {
	var target thread.Target
	if !decodeBody(w, r, &target) {
		return
	}
	if err := h.core.Open(r.Context(), target); err != nil {
		writeCoreError(w, err)
		return
	}
	h.Get(w, r)
}

func (h *ThreadHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.core.Close()
	w.WriteHeader(http.StatusNoContent)
}

// Older POST /api/thread/older: отдаёт added и height_delta для якоря прокрутки.
func (h *ThreadHandler) Older(w http.ResponseWriter, r *http.Request) {
	p, err := h.core.Thread.LoadOlderPage(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Send POST /api/thread/send {type, text, media}. В новом разговоре создаёт его.
func (h *ThreadHandler) Send(w http.ResponseWriter, r *http.Request) {
	var d model.Draft
	if !decodeBody(w, r, &d) {
		return
	}
	msg, err := h.core.Send(r.Context(), d)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type replyRequest struct {
	ReplyToMessageID string `json:"reply_to_message_id"`
	Text             string `json:"text"`
}

func (h *ThreadHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReplyToMessageID == "" {
		writeError(w, http.StatusBadRequest, "reply_to_message_id required")
		return
	}
	msg, err := h.core.Reply(r.Context(), req.ReplyToMessageID, req.Text)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// Typing POST /api/thread/typing: одно нажатие клавиши в поле ввода.
func (h *ThreadHandler) Typing(w http.ResponseWriter, r *http.Request) {
	h.core.Thread.Keystroke()
	w.WriteHeader(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (h *ThreadHandler) Reaction(w http.ResponseWriter, r *http.Request) {
	var req reactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji required")
		return
	}
	reactions, err := h.core.Thread.ToggleReaction(r.Context(), chi.URLParam(r, "id"), req.Emoji)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if reactions == nil {
		reactions = []model.Reaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reactions": reactions})
}

// DeleteMessage DELETE /api/thread/messages/{id}: только у себя.
func (h *ThreadHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Thread.DeleteLocal(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unsend DELETE /api/thread/messages/{id}/unsend: у всех, только свои.
func (h *ThreadHandler) Unsend(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Thread.Unsend(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
