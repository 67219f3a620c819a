package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/msgsync/internal/api"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/thread"
	"github.com/msgsync/internal/ws"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody читает JSON-тело в v и отвечает 400, если оно некорректно.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// writeCoreError переводит ошибку синхронизатора в HTTP-статус.
func writeCoreError(w http.ResponseWriter, err error) {
	var status *api.StatusError
	switch {
	case errors.Is(err, thread.ErrEmptyDraft), errors.Is(err, thread.ErrNoTarget):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, thread.ErrNotOwnMessage):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, thread.ErrMessageNotFound), errors.Is(err, api.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, thread.ErrNotReady), errors.Is(err, thread.ErrStale):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ws.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &status):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Errorf("handler: %v", err)
		writeError(w, http.StatusBadGateway, "backend unavailable")
	}
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
