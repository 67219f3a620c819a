package handler

import (
	"net/http"

	"github.com/msgsync/internal/config"
)

// ConfigHandler отдаёт UI публичные параметры: кто вошёл, размеры страниц, push.
type ConfigHandler struct {
	cfg            *config.Config
	vapidPublicKey string
}

// NewConfigHandler создаёт обработчик конфигурации. vapidPublicKey пустой, Web Push выключен.
func NewConfigHandler(cfg *config.Config, vapidPublicKey string) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, vapidPublicKey: vapidPublicKey}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":                h.cfg.UserID,
		"user_name":              h.cfg.UserName,
		"conversation_page_size": h.cfg.ConversationPageSize,
		"message_page_size":      h.cfg.MessagePageSize,
		"typing_idle_ms":         h.cfg.TypingIdle.Milliseconds(),
	})
}

// GetPushConfig возвращает публичный VAPID-ключ для подписки на пуши (если включены).
func (h *ConfigHandler) GetPushConfig(w http.ResponseWriter, r *http.Request) {
	if h.vapidPublicKey == "" {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":          true,
		"vapid_public_key": h.vapidPublicKey,
	})
}
