package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/messenger"
	"github.com/msgsync/internal/metrics"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// FeedHandler: поток изменений для UI: после каждого изменения отправляет
// свежий снимок затронутой части состояния.
type FeedHandler struct {
	core           *messenger.Messenger
	allowedOrigins string
}

// NewFeedHandler создаёт обработчик WebSocket. allowedOrigins, как в CORS (через запятую или "*").
func NewFeedHandler(core *messenger.Messenger, allowedOrigins string) *FeedHandler {
	return &FeedHandler{core: core, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

type feedFrame struct {
	Topic messenger.Topic `json:"topic"`
	Data  any             `json:"data"`
}

func (h *FeedHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *FeedHandler) snapshot(t messenger.Topic) any {
	switch t {
	case messenger.TopicConversations:
		return conversationsResponse{Conversations: h.core.List.Snapshot(), HasMore: h.core.List.HasMore()}
	case messenger.TopicThread:
		return h.core.Thread.Snapshot()
	default:
		return map[string]any{"online": h.core.Presence.IDs()}
	}
}

func (h *FeedHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("feed upgrade: %v", err)
		return
	}
	defer conn.Close()
	defer metrics.FeedConnected()()

	topics, cancel := h.core.Subscribe()
	defer cancel()

	// Читатель нужен для close/pong; входящие сообщения UI игнорируются.
	done := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(t messenger.Topic) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
		if err := conn.WriteJSON(feedFrame{Topic: t, Data: h.snapshot(t)}); err != nil {
			logger.Debugf("feed write: %v", err)
			return false
		}
		return true
	}
	for _, t := range []messenger.Topic{messenger.TopicConversations, messenger.TopicThread, messenger.TopicPresence} {
		if !write(t) {
			return
		}
	}

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case t, ok := <-topics:
			if !ok || !write(t) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
