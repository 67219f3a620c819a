package messenger

import (
	"context"
	"encoding/json"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/wire"
	"github.com/msgsync/internal/ws"
)

// subscribe registers the fan-out of every consumed socket event. Handlers run
// on the connection read goroutine in emission order.
func (m *Messenger) subscribe() {
	m.socket.On(ws.EventNewMessage, m.onNewMessage)
	for _, ev := range []ws.EventType{ws.EventUserTyping, ws.EventUserTypingGlobal} {
		m.socket.On(ev, m.onTyping)
	}
	for _, ev := range []ws.EventType{ws.EventUserStopTyping, ws.EventUserStopTypingGlobal} {
		m.socket.On(ev, m.onStopTyping)
	}
	m.socket.On(ws.EventMessagesDelivered, m.onReceipt(model.ReceiptDelivered))
	m.socket.On(ws.EventMessagesSeen, m.onReceipt(model.ReceiptRead))
	m.socket.On(ws.EventUserOnline, m.onPresence(true))
	m.socket.On(ws.EventUserOffline, m.onPresence(false))
	m.socket.On(ws.EventOnlineUsers, m.onOnlineUsers)
	m.socket.On(ws.EventMessageUnsent, m.onUnsent)
	m.socket.On(ws.EventMessageReaction, m.onReaction)
}

func (m *Messenger) onNewMessage(ctx context.Context, data json.RawMessage) {
	ev, err := wire.DecodeNewMessage(data)
	if err != nil {
		logger.Warnf("messenger: drop new-message: %v", err)
		return
	}
	// Тред первым: список смотрит на активный диалог при подсчёте непрочитанных.
	shown := m.Thread.MergeIncomingMessage(ev.Message)
	m.List.MergeIncomingMessage(ctx, ev.Message)
	if shown {
		go m.Receipts.ThreadVisible(context.Background(), ev.ConversationID)
	}
}

func (m *Messenger) onTyping(_ context.Context, data json.RawMessage) {
	ev, err := wire.DecodeTyping(data)
	if err != nil {
		logger.Debugf("messenger: drop typing: %v", err)
		return
	}
	if ev.UserID == m.userID {
		return
	}
	m.List.MergeTyping(ev.ConversationID, ev.UserID, ev.UserName)
	m.Thread.MergeTyping(ev.ConversationID, ev.UserID, ev.UserName)
}

func (m *Messenger) onStopTyping(_ context.Context, data json.RawMessage) {
	ev, err := wire.DecodeTyping(data)
	if err != nil {
		logger.Debugf("messenger: drop stop-typing: %v", err)
		return
	}
	m.List.MergeStopTyping(ev.ConversationID, ev.UserID)
	m.Thread.MergeStopTyping(ev.ConversationID, ev.UserID)
}

func (m *Messenger) onReceipt(kind model.ReceiptKind) ws.Handler {
	return func(_ context.Context, data json.RawMessage) {
		ev, err := wire.DecodeReceipt(data)
		if err != nil {
			logger.Warnf("messenger: drop %s receipt: %v", kind, err)
			return
		}
		m.Receipts.Apply(kind, ev.ConversationID, ev.UserID, ev.At)
	}
}

func (m *Messenger) onPresence(online bool) ws.Handler {
	return func(_ context.Context, data json.RawMessage) {
		id, err := wire.DecodePresence(data)
		if err != nil {
			logger.Debugf("messenger: drop presence: %v", err)
			return
		}
		m.Presence.Set(id, online)
	}
}

func (m *Messenger) onOnlineUsers(_ context.Context, data json.RawMessage) {
	ids, err := wire.DecodeOnlineUsers(data)
	if err != nil {
		logger.Debugf("messenger: drop online-users: %v", err)
		return
	}
	m.Presence.Replace(ids)
}

func (m *Messenger) onUnsent(_ context.Context, data json.RawMessage) {
	ev, err := wire.DecodeUnsend(data)
	if err != nil {
		logger.Debugf("messenger: drop message-unsent: %v", err)
		return
	}
	m.Thread.ApplyUnsent(ev.ConversationID, ev.MessageID)
}

func (m *Messenger) onReaction(_ context.Context, data json.RawMessage) {
	ev, err := wire.DecodeReaction(data)
	if err != nil {
		logger.Debugf("messenger: drop message-reaction: %v", err)
		return
	}
	m.Thread.ApplyReactions(ev.ConversationID, ev.MessageID, ev.Reactions)
}
