package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/msgsync/internal/model"
)

// NewMessageEvent: "new-message": либо {conversationId, message}, либо само сообщение.
type NewMessageEvent struct {
	ConversationID string
	Message        model.Message
}

func DecodeNewMessage(data []byte) (NewMessageEvent, error) {
	var envelope struct {
		Conversation    Ref             `json:"conversationId"`
		AltConversation Ref             `json:"conversation"`
		Message         json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return NewMessageEvent{}, fmt.Errorf("decode new-message: %w", err)
	}
	convID := firstNonEmpty(envelope.Conversation.ID, envelope.AltConversation.ID)
	raw := data
	if len(envelope.Message) > 0 && !isNull(envelope.Message) && bytes.TrimSpace(envelope.Message)[0] == '{' {
		raw = envelope.Message
	}
	var wm Message
	if err := json.Unmarshal(raw, &wm); err != nil {
		return NewMessageEvent{}, fmt.Errorf("decode new-message body: %w", err)
	}
	m, err := wm.Model(convID)
	if err != nil {
		return NewMessageEvent{}, fmt.Errorf("decode new-message: %w", err)
	}
	return NewMessageEvent{ConversationID: m.ConversationID, Message: m}, nil
}

// TypingEvent: "user-typing", "user-typing-global" и их stop-варианты.
type TypingEvent struct {
	ConversationID string
	UserID         string
	UserName       string
}

func DecodeTyping(data []byte) (TypingEvent, error) {
	var w struct {
		Conversation Ref    `json:"conversationId"`
		User         Ref    `json:"userId"`
		AltUser      Ref    `json:"user"`
		UserName     string `json:"userName"`
		Username     string `json:"username"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return TypingEvent{}, fmt.Errorf("decode typing: %w", err)
	}
	user := firstRef(w.User, w.AltUser)
	ev := TypingEvent{
		ConversationID: w.Conversation.ID,
		UserID:         user.ID,
		UserName:       firstNonEmpty(w.UserName, w.Username, user.FullName, user.Username),
	}
	if ev.ConversationID == "" || ev.UserID == "" {
		return TypingEvent{}, fmt.Errorf("decode typing: %w", ErrMissingField)
	}
	return ev, nil
}

// ReceiptEvent: "messages-delivered" / "messages-seen": кто получил/прочитал и когда.
type ReceiptEvent struct {
	ConversationID string
	UserID         string
	At             time.Time
}

func DecodeReceipt(data []byte) (ReceiptEvent, error) {
	var w struct {
		Conversation Ref  `json:"conversationId"`
		User         Ref  `json:"userId"`
		SeenBy       Ref  `json:"seenBy"`
		DeliveredTo  Ref  `json:"deliveredTo"`
		Timestamp    Time `json:"timestamp"`
		SeenAt       Time `json:"seenAt"`
		DeliveredAt  Time `json:"deliveredAt"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return ReceiptEvent{}, fmt.Errorf("decode receipt: %w", err)
	}
	ev := ReceiptEvent{
		ConversationID: w.Conversation.ID,
		UserID:         firstRef(w.User, w.SeenBy, w.DeliveredTo).ID,
		At:             firstTime(w.Timestamp, w.SeenAt, w.DeliveredAt),
	}
	if ev.ConversationID == "" || ev.UserID == "" {
		return ReceiptEvent{}, fmt.Errorf("decode receipt: %w", ErrMissingField)
	}
	return ev, nil
}

// DecodePresence: "user-online"/"user-offline": голый id или {userId}.
func DecodePresence(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var r Ref
		if err := json.Unmarshal(trimmed, &r); err != nil {
			return "", fmt.Errorf("decode presence: %w", err)
		}
		if r.ID == "" {
			return "", fmt.Errorf("decode presence: %w", ErrMissingID)
		}
		return r.ID, nil
	}
	var w struct {
		User    Ref `json:"userId"`
		AltUser Ref `json:"user"`
	}
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return "", fmt.Errorf("decode presence: %w", err)
	}
	id := firstRef(w.User, w.AltUser).ID
	if id == "" {
		return "", fmt.Errorf("decode presence: %w", ErrMissingID)
	}
	return id, nil
}

// DecodeOnlineUsers: "online-users": массив id или ссылок, либо {users: [...]}.
func DecodeOnlineUsers(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	var refs []Ref
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var w struct {
			Users []Ref `json:"users"`
		}
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, fmt.Errorf("decode online-users: %w", err)
		}
		refs = w.Users
	} else if err := json.Unmarshal(trimmed, &refs); err != nil {
		return nil, fmt.Errorf("decode online-users: %w", err)
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

// UnsendEvent: "message-unsent".
type UnsendEvent struct {
	ConversationID string
	MessageID      string
}

func DecodeUnsend(data []byte) (UnsendEvent, error) {
	var w struct {
		Conversation Ref `json:"conversationId"`
		Message      Ref `json:"messageId"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return UnsendEvent{}, fmt.Errorf("decode message-unsent: %w", err)
	}
	if w.Conversation.ID == "" || w.Message.ID == "" {
		return UnsendEvent{}, fmt.Errorf("decode message-unsent: %w", ErrMissingField)
	}
	return UnsendEvent{ConversationID: w.Conversation.ID, MessageID: w.Message.ID}, nil
}

// ReactionEvent: "message-reaction": полный список реакций сообщения после изменения.
type ReactionEvent struct {
	ConversationID string
	MessageID      string
	Reactions      []model.Reaction
}

func DecodeReaction(data []byte) (ReactionEvent, error) {
	var w struct {
		Conversation Ref        `json:"conversationId"`
		Message      Ref        `json:"messageId"`
		Reactions    []Reaction `json:"reactions"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return ReactionEvent{}, fmt.Errorf("decode message-reaction: %w", err)
	}
	if w.Conversation.ID == "" || w.Message.ID == "" {
		return ReactionEvent{}, fmt.Errorf("decode message-reaction: %w", ErrMissingField)
	}
	return ReactionEvent{
		ConversationID: w.Conversation.ID,
		MessageID:      w.Message.ID,
		Reactions:      Reactions(w.Reactions),
	}, nil
}
