package ws

import (
	"context"
	"encoding/json"
)

type EventType string

// Events the server sends to us.
const (
	EventNewMessage           EventType = "new-message"
	EventUserTyping           EventType = "user-typing"
	EventUserTypingGlobal     EventType = "user-typing-global"
	EventUserStopTyping       EventType = "user-stop-typing"
	EventUserStopTypingGlobal EventType = "user-stop-typing-global"
	EventMessagesDelivered    EventType = "messages-delivered"
	EventMessagesSeen         EventType = "messages-seen"
	EventUserOnline           EventType = "user-online"
	EventUserOffline          EventType = "user-offline"
	EventOnlineUsers          EventType = "online-users"
	EventMessageUnsent        EventType = "message-unsent"
	EventMessageReaction      EventType = "message-reaction"
)

// Events we send to the server.
const (
	EventRegister          EventType = "register"
	EventJoinUserRoom      EventType = "join-user-room"
	EventJoinConversation  EventType = "join-conversation"
	EventLeaveConversation EventType = "leave-conversation"
	EventMarkSeen          EventType = "mark-seen"
	EventMessageSent       EventType = "message-sent"
	EventTyping            EventType = "typing"
	EventStopTyping        EventType = "stop-typing"
)

// Envelope is a frame read from the server. Data is left raw: the manager
// does not interpret payloads, subscribers decode them with package wire.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutgoingMessage is a frame we write to the server.
type OutgoingMessage struct {
	Event EventType `json:"event"`
	Data  any       `json:"data,omitempty"`
}

// Handler receives the raw payload of a subscribed event.
type Handler func(ctx context.Context, data json.RawMessage)

// Emitter is the part of the manager the synchronizers depend on.
type Emitter interface {
	Emit(event EventType, data any) error
}

// --- Typed outgoing payloads ---

// ConversationPayload is sent with join-conversation and leave-conversation.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload is sent with typing and stop-typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
	RecipientID    string `json:"recipientId,omitempty"`
}

// MarkSeenPayload is sent when the open thread has been seen.
type MarkSeenPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// MessageSentPayload tells the server a REST send succeeded so it can fan out.
type MessageSentPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	RecipientID    string `json:"recipientId,omitempty"`
}
