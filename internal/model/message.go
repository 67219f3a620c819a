package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
)

type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "delivered"
	ReceiptRead      ReceiptKind = "read"
)

type Message struct {
	ID             string         `json:"id"`
	ClientID       string         `json:"client_id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	SenderName     string         `json:"sender_name,omitempty"`
	Type           MessageType    `json:"type"`
	Text           string         `json:"text"`
	Media          string         `json:"media,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	IsDelivered    bool           `json:"is_delivered"`
	IsRead         bool           `json:"is_read"`
	Reactions      []Reaction     `json:"reactions,omitempty"`
	ReplyTo        *ReplySnapshot `json:"reply_to,omitempty"`
}

// Reaction: одна пара (emoji, user). Повторная отправка той же пары снимает реакцию на сервере.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"user_id"`
}

// ReplySnapshot фиксирует цитируемое сообщение на момент ответа и больше не обновляется.
type ReplySnapshot struct {
	MessageID  string `json:"message_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text"`
}

// Upgrade применяет квитанцию монотонно: read подразумевает delivered, откат невозможен.
// Возвращает true, если состояние изменилось.
func (m *Message) Upgrade(kind ReceiptKind) bool {
	switch kind {
	case ReceiptRead:
		if m.IsRead && m.IsDelivered {
			return false
		}
		m.IsRead = true
		m.IsDelivered = true
		return true
	case ReceiptDelivered:
		if m.IsDelivered {
			return false
		}
		m.IsDelivered = true
		return true
	}
	return false
}

// Summary строит сводку для списка разговоров.
func (m *Message) Summary() *LastMessage {
	return &LastMessage{
		ID:          m.ID,
		Text:        m.Text,
		IsMedia:     m.Type == MessageTypeImage || (m.Text == "" && m.Media != ""),
		SenderID:    m.SenderID,
		Timestamp:   m.Timestamp,
		IsDelivered: m.IsDelivered,
		IsRead:      m.IsRead,
	}
}

// Clone копирует сообщение вместе с реакциями и снимком ответа.
func (m Message) Clone() Message {
	out := m
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}

// Draft: то, что пользователь отправляет: текст или изображение (уже загруженное, в Media лежит URL).
type Draft struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Media string      `json:"media,omitempty"`
}

// Normalize обрезает пробелы и подставляет тип по содержимому.
func (d Draft) Normalize() Draft {
	d.Text = strings.TrimSpace(d.Text)
	d.Media = strings.TrimSpace(d.Media)
	if d.Type == "" {
		d.Type = MessageTypeText
		if d.Text == "" && d.Media != "" {
			d.Type = MessageTypeImage
		}
	}
	return d
}

// Empty: нечего отправлять.
func (d Draft) Empty() bool {
	return d.Text == "" && d.Media == ""
}
