package model

import "time"

type ConversationStatus string

const (
	ConversationStatusPrimary ConversationStatus = "primary"
	ConversationStatusRequest ConversationStatus = "request"
)

// LastMessage: сводка последнего сообщения для строки списка разговоров.
type LastMessage struct {
	ID          string    `json:"id,omitempty"`
	Text        string    `json:"text"`
	IsMedia     bool      `json:"is_media"`
	SenderID    string    `json:"sender_id"`
	Timestamp   time.Time `json:"timestamp"`
	IsDelivered bool      `json:"is_delivered"`
	IsRead      bool      `json:"is_read"`
}

type Conversation struct {
	ID           string             `json:"id"`
	Participants []UserRef          `json:"participants"`
	Status       ConversationStatus `json:"status"`
	LastMessage  *LastMessage       `json:"last_message,omitempty"`
	UnreadCount  int                `json:"unread_count"`
	IsMuted      bool               `json:"is_muted"`
	ThemeColor   string             `json:"theme_color,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`

	// Только на клиенте: заполняются из набора "печатает" при выдаче снимка.
	IsTyping       bool   `json:"is_typing"`
	TypingUserName string `json:"typing_user_name,omitempty"`
}

// ActivityTime: время последнего события, по нему сортируется список (по убыванию).
func (c *Conversation) ActivityTime() time.Time {
	if c.LastMessage != nil && c.LastMessage.Timestamp.After(c.UpdatedAt) {
		return c.LastMessage.Timestamp
	}
	return c.UpdatedAt
}

// HasParticipant сообщает, входит ли userID в разговор.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// Peer возвращает собеседника локального пользователя.
func (c *Conversation) Peer(localUserID string) (UserRef, bool) {
	for _, p := range c.Participants {
		if p.ID != localUserID {
			return p, true
		}
	}
	return UserRef{}, false
}

// Clone копирует разговор вместе с участниками и сводкой, чтобы снимки не делили память со списком.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = append([]UserRef(nil), c.Participants...)
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}
