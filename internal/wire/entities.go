package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
)

type Reaction struct {
	Emoji   string `json:"emoji"`
	User    Ref    `json:"userId"`
	AltUser Ref    `json:"user"`
}

// Reply: цитата; бэкенд отдаёт либо объект-снимок, либо голый id (если не развернул).
type Reply struct {
	MessageID  string
	SenderName string
	Text       string
}

type replyObject struct {
	MessageID  Ref    `json:"messageId"`
	ID         string `json:"_id"`
	AltID      string `json:"id"`
	SenderName string `json:"senderName"`
	Sender     Ref    `json:"sender"`
	Text       string `json:"text"`
}

func (r *Reply) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*r = Reply{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = Reply{MessageID: s}
		return nil
	}
	var o replyObject
	if err := json.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("wire reply: %w", err)
	}
	senderName := o.SenderName
	if senderName == "" {
		senderName = firstNonEmpty(o.Sender.FullName, o.Sender.Username)
	}
	*r = Reply{
		MessageID:  firstNonEmpty(o.MessageID.ID, o.ID, o.AltID),
		SenderName: senderName,
		Text:       o.Text,
	}
	return nil
}

type Message struct {
	ID              string     `json:"_id"`
	AltID           string     `json:"id"`
	ClientID        string     `json:"clientMessageId"`
	Conversation    Ref        `json:"conversationId"`
	AltConversation Ref        `json:"conversation"`
	Sender          Ref        `json:"senderId"`
	AltSender       Ref        `json:"sender"`
	Type            string     `json:"type"`
	Text            string     `json:"text"`
	Media           string     `json:"media"`
	MediaURL        string     `json:"mediaUrl"`
	CreatedAt       Time       `json:"createdAt"`
	Timestamp       Time       `json:"timestamp"`
	IsDelivered     bool       `json:"isDelivered"`
	IsRead          bool       `json:"isRead"`
	Seen            bool       `json:"seen"`
	Reactions       []Reaction `json:"reactions"`
	ReplyTo         *Reply     `json:"replyTo"`
}

// Model проверяет обязательные поля и строит model.Message.
// conversationID подставляется, если в самом сообщении его нет (ответ REST по URL разговора).
func (w *Message) Model(conversationID string) (model.Message, error) {
	id := firstNonEmpty(w.ID, w.AltID)
	if id == "" {
		return model.Message{}, ErrMissingID
	}
	sender := firstRef(w.Sender, w.AltSender)
	if sender.ID == "" {
		return model.Message{}, fmt.Errorf("message %s: %w", id, ErrMissingSender)
	}
	convID := firstNonEmpty(w.Conversation.ID, w.AltConversation.ID, conversationID)
	if convID == "" {
		return model.Message{}, fmt.Errorf("message %s conversation: %w", id, ErrMissingField)
	}
	ts := firstTime(w.CreatedAt, w.Timestamp)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	media := firstNonEmpty(w.Media, w.MediaURL)
	typ := model.MessageType(w.Type)
	if typ != model.MessageTypeText && typ != model.MessageTypeImage {
		typ = model.MessageTypeText
		if w.Text == "" && media != "" {
			typ = model.MessageTypeImage
		}
	}
	m := model.Message{
		ID:             id,
		ClientID:       w.ClientID,
		ConversationID: convID,
		SenderID:       sender.ID,
		SenderName:     firstNonEmpty(sender.FullName, sender.Username),
		Type:           typ,
		Text:           w.Text,
		Media:          media,
		Timestamp:      ts,
		IsRead:         w.IsRead || w.Seen,
		Reactions:      Reactions(w.Reactions),
	}
	m.IsDelivered = w.IsDelivered || m.IsRead
	if w.ReplyTo != nil && w.ReplyTo.MessageID != "" {
		m.ReplyTo = &model.ReplySnapshot{
			MessageID:  w.ReplyTo.MessageID,
			SenderName: w.ReplyTo.SenderName,
			Text:       w.ReplyTo.Text,
		}
	}
	return m, nil
}

// Reactions отбрасывает пустые записи и дубликаты пары (emoji, user), сохраняя порядок.
func Reactions(in []Reaction) []model.Reaction {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[model.Reaction]struct{}, len(in))
	out := make([]model.Reaction, 0, len(in))
	for _, r := range in {
		user := firstRef(r.User, r.AltUser)
		if r.Emoji == "" || user.ID == "" {
			continue
		}
		key := model.Reaction{Emoji: r.Emoji, UserID: user.ID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

type LastMessage struct {
	ID          string `json:"_id"`
	AltID       string `json:"id"`
	Text        string `json:"text"`
	Sender      Ref    `json:"sender"`
	AltSender   Ref    `json:"senderId"`
	Type        string `json:"type"`
	Media       string `json:"media"`
	Timestamp   Time   `json:"timestamp"`
	CreatedAt   Time   `json:"createdAt"`
	IsDelivered bool   `json:"isDelivered"`
	IsRead      bool   `json:"isRead"`
	Seen        bool   `json:"seen"`
}

type Conversation struct {
	ID           string       `json:"_id"`
	AltID        string       `json:"id"`
	Participants []Ref        `json:"participants"`
	Status       string       `json:"status"`
	LastMessage  *LastMessage `json:"lastMessage"`
	UnreadCount  int          `json:"unreadCount"`
	IsMuted      bool         `json:"isMuted"`
	ThemeColor   string       `json:"themeColor"`
	UpdatedAt    Time         `json:"updatedAt"`
	CreatedAt    Time         `json:"createdAt"`
}

func (w *Conversation) Model() (model.Conversation, error) {
	id := firstNonEmpty(w.ID, w.AltID)
	if id == "" {
		return model.Conversation{}, ErrMissingID
	}
	c := model.Conversation{
		ID:          id,
		Status:      model.ConversationStatusPrimary,
		UnreadCount: w.UnreadCount,
		IsMuted:     w.IsMuted,
		ThemeColor:  w.ThemeColor,
		UpdatedAt:   firstTime(w.UpdatedAt, w.CreatedAt),
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	if w.Status == string(model.ConversationStatusRequest) {
		c.Status = model.ConversationStatusRequest
	}
	seen := make(map[string]struct{}, len(w.Participants))
	for _, p := range w.Participants {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		c.Participants = append(c.Participants, model.UserRef{
			ID:        p.ID,
			Username:  p.Username,
			FullName:  p.FullName,
			AvatarURL: p.Avatar,
		})
	}
	if lm := w.LastMessage; lm != nil {
		sender := firstRef(lm.Sender, lm.AltSender)
		c.LastMessage = &model.LastMessage{
			ID:          firstNonEmpty(lm.ID, lm.AltID),
			Text:        lm.Text,
			IsMedia:     lm.Type == string(model.MessageTypeImage) || (lm.Text == "" && lm.Media != ""),
			SenderID:    sender.ID,
			Timestamp:   firstTime(lm.Timestamp, lm.CreatedAt),
			IsRead:      lm.IsRead || lm.Seen,
			IsDelivered: lm.IsDelivered || lm.IsRead || lm.Seen,
		}
	}
	return c, nil
}

// Conversations конвертирует страницу, пропуская записи без id (логируются).
func Conversations(in []Conversation) []model.Conversation {
	out := make([]model.Conversation, 0, len(in))
	for i := range in {
		c, err := in[i].Model()
		if err != nil {
			logger.Warnf("wire: conversation[%d] dropped: %v", i, err)
			continue
		}
		out = append(out, c)
	}
	return out
}

// Messages конвертирует страницу сообщений разговора conversationID, пропуская невалидные.
func Messages(in []Message, conversationID string) []model.Message {
	out := make([]model.Message, 0, len(in))
	for i := range in {
		m, err := in[i].Model(conversationID)
		if err != nil {
			logger.Warnf("wire: message[%d] conv=%s dropped: %v", i, conversationID, err)
			continue
		}
		out = append(out, m)
	}
	return out
}
