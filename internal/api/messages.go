package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/wire"
)

// ConversationPage: одна страница списка разговоров.
type ConversationPage struct {
	Conversations []model.Conversation
	HasMore       bool
}

// MessagePage: одна страница сообщений разговора, от старых к новым.
type MessagePage struct {
	Messages     []model.Message
	Conversation *model.Conversation
	HasMore      bool
}

// Created: результат создания разговора вместе с первым сообщением.
type Created struct {
	Conversation model.Conversation
	Messages     []model.Message
}

// MuteState: состояние mute после переключения. Reported=false: бэкенд его не вернул.
type MuteState struct {
	IsMuted  bool
	Reported bool
}

func (c *Client) ListConversations(ctx context.Context, page, limit int) (ConversationPage, error) {
	var resp struct {
		Conversations []wire.Conversation `json:"conversations"`
		HasMore       bool                `json:"hasMore"`
		Pagination    struct {
			HasMore bool `json:"hasMore"`
		} `json:"pagination"`
	}
	if err := c.do(ctx, "ListConversations", http.MethodGet, "/messages/conversations"+pageQuery(page, limit), nil, &resp); err != nil {
		return ConversationPage{}, err
	}
	return ConversationPage{
		Conversations: wire.Conversations(resp.Conversations),
		HasMore:       resp.HasMore || resp.Pagination.HasMore,
	}, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, page, limit int) (MessagePage, error) {
	var resp struct {
		Messages     []wire.Message     `json:"messages"`
		Conversation *wire.Conversation `json:"conversation"`
		HasMore      bool               `json:"hasMore"`
		Pagination   struct {
			HasMore bool `json:"hasMore"`
		} `json:"pagination"`
	}
	if err := c.do(ctx, "ListMessages", http.MethodGet, conversationPath(conversationID)+pageQuery(page, limit), nil, &resp); err != nil {
		return MessagePage{}, err
	}
	out := MessagePage{
		Messages: wire.Messages(resp.Messages, conversationID),
		HasMore:  resp.HasMore || resp.Pagination.HasMore,
	}
	if resp.Conversation != nil {
		if conv, err := resp.Conversation.Model(); err == nil {
			out.Conversation = &conv
		}
	}
	return out, nil
}

type draftBody struct {
	Type            model.MessageType `json:"type"`
	Text            string            `json:"text"`
	Media           string            `json:"media,omitempty"`
	ClientMessageID string            `json:"clientMessageId,omitempty"`
}

// CreateConversation создаёт разговор с recipientID и первым сообщением одним вызовом.
// Если бэкенд не вернул сообщения, Messages пустой: вызывающий догружает первую страницу.
func (c *Client) CreateConversation(ctx context.Context, recipientID string, d model.Draft, clientID string) (Created, error) {
	d = d.Normalize()
	body := struct {
		RecipientID string `json:"recipientId"`
		Message     string `json:"message"`
		draftBody
	}{
		RecipientID: recipientID,
		Message:     d.Text,
		draftBody:   draftBody{Type: d.Type, Text: d.Text, Media: d.Media, ClientMessageID: clientID},
	}
	var resp struct {
		Conversation wire.Conversation `json:"conversation"`
		Messages     []wire.Message    `json:"messages"`
		Message      *wire.Message     `json:"message"`
	}
	if err := c.do(ctx, "CreateConversation", http.MethodPost, "/messages/conversations", body, &resp); err != nil {
		return Created{}, err
	}
	conv, err := resp.Conversation.Model()
	if err != nil {
		return Created{}, fmt.Errorf("api.CreateConversation: %w", err)
	}
	out := Created{Conversation: conv, Messages: wire.Messages(resp.Messages, conv.ID)}
	if len(out.Messages) == 0 && resp.Message != nil {
		out.Messages = wire.Messages([]wire.Message{*resp.Message}, conv.ID)
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID string, d model.Draft, clientID string) (model.Message, error) {
	d = d.Normalize()
	body := draftBody{Type: d.Type, Text: d.Text, Media: d.Media, ClientMessageID: clientID}
	return c.messageCall(ctx, "SendMessage", conversationPath(conversationID, "send"), conversationID, body)
}

func (c *Client) Reply(ctx context.Context, conversationID, replyToID, text string) (model.Message, error) {
	body := struct {
		ReplyToMessageID string            `json:"replyToMessageId"`
		Text             string            `json:"text"`
		Type             model.MessageType `json:"type"`
	}{ReplyToMessageID: replyToID, Text: text, Type: model.MessageTypeText}
	return c.messageCall(ctx, "Reply", conversationPath(conversationID, "reply"), conversationID, body)
}

func (c *Client) messageCall(ctx context.Context, op, path, conversationID string, body any) (model.Message, error) {
	var resp struct {
		Message wire.Message `json:"message"`
	}
	if err := c.do(ctx, op, http.MethodPost, path, body, &resp); err != nil {
		return model.Message{}, err
	}
	m, err := resp.Message.Model(conversationID)
	if err != nil {
		return model.Message{}, fmt.Errorf("api.%s: %w", op, err)
	}
	return m, nil
}

// ToggleReaction возвращает полный список реакций сообщения после переключения.
func (c *Client) ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) ([]model.Reaction, error) {
	var resp struct {
		Reactions []wire.Reaction `json:"reactions"`
	}
	body := map[string]string{"emoji": emoji}
	if err := c.do(ctx, "ToggleReaction", http.MethodPost, conversationPath(conversationID, "message", messageID, "reaction"), body, &resp); err != nil {
		return nil, err
	}
	return wire.Reactions(resp.Reactions), nil
}

// DeleteMessage скрывает сообщение только для текущего пользователя.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	return c.do(ctx, "DeleteMessage", http.MethodDelete, conversationPath(conversationID, "message", messageID), nil, nil)
}

// UnsendMessage удаляет сообщение у всех участников.
func (c *Client) UnsendMessage(ctx context.Context, conversationID, messageID string) error {
	return c.do(ctx, "UnsendMessage", http.MethodDelete, conversationPath(conversationID, "message", messageID, "unsend"), nil, nil)
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, "MarkRead", http.MethodPut, conversationPath(conversationID, "read"), nil, nil)
}

func (c *Client) MarkDelivered(ctx context.Context, conversationID string) error {
	return c.do(ctx, "MarkDelivered", http.MethodPut, conversationPath(conversationID, "delivered"), nil, nil)
}

func (c *Client) ToggleMute(ctx context.Context, conversationID string) (MuteState, error) {
	var resp struct {
		IsMuted      *bool `json:"isMuted"`
		Conversation *struct {
			IsMuted *bool `json:"isMuted"`
		} `json:"conversation"`
	}
	if err := c.do(ctx, "ToggleMute", http.MethodPut, conversationPath(conversationID, "mute"), nil, &resp); err != nil {
		return MuteState{}, err
	}
	switch {
	case resp.IsMuted != nil:
		return MuteState{IsMuted: *resp.IsMuted, Reported: true}, nil
	case resp.Conversation != nil && resp.Conversation.IsMuted != nil:
		return MuteState{IsMuted: *resp.Conversation.IsMuted, Reported: true}, nil
	}
	return MuteState{}, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, "DeleteConversation", http.MethodDelete, "/messages/conversations/"+url.PathEscape(conversationID), nil, nil)
}
