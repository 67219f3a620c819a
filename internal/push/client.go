// Package push показывает уведомления о непрочитанных входящих сообщениях:
// либо через отдельный push-сервис (Client), либо напрямую по Web Push (WebPush).
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/msgsync/internal/model"
)

// Subscription: подписка из браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Payload: то, что видит пользователь в уведомлении.
type Payload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

const previewLimit = 120

// PayloadFor строит уведомление о сообщении msg в разговоре conv.
func PayloadFor(conv model.Conversation, msg model.Message) Payload {
	title := msg.SenderName
	if title == "" {
		title = "Новое сообщение"
	}
	body := msg.Text
	if msg.Type == model.MessageTypeImage && body == "" {
		body = "Фото"
	}
	if r := []rune(body); len(r) > previewLimit {
		body = string(r[:previewLimit]) + "…"
	}
	return Payload{
		Title: title,
		Body:  body,
		Data: map[string]string{
			"conversation_id": conv.ID,
			"message_id":      msg.ID,
			"sender_id":       msg.SenderID,
		},
	}
}

// Client вызывает микросервис пуш-уведомлений от имени userID. Если URL пустой, методы no-op.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой, пуши отключены.
func NewClient(baseURL, userID string) *Client {
	if baseURL == "" {
		return &Client{userID: userID}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Enabled() bool { return c.baseURL != "" }

type subscribeRequest struct {
	UserID       string       `json:"user_id"`
	Subscription Subscription `json:"subscription"`
}

type notifyRequest struct {
	UserID string `json:"user_id"`
	Payload
}

// Subscribe сохраняет подписку на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, sub Subscription) error {
	return c.call(ctx, "subscribe", http.MethodPost, "/api/subscribe", subscribeRequest{UserID: c.userID, Subscription: sub})
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, endpoint string) error {
	return c.call(ctx, "unsubscribe", http.MethodDelete, "/api/subscribe", map[string]string{"user_id": c.userID, "endpoint": endpoint})
}

// Notify отправляет уведомление о входящем сообщении.
func (c *Client) Notify(ctx context.Context, conv model.Conversation, msg model.Message) error {
	return c.call(ctx, "notify", http.MethodPost, "/api/notify", notifyRequest{UserID: c.userID, Payload: PayloadFor(conv, msg)})
}

func (c *Client) call(ctx context.Context, op, method, path string, in any) error {
	if c.baseURL == "" {
		return nil
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("push %s: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push %s: %d", op, resp.StatusCode)
	}
	return nil
}
