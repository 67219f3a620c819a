package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/msgsync/internal/model"
)

// SnapshotTTL: сколько живёт снимок; старый список полезнее пустого, но не вечно.
const SnapshotTTL = 7 * 24 * time.Hour

// SnapshotStore хранит последний загруженный список разговоров пользователя,
// чтобы после перезапуска список показывался до ответа бэкенда.
// Реализации: memory.Client, redis.Client, repository.SnapshotRepository (postgres).
type SnapshotStore interface {
	SaveConversations(ctx context.Context, userID string, convs []model.Conversation) error
	// LoadConversations возвращает nil без ошибки, если снимка нет.
	LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	Close() error
}

type snapshot struct {
	SavedAt       time.Time            `json:"saved_at"`
	Conversations []model.Conversation `json:"conversations"`
}

// Encode сериализует список; транзиентные поля набора не сохраняются.
func Encode(convs []model.Conversation) ([]byte, error) {
	s := snapshot{SavedAt: time.Now().UTC(), Conversations: make([]model.Conversation, len(convs))}
	for i, c := range convs {
		c = c.Clone()
		c.IsTyping = false
		c.TypingUserName = ""
		s.Conversations[i] = c
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("storage.Encode: %w", err)
	}
	return data, nil
}

func Decode(data []byte) ([]model.Conversation, error) {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("storage.Decode: %w", err)
	}
	return s.Conversations, nil
}
