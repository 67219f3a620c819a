package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/ws"
)

// Send posts d to the open conversation and appends the returned message.
// In PendingNew it creates the conversation with d as the first message,
// adopts the returned conversation and asks the list to refresh.
func (t *Thread) Send(ctx context.Context, d model.Draft) (model.Message, error) {
	d = d.Normalize()
	if d.Empty() {
		return model.Message{}, ErrEmptyDraft
	}
	t.mu.Lock()
	state, convID, recipientID, gen := t.state, t.convID, t.recipientID, t.gen
	t.mu.Unlock()

	if state == StateClosed {
		return model.Message{}, ErrNotReady
	}
	t.typing.Stop()
	clientID := uuid.NewString()
	if state == StatePendingNew {
		return t.create(ctx, gen, recipientID, d, clientID)
	}

	m, err := t.backend.SendMessage(ctx, convID, d, clientID)
	if err != nil {
		logger.Errorf("thread: send conv=%s: %v", convID, err)
		return model.Message{}, fmt.Errorf("thread.Send: %w", err)
	}
	t.appendOwn(gen, m, recipientID)
	return m, nil
}

func (t *Thread) create(ctx context.Context, gen uint64, recipientID string, d model.Draft, clientID string) (model.Message, error) {
	created, err := t.backend.CreateConversation(ctx, recipientID, d, clientID)
	if err != nil {
		logger.Errorf("thread: create conversation with user=%s: %v", recipientID, err)
		return model.Message{}, fmt.Errorf("thread.Send: create: %w", err)
	}
	convID := created.Conversation.ID
	msgs, hasMore := created.Messages, false
	if len(msgs) == 0 {
		page, err := t.backend.ListMessages(ctx, convID, 1, t.pageSize)
		if err != nil {
			logger.Warnf("thread: first page of new conv=%s: %v", convID, err)
		}
		msgs, hasMore = page.Messages, page.HasMore
	}
	sent := pickSent(msgs, clientID, t.userID)

	// The conversation exists now whatever the thread shows.
	defer func() {
		if err := t.dir.LoadFirstPage(ctx); err != nil {
			logger.Warnf("thread: list refresh after create conv=%s: %v", convID, err)
		}
	}()

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return sent, nil
	}
	c := created.Conversation.Clone()
	t.convID = convID
	t.conv = &c
	t.messages = mergeSorted(msgs, nil)
	t.page = 1
	t.hasMore = hasMore
	t.joined = true
	t.state = StateReady
	t.mu.Unlock()

	logger.Infof("thread: created conv=%s with user=%s", convID, recipientID)
	t.join(convID)
	t.dir.SetActive(convID)
	t.emitSent(convID, sent.ID, recipientID)
	t.changed()
	return sent, nil
}

// pickSent finds the message the create call sent among the returned ones.
func pickSent(msgs []model.Message, clientID, userID string) model.Message {
	var last model.Message
	for _, m := range msgs {
		if m.ClientID != "" && m.ClientID == clientID {
			return m
		}
		if m.SenderID == userID && !m.Timestamp.Before(last.Timestamp) {
			last = m
		}
	}
	return last
}

// Reply posts text as a reply to targetID. The reply preview is the snapshot
// the backend returns; if it returns none, the local target as of now is used.
func (t *Thread) Reply(ctx context.Context, targetID, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyDraft
	}
	t.mu.Lock()
	state, convID, recipientID, gen := t.state, t.convID, t.recipientID, t.gen
	var snap *model.ReplySnapshot
	if idx := t.indexLocked(targetID); idx >= 0 {
		target := t.messages[idx]
		snap = &model.ReplySnapshot{MessageID: target.ID, SenderName: target.SenderName, Text: target.Text}
	}
	t.mu.Unlock()

	if convID == "" || state == StateClosed {
		return model.Message{}, ErrNotReady
	}
	t.typing.Stop()
	m, err := t.backend.Reply(ctx, convID, targetID, text)
	if err != nil {
		logger.Errorf("thread: reply conv=%s to=%s: %v", convID, targetID, err)
		return model.Message{}, fmt.Errorf("thread.Reply: %w", err)
	}
	if m.ReplyTo == nil && snap != nil {
		m.ReplyTo = snap
	}
	t.appendOwn(gen, m, recipientID)
	return m, nil
}

func (t *Thread) appendOwn(gen uint64, m model.Message, recipientID string) {
	t.mu.Lock()
	if gen != t.gen || m.ConversationID != t.convID {
		t.mu.Unlock()
		return
	}
	added := t.insertLocked(m)
	t.mu.Unlock()

	t.emitSent(m.ConversationID, m.ID, recipientID)
	if added {
		t.changed()
	}
}

func (t *Thread) emitSent(convID, messageID, recipientID string) {
	if messageID == "" {
		return
	}
	p := ws.MessageSentPayload{ConversationID: convID, MessageID: messageID, RecipientID: recipientID}
	if err := t.out.Emit(ws.EventMessageSent, p); err != nil {
		logger.Debugf("thread: message-sent conv=%s: %v", convID, err)
	}
}

// ToggleReaction waits for the backend and replaces the reaction list with
// the server's. Nothing changes locally on failure.
func (t *Thread) ToggleReaction(ctx context.Context, messageID, emoji string) ([]model.Reaction, error) {
	t.mu.Lock()
	convID, gen := t.convID, t.gen
	t.mu.Unlock()
	if convID == "" {
		return nil, ErrNotReady
	}
	reactions, err := t.backend.ToggleReaction(ctx, convID, messageID, emoji)
	if err != nil {
		return nil, fmt.Errorf("thread.ToggleReaction: %w", err)
	}
	t.mu.Lock()
	applied := gen == t.gen && t.setReactionsLocked(messageID, reactions)
	t.mu.Unlock()
	if applied {
		t.changed()
	}
	return reactions, nil
}

// DeleteLocal hides the message for the local user only.
func (t *Thread) DeleteLocal(ctx context.Context, messageID string) error {
	t.mu.Lock()
	convID, gen := t.convID, t.gen
	t.mu.Unlock()
	if convID == "" {
		return ErrNotReady
	}
	if err := t.backend.DeleteMessage(ctx, convID, messageID); err != nil {
		return fmt.Errorf("thread.DeleteLocal: %w", err)
	}
	t.removeIfCurrent(gen, messageID)
	return nil
}

// Unsend removes the local user's own message for every participant.
func (t *Thread) Unsend(ctx context.Context, messageID string) error {
	t.mu.Lock()
	convID, gen := t.convID, t.gen
	idx := t.indexLocked(messageID)
	own := idx >= 0 && t.messages[idx].SenderID == t.userID
	t.mu.Unlock()
	switch {
	case convID == "":
		return ErrNotReady
	case idx < 0:
		return ErrMessageNotFound
	case !own:
		return ErrNotOwnMessage
	}
	if err := t.backend.UnsendMessage(ctx, convID, messageID); err != nil {
		return fmt.Errorf("thread.Unsend: %w", err)
	}
	t.removeIfCurrent(gen, messageID)
	return nil
}

func (t *Thread) removeIfCurrent(gen uint64, messageID string) {
	t.mu.Lock()
	removed := gen == t.gen && t.removeLocked(messageID)
	t.mu.Unlock()
	if removed {
		t.changed()
	}
}

func (t *Thread) setReactionsLocked(messageID string, reactions []model.Reaction) bool {
	idx := t.indexLocked(messageID)
	if idx < 0 {
		return false
	}
	t.messages[idx].Reactions = append([]model.Reaction(nil), reactions...)
	return true
}
