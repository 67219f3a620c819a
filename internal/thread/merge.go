package thread

import (
	"time"

	"github.com/msgsync/internal/metrics"
	"github.com/msgsync/internal/model"
)

// MergeIncomingMessage appends a real-time message of the open conversation.
// Own messages are skipped: they arrive through the Send result. Returns true
// when the message was appended, so the caller can send receipts.
func (t *Thread) MergeIncomingMessage(msg model.Message) bool {
	if msg.SenderID == t.userID {
		return false
	}
	t.mu.Lock()
	if t.convID == "" || msg.ConversationID != t.convID {
		t.mu.Unlock()
		return false
	}
	added := t.insertLocked(msg)
	t.mu.Unlock()

	t.remote.Stop(msg.ConversationID, msg.SenderID)
	if added {
		t.changed()
	}
	return added
}

// ApplyReceipt upgrades the local user's messages in conversationID that were
// sent at or before at (all of them when at is zero). Self-receipts are
// ignored. The upgrade is monotonic: a read message stays read.
func (t *Thread) ApplyReceipt(conversationID string, kind model.ReceiptKind, fromUserID string, at time.Time) int {
	if fromUserID == t.userID {
		return 0
	}
	t.mu.Lock()
	if t.convID == "" || (conversationID != "" && conversationID != t.convID) {
		t.mu.Unlock()
		return 0
	}
	n := 0
	for i := range t.messages {
		m := &t.messages[i]
		if m.SenderID != t.userID {
			continue
		}
		if !at.IsZero() && m.Timestamp.After(at) {
			continue
		}
		if m.Upgrade(kind) {
			n++
		}
	}
	t.mu.Unlock()

	metrics.ReceiptsApplied(string(kind), n)
	if n > 0 {
		t.changed()
	}
	return n
}

// ApplyUnsent removes a message another participant unsent.
func (t *Thread) ApplyUnsent(conversationID, messageID string) bool {
	t.mu.Lock()
	removed := conversationID == t.convID && t.removeLocked(messageID)
	t.mu.Unlock()
	if removed {
		t.changed()
	}
	return removed
}

// ApplyReactions replaces a message's reactions from a real-time event.
func (t *Thread) ApplyReactions(conversationID, messageID string, reactions []model.Reaction) bool {
	t.mu.Lock()
	applied := conversationID == t.convID && t.setReactionsLocked(messageID, reactions)
	t.mu.Unlock()
	if applied {
		t.changed()
	}
	return applied
}

// MergeTyping shows userID typing inline in the open conversation.
func (t *Thread) MergeTyping(conversationID, userID, userName string) {
	t.mu.Lock()
	open := t.convID != "" && conversationID == t.convID
	t.mu.Unlock()
	if !open || userID == t.userID {
		return
	}
	t.remote.Start(conversationID, userID, userName)
}

func (t *Thread) MergeStopTyping(conversationID, userID string) {
	t.remote.Stop(conversationID, userID)
}

// Keystroke forwards a local keystroke to the typing emitter. Nothing is sent
// while the conversation does not exist yet.
func (t *Thread) Keystroke() {
	t.mu.Lock()
	convID, recipientID := t.convID, t.recipientID
	t.mu.Unlock()
	if convID == "" {
		return
	}
	t.typing.Keystroke(convID, recipientID)
}
