// Package receipts sends delivered/seen signals for the open conversation and
// applies receipt broadcasts to the local user's outbound messages.
//
// Signals are fire-and-forget: a lost one is recovered by the next open or the
// next incoming message, which send them again.
package receipts

import (
	"context"
	"time"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/ws"
)

type Backend interface {
	MarkDelivered(ctx context.Context, conversationID string) error
}

// List is the conversation list: single writer of the unread badge.
type List interface {
	MarkRead(ctx context.Context, conversationID string) error
	ApplyReceipt(conversationID string, kind model.ReceiptKind, at time.Time)
}

type Thread interface {
	ApplyReceipt(conversationID string, kind model.ReceiptKind, fromUserID string, at time.Time) int
}

type Tracker struct {
	userID  string
	backend Backend
	out     ws.Emitter
	list    List
	thread  Thread
}

func New(userID string, backend Backend, out ws.Emitter, list List, thread Thread) *Tracker {
	return &Tracker{userID: userID, backend: backend, out: out, list: list, thread: thread}
}

// ThreadVisible marks conversationID delivered and seen: PUT delivered,
// mark-seen on the socket, and the list's MarkRead (which persists read).
// Errors are logged only.
func (t *Tracker) ThreadVisible(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	if err := t.backend.MarkDelivered(ctx, conversationID); err != nil {
		logger.Warnf("receipts: delivered conv=%s: %v", conversationID, err)
	}
	if err := t.out.Emit(ws.EventMarkSeen, ws.MarkSeenPayload{ConversationID: conversationID, UserID: t.userID}); err != nil {
		logger.Debugf("receipts: mark-seen conv=%s: %v", conversationID, err)
	}
	if err := t.list.MarkRead(ctx, conversationID); err != nil {
		logger.Debugf("receipts: read conv=%s: %v", conversationID, err)
	}
}

// Apply forwards a receipt broadcast from another participant to the thread
// and the list. Receipts from the local user are meaningless and dropped.
func (t *Tracker) Apply(kind model.ReceiptKind, conversationID, fromUserID string, at time.Time) {
	if fromUserID == t.userID {
		return
	}
	n := t.thread.ApplyReceipt(conversationID, kind, fromUserID, at)
	if conversationID != "" {
		t.list.ApplyReceipt(conversationID, kind, at)
	}
	if n > 0 {
		logger.Debugf("receipts: %s conv=%s from=%s upgraded=%d", kind, conversationID, fromUserID, n)
	}
}
