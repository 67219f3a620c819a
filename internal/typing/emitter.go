// Package typing coordinates typing indicators in both directions.
//
// Emitter turns local keystrokes into typing/stop-typing signals with an idle
// window. Set holds typing state reported by other users and expires it on its
// own, since the sender is not trusted to always send stop-typing.
package typing

import (
	"sync"
	"time"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/ws"
)

// DefaultIdle is how long after the last keystroke stop-typing is sent.
const DefaultIdle = 2 * time.Second

// Emitter sends the local user's typing state. At most one conversation is
// outstanding at a time: the open thread.
type Emitter struct {
	out      ws.Emitter
	userID   string
	userName string
	idle     time.Duration

	mu     sync.Mutex
	active *ws.TypingPayload
	timer  *time.Timer
	gen    uint64
}

func NewEmitter(out ws.Emitter, userID, userName string, idle time.Duration) *Emitter {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Emitter{out: out, userID: userID, userName: userName, idle: idle}
}

// Keystroke emits typing for conversationID and re-arms the idle timer.
// When the socket is down nothing is queued and no timer is armed.
func (e *Emitter) Keystroke(conversationID, recipientID string) {
	if conversationID == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil && e.active.ConversationID != conversationID {
		e.stopLocked()
	}
	p := ws.TypingPayload{
		ConversationID: conversationID,
		UserID:         e.userID,
		UserName:       e.userName,
		RecipientID:    recipientID,
	}
	if err := e.out.Emit(ws.EventTyping, p); err != nil {
		logger.Debugf("typing: emit conv=%s: %v", conversationID, err)
		e.clearLocked()
		return
	}
	e.active = &p
	e.gen++
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.idle, func() { e.expire(gen) })
}

// Stop sends stop-typing right away if a typing signal is outstanding.
// Called on send, on thread close and on conversation switch.
func (e *Emitter) Stop() {
	e.mu.Lock()
	e.stopLocked()
	e.mu.Unlock()
}

// Active reports the conversation with an outstanding typing signal.
func (e *Emitter) Active() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return "", false
	}
	return e.active.ConversationID, true
}

func (e *Emitter) expire(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.stopLocked()
}

func (e *Emitter) stopLocked() {
	if e.active == nil {
		return
	}
	if err := e.out.Emit(ws.EventStopTyping, *e.active); err != nil {
		logger.Debugf("typing: emit stop conv=%s: %v", e.active.ConversationID, err)
	}
	e.clearLocked()
}

func (e *Emitter) clearLocked() {
	e.active = nil
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
