// Package thread owns the ordered message sequence of the open conversation.
//
// State machine: Closed -> Loading -> Ready, Ready <-> LoadingOlder, and
// PendingNew -> Ready once the first send has created the conversation.
// Opening another conversation discards the previous sequence. Every backend
// call captures the generation first; a response whose generation is no longer
// current is dropped (ErrStale).
package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/msgsync/internal/api"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/metrics"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/typing"
	"github.com/msgsync/internal/ws"
)

const DefaultPageSize = 30

var (
	ErrNotReady        = errors.New("thread: no conversation is open")
	ErrStale           = errors.New("thread: conversation changed while the request was in flight")
	ErrNotOwnMessage   = errors.New("thread: only your own messages can be unsent")
	ErrMessageNotFound = errors.New("thread: message not in the open thread")
	ErrEmptyDraft      = errors.New("thread: nothing to send")
	ErrNoTarget        = errors.New("thread: conversation id or recipient id required")
)

type State string

const (
	StateClosed       State = "closed"
	StateLoading      State = "loading"
	StateReady        State = "ready"
	StateLoadingOlder State = "loading_older"
	StatePendingNew   State = "pending_new"
)

type Backend interface {
	ListMessages(ctx context.Context, conversationID string, page, limit int) (api.MessagePage, error)
	CreateConversation(ctx context.Context, recipientID string, d model.Draft, clientID string) (api.Created, error)
	SendMessage(ctx context.Context, conversationID string, d model.Draft, clientID string) (model.Message, error)
	Reply(ctx context.Context, conversationID, replyToID, text string) (model.Message, error)
	ToggleReaction(ctx context.Context, conversationID, messageID, emoji string) ([]model.Reaction, error)
	DeleteMessage(ctx context.Context, conversationID, messageID string) error
	UnsendMessage(ctx context.Context, conversationID, messageID string) error
}

// Directory is what the thread needs from the conversation list.
type Directory interface {
	FindByParticipant(userID string) (model.Conversation, bool)
	Get(conversationID string) (model.Conversation, bool)
	SetActive(conversationID string)
	LoadFirstPage(ctx context.Context) error
}

// Target selects what Open shows: an existing conversation or a recipient.
type Target struct {
	ConversationID string `json:"conversation_id,omitempty"`
	RecipientID    string `json:"recipient_id,omitempty"`
}

// MeasureFunc returns the content height the given messages add when
// rendered. The default counts one unit per message.
type MeasureFunc func(msgs []model.Message) float64

// Prepend reports what LoadOlderPage added so the caller can keep its scroll anchor.
type Prepend struct {
	Added       int     `json:"added"`
	HeightDelta float64 `json:"height_delta"`
}

type Options struct {
	UserID    string
	PageSize  int
	Backend   Backend
	Directory Directory
	Emitter   ws.Emitter
	Typing    *typing.Emitter
	// Optional.
	Remote  *typing.Set
	Measure MeasureFunc
}

// View is a copy of the thread state for readers.
type View struct {
	State          State               `json:"state"`
	ConversationID string              `json:"conversation_id,omitempty"`
	RecipientID    string              `json:"recipient_id,omitempty"`
	Conversation   *model.Conversation `json:"conversation,omitempty"`
	Messages       []model.Message     `json:"messages"`
	HasMore        bool                `json:"has_more"`
	TypingUserName string              `json:"typing_user_name,omitempty"`
	// SelfTyping: локальный пользователь печатает, сигнал ещё не снят.
	SelfTyping     bool                `json:"self_typing"`
}

type Thread struct {
	userID   string
	pageSize int
	backend  Backend
	dir      Directory
	out      ws.Emitter
	typing   *typing.Emitter
	remote   *typing.Set
	measure  MeasureFunc

	mu          sync.Mutex
	state       State
	convID      string
	recipientID string
	conv        *model.Conversation
	messages    []model.Message
	page        int
	hasMore     bool
	gen         uint64
	joined      bool
	onChange    func()
}

func New(opts Options) *Thread {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Remote == nil {
		opts.Remote = typing.NewSet(typing.DefaultTTL)
	}
	if opts.Measure == nil {
		opts.Measure = func(msgs []model.Message) float64 { return float64(len(msgs)) }
	}
	t := &Thread{
		userID:   opts.UserID,
		pageSize: opts.PageSize,
		backend:  opts.Backend,
		dir:      opts.Directory,
		out:      opts.Emitter,
		typing:   opts.Typing,
		remote:   opts.Remote,
		measure:  opts.Measure,
		state:    StateClosed,
	}
	t.remote.OnChange(func(string) { t.changed() })
	return t
}

func (t *Thread) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Thread) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Open shows target, discarding whatever was open. A recipient with an
// existing conversation opens that conversation; otherwise the thread waits in
// PendingNew until the first Send creates it.
func (t *Thread) Open(ctx context.Context, target Target) error {
	convID, recipientID := target.ConversationID, target.RecipientID
	if convID == "" && recipientID == "" {
		return ErrNoTarget
	}
	var header *model.Conversation
	if convID == "" {
		if c, ok := t.dir.FindByParticipant(recipientID); ok {
			convID = c.ID
			header = &c
		}
	} else if c, ok := t.dir.Get(convID); ok {
		header = &c
	}
	if header != nil && recipientID == "" {
		if peer, ok := header.Peer(t.userID); ok {
			recipientID = peer.ID
		}
	}

	t.mu.Lock()
	prevID, prevJoined := t.convID, t.joined
	t.gen++
	gen := t.gen
	t.convID = convID
	t.recipientID = recipientID
	t.conv = header
	t.messages = nil
	t.page = 0
	t.hasMore = false
	t.joined = convID != ""
	if convID == "" {
		t.state = StatePendingNew
	} else {
		t.state = StateLoading
	}
	t.mu.Unlock()

	t.leave(prevID, prevJoined && prevID != convID)
	t.typing.Stop()
	if prevID != "" && prevID != convID {
		t.remote.Clear(prevID)
	}
	t.dir.SetActive(convID)

	if convID == "" {
		logger.Infof("thread: pending new conversation with user=%s", recipientID)
		t.changed()
		return nil
	}
	t.join(convID)
	t.changed()

	page, err := t.backend.ListMessages(ctx, convID, 1, t.pageSize)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		metrics.StaleDiscarded("thread")
		return ErrStale
	}
	if err != nil {
		t.state = StateReady
		t.mu.Unlock()
		logger.Errorf("thread: open conv=%s: %v", convID, err)
		t.changed()
		return fmt.Errorf("thread.Open: %w", err)
	}
	// Messages merged from the socket while loading stay.
	t.messages = mergeSorted(page.Messages, t.messages)
	t.page = 1
	t.hasMore = page.HasMore
	if page.Conversation != nil {
		c := page.Conversation.Clone()
		t.conv = &c
		if t.recipientID == "" {
			if peer, ok := c.Peer(t.userID); ok {
				t.recipientID = peer.ID
			}
		}
	}
	t.state = StateReady
	t.mu.Unlock()

	logger.Debugf("thread: opened conv=%s messages=%d", convID, len(page.Messages))
	t.changed()
	return nil
}

// LoadOlderPage prepends the previous page. A no-op while a load is in flight,
// before the first page arrived, or when the server has no more pages.
// Only messages not newer than the current first message are prepended.
func (t *Thread) LoadOlderPage(ctx context.Context) (Prepend, error) {
	t.mu.Lock()
	if t.state != StateReady || !t.hasMore || t.convID == "" {
		t.mu.Unlock()
		return Prepend{}, nil
	}
	t.state = StateLoadingOlder
	gen, convID, next := t.gen, t.convID, t.page+1
	t.mu.Unlock()

	page, err := t.backend.ListMessages(ctx, convID, next, t.pageSize)

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		metrics.StaleDiscarded("thread")
		return Prepend{}, ErrStale
	}
	t.state = StateReady
	if err != nil {
		t.mu.Unlock()
		logger.Errorf("thread: older page %d conv=%s: %v", next, convID, err)
		return Prepend{}, fmt.Errorf("thread.LoadOlderPage: %w", err)
	}
	older := make([]model.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if t.indexLocked(m.ID) >= 0 {
			metrics.DuplicateDropped("thread")
			continue
		}
		if len(t.messages) > 0 && m.Timestamp.After(t.messages[0].Timestamp) {
			continue
		}
		older = append(older, m)
	}
	older = mergeSorted(older, nil)
	t.messages = append(older, t.messages...)
	t.page = next
	t.hasMore = page.HasMore
	t.mu.Unlock()

	p := Prepend{Added: len(older), HeightDelta: t.measure(older)}
	if p.Added > 0 {
		t.changed()
	}
	return p, nil
}

// Resync refetches the newest page of the open conversation and merges it:
// messages missed while the socket was down are added, and server-side
// receipt flags are applied with the usual monotonic rule.
func (t *Thread) Resync(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.state != StateReady || t.convID == "" {
		t.mu.Unlock()
		return 0, nil
	}
	gen, convID := t.gen, t.convID
	t.mu.Unlock()

	page, err := t.backend.ListMessages(ctx, convID, 1, t.pageSize)
	if err != nil {
		return 0, fmt.Errorf("thread.Resync: %w", err)
	}

	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		metrics.StaleDiscarded("thread")
		return 0, ErrStale
	}
	added, upgraded := 0, 0
	for _, m := range page.Messages {
		if idx := t.indexLocked(m.ID); idx >= 0 {
			cur := &t.messages[idx]
			if m.IsRead && cur.Upgrade(model.ReceiptRead) {
				upgraded++
			} else if m.IsDelivered && cur.Upgrade(model.ReceiptDelivered) {
				upgraded++
			}
			continue
		}
		if t.insertLocked(m) {
			added++
		}
	}
	t.mu.Unlock()

	if added+upgraded > 0 {
		logger.Infof("thread: resync conv=%s added=%d upgraded=%d", convID, added, upgraded)
		t.changed()
	}
	return added, nil
}

// Close leaves the room and returns to Closed.
func (t *Thread) Close() {
	t.mu.Lock()
	prevID, prevJoined := t.convID, t.joined
	t.gen++
	t.state = StateClosed
	t.convID = ""
	t.recipientID = ""
	t.conv = nil
	t.messages = nil
	t.page = 0
	t.hasMore = false
	t.joined = false
	t.mu.Unlock()

	t.leave(prevID, prevJoined)
	t.typing.Stop()
	if prevID != "" {
		t.remote.Clear(prevID)
	}
	t.dir.SetActive("")
	t.changed()
}

// Rejoin re-enters the open conversation's room after a reconnect.
func (t *Thread) Rejoin() {
	t.mu.Lock()
	convID, joined := t.convID, t.joined
	t.mu.Unlock()
	if joined && convID != "" {
		t.join(convID)
	}
}

func (t *Thread) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.convID
}

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) Snapshot() View {
	t.mu.Lock()
	v := View{
		State:          t.state,
		ConversationID: t.convID,
		RecipientID:    t.recipientID,
		HasMore:        t.hasMore,
		Messages:       make([]model.Message, len(t.messages)),
	}
	for i := range t.messages {
		v.Messages[i] = t.messages[i].Clone()
	}
	if t.conv != nil {
		c := t.conv.Clone()
		v.Conversation = &c
	}
	t.mu.Unlock()
	if v.ConversationID != "" {
		v.TypingUserName, _ = t.remote.Typing(v.ConversationID)
		conv, ok := t.typing.Active()
		v.SelfTyping = ok && conv == v.ConversationID
	}
	return v
}

func (t *Thread) join(convID string) {
	if err := t.out.Emit(ws.EventJoinConversation, ws.ConversationPayload{ConversationID: convID}); err != nil {
		logger.Debugf("thread: join conv=%s deferred to reconnect: %v", convID, err)
	}
}

func (t *Thread) leave(convID string, joined bool) {
	if !joined || convID == "" {
		return
	}
	if err := t.out.Emit(ws.EventLeaveConversation, ws.ConversationPayload{ConversationID: convID}); err != nil {
		logger.Debugf("thread: leave conv=%s: %v", convID, err)
	}
}

func (t *Thread) indexLocked(messageID string) int {
	for i := range t.messages {
		if t.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// insertLocked adds m in timestamp order unless its id is already present.
func (t *Thread) insertLocked(m model.Message) bool {
	if t.indexLocked(m.ID) >= 0 {
		metrics.DuplicateDropped("thread")
		return false
	}
	i := len(t.messages)
	for i > 0 && t.messages[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	t.messages = append(t.messages, model.Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
	return true
}

func (t *Thread) removeLocked(messageID string) bool {
	idx := t.indexLocked(messageID)
	if idx < 0 {
		return false
	}
	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	return true
}

// mergeSorted unions a and b by id (a wins) and sorts by timestamp, stable.
func mergeSorted(a, b []model.Message) []model.Message {
	out := make([]model.Message, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, src := range [][]model.Message{a, b} {
		for _, m := range src {
			if _, ok := seen[m.ID]; ok {
				metrics.DuplicateDropped("thread")
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
