// Package conversations keeps the ordered conversation list of the local user.
//
// The list is the single writer of UnreadCount. It merges real-time events,
// paginates from the backend and always stays sorted by most recent activity.
// The mutex is never held across a backend call: a generation counter taken
// before the call decides whether the response may still be applied.
package conversations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/msgsync/internal/api"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/metrics"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/storage"
	"github.com/msgsync/internal/typing"
)

const (
	DefaultPageSize = 20
	notifyTimeout   = 10 * time.Second
	refreshTimeout  = 15 * time.Second
)

// Backend is the part of the REST client the list uses.
type Backend interface {
	ListConversations(ctx context.Context, page, limit int) (api.ConversationPage, error)
	MarkRead(ctx context.Context, conversationID string) error
	ToggleMute(ctx context.Context, conversationID string) (api.MuteState, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// Notifier shows a user-facing notification for an unread incoming message.
type Notifier interface {
	Notify(ctx context.Context, conv model.Conversation, msg model.Message) error
}

type Options struct {
	UserID   string
	PageSize int
	Backend  Backend
	// Optional.
	Notifier Notifier
	Typing   *typing.Set
	Store    storage.SnapshotStore
}

type List struct {
	userID   string
	pageSize int
	backend  Backend
	notifier Notifier
	typing   *typing.Set
	store    storage.SnapshotStore

	mu          sync.Mutex
	items       []model.Conversation
	loaded      bool
	page        int
	hasMore     bool
	gen         uint64
	loadingNext bool
	nextGen     uint64
	active      string
	onChange    func()
}

func New(opts Options) *List {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Typing == nil {
		opts.Typing = typing.NewSet(typing.DefaultTTL)
	}
	l := &List{
		userID:   opts.UserID,
		pageSize: opts.PageSize,
		backend:  opts.Backend,
		notifier: opts.Notifier,
		typing:   opts.Typing,
		store:    opts.Store,
	}
	l.typing.OnChange(func(string) { l.changed() })
	return l
}

// OnChange registers a callback run after every visible change, outside the lock.
func (l *List) OnChange(fn func()) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *List) changed() {
	l.mu.Lock()
	fn := l.onChange
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Warm seeds an empty list from the snapshot store. A list already loaded
// from the backend is left alone.
func (l *List) Warm(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	convs, err := l.store.LoadConversations(ctx, l.userID)
	if err != nil {
		return fmt.Errorf("conversations.Warm: %w", err)
	}
	l.mu.Lock()
	if l.loaded || len(l.items) > 0 || len(convs) == 0 {
		l.mu.Unlock()
		return nil
	}
	l.items = dedup(convs)
	sortByActivity(l.items)
	l.mu.Unlock()
	logger.Infof("conversations: warmed %d from snapshot user=%s", len(convs), l.userID)
	l.changed()
	return nil
}

// LoadFirstPage replaces the list with page 1. Only the most recently started
// refresh may apply its result.
func (l *List) LoadFirstPage(ctx context.Context) error {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	page, err := l.backend.ListConversations(ctx, 1, l.pageSize)
	if err != nil {
		logger.Errorf("conversations: first page: %v", err)
		return fmt.Errorf("conversations.LoadFirstPage: %w", err)
	}

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		metrics.StaleDiscarded("conversations")
		return nil
	}
	l.items = dedup(page.Conversations)
	sortByActivity(l.items)
	l.loaded = true
	l.page = 1
	l.hasMore = page.HasMore
	l.loadingNext = false
	persist := cloneAll(l.items)
	l.mu.Unlock()

	l.persist(ctx, persist)
	l.changed()
	return nil
}

// LoadNextPage appends the next page and returns how many conversations were
// added. A no-op while another next-page load is in flight or when the server
// reported no more pages.
func (l *List) LoadNextPage(ctx context.Context) (int, error) {
	l.mu.Lock()
	if !l.loaded {
		l.mu.Unlock()
		if err := l.LoadFirstPage(ctx); err != nil {
			return 0, err
		}
		return len(l.Snapshot()), nil
	}
	if !l.hasMore || l.loadingNext {
		l.mu.Unlock()
		return 0, nil
	}
	l.loadingNext = true
	l.nextGen = l.gen
	gen, next := l.gen, l.page+1
	l.mu.Unlock()

	page, err := l.backend.ListConversations(ctx, next, l.pageSize)

	l.mu.Lock()
	if gen != l.gen {
		// Неудачный refresh не сбрасывает флаг сам; загрузку, начатую после
		// него, не трогаем.
		if l.nextGen == gen {
			l.loadingNext = false
		}
		l.mu.Unlock()
		metrics.StaleDiscarded("conversations")
		return 0, nil
	}
	l.loadingNext = false
	if err != nil {
		l.mu.Unlock()
		logger.Errorf("conversations: page %d: %v", next, err)
		return 0, fmt.Errorf("conversations.LoadNextPage: %w", err)
	}
	added := 0
	for _, c := range page.Conversations {
		if l.indexLocked(c.ID) >= 0 {
			metrics.DuplicateDropped("conversations")
			continue
		}
		l.items = append(l.items, c)
		added++
	}
	sortByActivity(l.items)
	l.page = next
	l.hasMore = page.HasMore
	l.mu.Unlock()

	if added > 0 {
		l.changed()
	}
	return added, nil
}

// MergeIncomingMessage applies a new-message event. An unknown conversation
// triggers a full refresh in the background: it cannot be placed without
// server sort metadata. A message already shown as the last one, or older
// than it, changes nothing.
func (l *List) MergeIncomingMessage(ctx context.Context, msg model.Message) {
	l.mu.Lock()
	idx := l.indexLocked(msg.ConversationID)
	if idx < 0 {
		l.mu.Unlock()
		logger.Infof("conversations: message for unknown conv=%s, refreshing", msg.ConversationID)
		go l.refresh(context.WithoutCancel(ctx), msg.ConversationID)
		return
	}

	c := l.items[idx]
	if lm := c.LastMessage; lm != nil && seenBefore(*lm, msg) {
		l.mu.Unlock()
		metrics.DuplicateDropped("conversations")
		logger.Debugf("conversations: skip msg=%s conv=%s, already merged or older", msg.ID, msg.ConversationID)
		return
	}
	c.LastMessage = msg.Summary()
	if now := time.Now(); now.After(c.UpdatedAt) {
		c.UpdatedAt = now
	}
	if msg.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = msg.Timestamp
	}
	unread := msg.SenderID != l.userID && msg.ConversationID != l.active
	if unread {
		c.UnreadCount++
	}
	notify := unread && !c.IsMuted && l.notifier != nil
	copy(l.items[1:idx+1], l.items[:idx])
	l.items[0] = c
	conv := c.Clone()
	l.mu.Unlock()

	l.typing.Clear(msg.ConversationID)
	if notify {
		go l.notify(conv, msg)
	}
	l.changed()
}

func seenBefore(last model.LastMessage, msg model.Message) bool {
	if last.ID != "" && last.ID == msg.ID {
		return true
	}
	return !msg.Timestamp.IsZero() && msg.Timestamp.Before(last.Timestamp)
}

func (l *List) refresh(ctx context.Context, conversationID string) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()
	if err := l.LoadFirstPage(ctx); err != nil {
		logger.Warnf("conversations: refresh after new conv=%s: %v", conversationID, err)
	}
}

func (l *List) notify(conv model.Conversation, msg model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := l.notifier.Notify(ctx, conv, msg); err != nil {
		logger.Warnf("conversations: notify conv=%s: %v", conv.ID, err)
	}
}

// MergeTyping marks userID as typing in conversationID. Ignored for the local
// user and for the open conversation, which shows typing inline.
func (l *List) MergeTyping(conversationID, userID, userName string) {
	l.mu.Lock()
	skip := userID == l.userID || conversationID == l.active || l.indexLocked(conversationID) < 0
	l.mu.Unlock()
	if skip {
		return
	}
	l.typing.Start(conversationID, userID, userName)
}

func (l *List) MergeStopTyping(conversationID, userID string) {
	if userID == l.userID {
		return
	}
	l.typing.Stop(conversationID, userID)
}

// SetActive records which conversation the thread shows ("" for none).
func (l *List) SetActive(conversationID string) {
	l.mu.Lock()
	l.active = conversationID
	l.mu.Unlock()
	if conversationID != "" {
		l.typing.Clear(conversationID)
	}
}

// MarkRead zeroes the unread badge right away, then persists it. A failed
// persist is not rolled back; the next refresh brings the server value.
func (l *List) MarkRead(ctx context.Context, conversationID string) error {
	l.mu.Lock()
	changed := false
	if idx := l.indexLocked(conversationID); idx >= 0 && l.items[idx].UnreadCount != 0 {
		l.items[idx].UnreadCount = 0
		changed = true
	}
	l.mu.Unlock()
	if changed {
		l.changed()
	}
	if err := l.backend.MarkRead(ctx, conversationID); err != nil {
		logger.Warnf("conversations: mark read conv=%s: %v", conversationID, err)
		return fmt.Errorf("conversations.MarkRead: %w", err)
	}
	return nil
}

// ToggleMute flips mute on the backend and applies the result after success.
func (l *List) ToggleMute(ctx context.Context, conversationID string) (bool, error) {
	st, err := l.backend.ToggleMute(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("conversations.ToggleMute: %w", err)
	}
	l.mu.Lock()
	muted := st.IsMuted
	if idx := l.indexLocked(conversationID); idx >= 0 {
		if !st.Reported {
			muted = !l.items[idx].IsMuted
		}
		l.items[idx].IsMuted = muted
	}
	l.mu.Unlock()
	l.changed()
	return muted, nil
}

// Delete removes the conversation on the backend, then locally.
func (l *List) Delete(ctx context.Context, conversationID string) error {
	if err := l.backend.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("conversations.Delete: %w", err)
	}
	l.mu.Lock()
	if idx := l.indexLocked(conversationID); idx >= 0 {
		l.items = append(l.items[:idx], l.items[idx+1:]...)
	}
	l.mu.Unlock()
	l.typing.Clear(conversationID)
	l.changed()
	return nil
}

// ApplyReceipt mirrors a receipt onto the last message summary when the
// local user sent it at or before at. Monotonic like model.Message.Upgrade.
func (l *List) ApplyReceipt(conversationID string, kind model.ReceiptKind, at time.Time) {
	l.mu.Lock()
	idx := l.indexLocked(conversationID)
	if idx < 0 || l.items[idx].LastMessage == nil || l.items[idx].LastMessage.SenderID != l.userID ||
		(!at.IsZero() && l.items[idx].LastMessage.Timestamp.After(at)) {
		l.mu.Unlock()
		return
	}
	lm := l.items[idx].LastMessage
	before := *lm
	switch kind {
	case model.ReceiptRead:
		lm.IsRead = true
		lm.IsDelivered = true
	case model.ReceiptDelivered:
		lm.IsDelivered = true
	}
	changed := before != *lm
	l.mu.Unlock()
	if changed {
		l.changed()
	}
}

// FindByParticipant returns the conversation with userID, if the list has one.
func (l *List) FindByParticipant(userID string) (model.Conversation, bool) {
	if userID == "" || userID == l.userID {
		return model.Conversation{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.items {
		if c.HasParticipant(userID) {
			return c.Clone(), true
		}
	}
	return model.Conversation{}, false
}

func (l *List) Get(conversationID string) (model.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if idx := l.indexLocked(conversationID); idx >= 0 {
		return l.items[idx].Clone(), true
	}
	return model.Conversation{}, false
}

// Snapshot returns a copy of the list with the transient typing fields filled.
func (l *List) Snapshot() []model.Conversation {
	l.mu.Lock()
	out := cloneAll(l.items)
	active := l.active
	l.mu.Unlock()
	for i := range out {
		if out[i].ID == active {
			continue
		}
		if name, ok := l.typing.Typing(out[i].ID); ok {
			out[i].IsTyping = true
			out[i].TypingUserName = name
		}
	}
	return out
}

func (l *List) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

func (l *List) persist(ctx context.Context, convs []model.Conversation) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveConversations(ctx, l.userID, convs); err != nil {
		logger.Warnf("conversations: save snapshot user=%s: %v", l.userID, err)
	}
}

func (l *List) indexLocked(conversationID string) int {
	for i := range l.items {
		if l.items[i].ID == conversationID {
			return i
		}
	}
	return -1
}

func dedup(in []model.Conversation) []model.Conversation {
	seen := make(map[string]struct{}, len(in))
	out := make([]model.Conversation, 0, len(in))
	for _, c := range in {
		if _, ok := seen[c.ID]; ok {
			metrics.DuplicateDropped("conversations")
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func sortByActivity(items []model.Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].ActivityTime().After(items[j].ActivityTime())
	})
}

func cloneAll(in []model.Conversation) []model.Conversation {
	out := make([]model.Conversation, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
