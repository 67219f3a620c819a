package conversations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsync/internal/api"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/typing"
)

const me = "u1"

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func conv(id, peer string, age time.Duration) model.Conversation {
	return model.Conversation{
		ID:           id,
		Participants: []model.UserRef{{ID: me}, {ID: peer}},
		Status:       model.ConversationStatusPrimary,
		UpdatedAt:    base.Add(-age),
	}
}

type fakeBackend struct {
	mu        sync.Mutex
	pages     map[int]api.ConversationPage
	gate      map[int]chan struct{}
	calls     []int
	readCalls []string
	readErr   error
	mute      api.MuteState
	deleteErr error
}

func (f *fakeBackend) ListConversations(ctx context.Context, page, limit int) (api.ConversationPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	gate := f.gate[page]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pages[page]
	if !ok {
		return api.ConversationPage{}, errors.New("boom")
	}
	return p, nil
}

func (f *fakeBackend) MarkRead(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, id)
	return f.readErr
}

func (f *fakeBackend) ToggleMute(ctx context.Context, id string) (api.MuteState, error) {
	return f.mute, nil
}

func (f *fakeBackend) DeleteConversation(ctx context.Context, id string) error {
	return f.deleteErr
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(ctx context.Context, c model.Conversation, m model.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, m.ID)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

func pageOf(start, n int, hasMore bool) api.ConversationPage {
	p := api.ConversationPage{HasMore: hasMore}
	for i := start; i < start+n; i++ {
		p.Conversations = append(p.Conversations, conv(fmt.Sprintf("c%d", i), fmt.Sprintf("p%d", i), time.Duration(i)*time.Minute))
	}
	return p
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestSecondPageAppendsWithoutDuplicates(t *testing.T) {
	p2 := pageOf(20, 20, false)
	// The server repeats a page-1 entry; it must not appear twice.
	p2.Conversations[5] = conv("c3", "p3", 3*time.Minute)
	p2.Conversations = append(p2.Conversations, conv("c40", "p40", 40*time.Minute))
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 20, true), 2: p2}}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()

	require.NoError(t, l.LoadFirstPage(ctx))
	require.Len(t, l.Snapshot(), 20)
	assert.True(t, l.HasMore())

	added, err := l.LoadNextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, added)

	got := ids(l.Snapshot())
	require.Len(t, got, 40)
	seen := map[string]bool{}
	for _, id := range got {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
	assert.False(t, l.HasMore())

	added, err = l.LoadNextPage(ctx)
	require.NoError(t, err)
	assert.Zero(t, added, "no request once hasMore is false")
	assert.Equal(t, []int{1, 2}, fb.calls)
}

func TestListStaysSortedByActivity(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: {Conversations: []model.Conversation{
		conv("old", "a", time.Hour),
		conv("new", "b", time.Minute),
		conv("mid", "c", 10*time.Minute),
	}}}}
	l := New(Options{UserID: me, Backend: fb})
	require.NoError(t, l.LoadFirstPage(context.Background()))
	assert.Equal(t, []string{"new", "mid", "old"}, ids(l.Snapshot()))
}

func TestMergeMovesToHeadAndCountsUnread(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 5, false)}}
	n := &fakeNotifier{}
	l := New(Options{UserID: me, Backend: fb, Notifier: n})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c3", SenderID: "p3", Text: "yo", Timestamp: base.Add(-time.Hour)})
	snap := l.Snapshot()
	assert.Equal(t, "c3", snap[0].ID)
	assert.Equal(t, 1, snap[0].UnreadCount)
	require.NotNil(t, snap[0].LastMessage)
	assert.Equal(t, "yo", snap[0].LastMessage.Text)
	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)

	l.MergeIncomingMessage(ctx, model.Message{ID: "m2", ConversationID: "c4", SenderID: "p4", Text: "hey"})
	assert.Equal(t, []string{"c4", "c3", "c0", "c1", "c2"}, ids(l.Snapshot()))
}

func TestSelfAuthoredNeverIncrementsUnread(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 3, false)}}
	n := &fakeNotifier{}
	l := New(Options{UserID: me, Backend: fb, Notifier: n})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	for _, active := range []string{"", "c2"} {
		l.SetActive(active)
		l.MergeIncomingMessage(ctx, model.Message{ID: "m-" + active, ConversationID: "c2", SenderID: me, Text: "mine"})
		c, ok := l.Get("c2")
		require.True(t, ok)
		assert.Zero(t, c.UnreadCount)
		assert.Equal(t, "c2", l.Snapshot()[0].ID)
	}
	_, err := l.ToggleMute(ctx, "c2")
	require.NoError(t, err)
	l.SetActive("")
	l.MergeIncomingMessage(ctx, model.Message{ID: "m3", ConversationID: "c2", SenderID: me})
	c, _ := l.Get("c2")
	assert.Zero(t, c.UnreadCount)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, n.count())
}

func TestOpenConversationAndMuteSuppression(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 2, false)}, mute: api.MuteState{IsMuted: true, Reported: true}}
	n := &fakeNotifier{}
	l := New(Options{UserID: me, Backend: fb, Notifier: n})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	l.SetActive("c0")
	l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c0", SenderID: "p0"})
	c, _ := l.Get("c0")
	assert.Zero(t, c.UnreadCount, "open conversation is being read")

	muted, err := l.ToggleMute(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, muted)
	l.MergeIncomingMessage(ctx, model.Message{ID: "m2", ConversationID: "c1", SenderID: "p1"})
	c, _ = l.Get("c1")
	assert.Equal(t, 1, c.UnreadCount, "muted still counts unread")

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, n.count(), "no notification for the open or a muted conversation")
}

func TestUnknownConversationTriggersRefresh(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 1, false)}}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	fb.mu.Lock()
	fb.pages[1] = api.ConversationPage{Conversations: []model.Conversation{conv("c9", "p9", 0), conv("c0", "p0", time.Minute)}}
	fb.mu.Unlock()

	l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c9", SenderID: "p9"})
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"c9", "c0"}, ids(l.Snapshot()))
	}, time.Second, 5*time.Millisecond)
	fb.mu.Lock()
	assert.Equal(t, []int{1, 1}, fb.calls)
	fb.mu.Unlock()
	c, ok := l.FindByParticipant("p9")
	require.True(t, ok)
	assert.Equal(t, "c9", c.ID)
}

func TestUnknownConversationDoesNotBlockMerge(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 1, false)}}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	gate := make(chan struct{})
	fb.mu.Lock()
	fb.gate = map[int]chan struct{}{1: gate}
	fb.pages[1] = api.ConversationPage{Conversations: []model.Conversation{conv("c9", "p9", 0), conv("c0", "p0", time.Minute)}}
	fb.mu.Unlock()

	merged := make(chan struct{})
	go func() {
		l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c9", SenderID: "p9"})
		close(merged)
	}()
	select {
	case <-merged:
	case <-time.After(time.Second):
		t.Fatal("merge waited for the refresh")
	}
	assert.Equal(t, []string{"c0"}, ids(l.Snapshot()))

	close(gate)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"c9", "c0"}, ids(l.Snapshot()))
	}, time.Second, 5*time.Millisecond)
}

func TestRepeatedOrOlderMessageCountsOnce(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 3, false)}}
	n := &fakeNotifier{}
	l := New(Options{UserID: me, Backend: fb, Notifier: n})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	m9 := model.Message{ID: "m9", ConversationID: "c1", SenderID: "p1", Text: "hi", Timestamp: base.Add(time.Minute)}
	l.MergeIncomingMessage(ctx, m9)
	l.MergeIncomingMessage(ctx, m9)
	l.MergeIncomingMessage(ctx, model.Message{ID: "m8", ConversationID: "c1", SenderID: "p1", Text: "late", Timestamp: base})

	c, ok := l.Get("c1")
	require.True(t, ok)
	assert.Equal(t, 1, c.UnreadCount)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "m9", c.LastMessage.ID)
	assert.Equal(t, "hi", c.LastMessage.Text)

	require.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, n.count())

	l.MergeIncomingMessage(ctx, model.Message{ID: "m10", ConversationID: "c1", SenderID: "p1", Timestamp: base.Add(2 * time.Minute)})
	c, _ = l.Get("c1")
	assert.Equal(t, 2, c.UnreadCount)
}

func TestNextPageRetriesAfterFailedRefresh(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{
		pages: map[int]api.ConversationPage{1: pageOf(0, 2, true), 2: pageOf(2, 2, false)},
		gate:  map[int]chan struct{}{2: gate},
	}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	done := make(chan int, 1)
	go func() {
		added, _ := l.LoadNextPage(ctx)
		done <- added
	}()
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.calls) == 2
	}, time.Second, time.Millisecond)

	// A refresh starts while page 2 is in flight and fails.
	fb.mu.Lock()
	p1 := fb.pages[1]
	delete(fb.pages, 1)
	fb.mu.Unlock()
	require.Error(t, l.LoadFirstPage(ctx))

	close(gate)
	assert.Zero(t, <-done, "response from before the refresh is discarded")

	fb.mu.Lock()
	fb.pages[1] = p1
	fb.mu.Unlock()
	added, err := l.LoadNextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"c0", "c1", "c2", "c3"}, ids(l.Snapshot()))
	assert.False(t, l.HasMore())
}

func TestStaleFirstPageIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	fb := &fakeBackend{
		pages: map[int]api.ConversationPage{1: pageOf(0, 1, true)},
		gate:  map[int]chan struct{}{1: gate},
	}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.LoadFirstPage(ctx) }()
	require.Eventually(t, func() bool {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		return len(fb.calls) == 1
	}, time.Second, time.Millisecond)

	// A newer refresh starts and completes first.
	fb.mu.Lock()
	fb.gate = nil
	fb.pages[1] = pageOf(5, 2, false)
	fb.mu.Unlock()
	require.NoError(t, l.LoadFirstPage(ctx))

	// The older response now arrives with different data.
	fb.mu.Lock()
	fb.pages[1] = pageOf(0, 1, true)
	fb.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"c5", "c6"}, ids(l.Snapshot()))
	assert.False(t, l.HasMore())
}

func TestTypingSuppressionAndExpiry(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 2, false)}}
	l := New(Options{UserID: me, Backend: fb, Typing: typing.NewSet(50 * time.Millisecond)})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))
	l.SetActive("c1")

	l.MergeTyping("c0", me, "Me")
	l.MergeTyping("c1", "p1", "P1")
	l.MergeTyping("unknown", "p9", "P9")
	for _, c := range l.Snapshot() {
		assert.False(t, c.IsTyping, c.ID)
	}

	l.MergeTyping("c0", "p0", "Peer")
	byID := func(id string) model.Conversation {
		for _, c := range l.Snapshot() {
			if c.ID == id {
				return c
			}
		}
		t.Fatalf("missing %s", id)
		return model.Conversation{}
	}
	assert.True(t, byID("c0").IsTyping)
	assert.Equal(t, "Peer", byID("c0").TypingUserName)

	// A message from that conversation clears the indicator.
	l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c0", SenderID: "p0"})
	assert.False(t, byID("c0").IsTyping)

	l.MergeTyping("c0", "p0", "Peer")
	l.MergeStopTyping("c0", "p0")
	assert.False(t, byID("c0").IsTyping)

	l.MergeTyping("c0", "p0", "Peer")
	require.Eventually(t, func() bool { return !byID("c0").IsTyping }, time.Second, 5*time.Millisecond)
}

func TestMarkReadIsOptimisticWithoutRollback(t *testing.T) {
	p := pageOf(0, 1, false)
	p.Conversations[0].UnreadCount = 4
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: p}, readErr: errors.New("offline")}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	err := l.MarkRead(ctx, "c0")
	require.Error(t, err)
	c, _ := l.Get("c0")
	assert.Zero(t, c.UnreadCount)
	assert.Equal(t, []string{"c0"}, fb.readCalls)
}

func TestDeleteAppliesAfterSuccessOnly(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 2, false)}, deleteErr: errors.New("nope")}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	require.Error(t, l.Delete(ctx, "c0"))
	assert.Len(t, l.Snapshot(), 2)

	fb.deleteErr = nil
	require.NoError(t, l.Delete(ctx, "c0"))
	assert.Equal(t, []string{"c1"}, ids(l.Snapshot()))
}

func TestApplyReceiptUpgradesOwnLastMessage(t *testing.T) {
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 1, false)}}
	l := New(Options{UserID: me, Backend: fb})
	ctx := context.Background()
	require.NoError(t, l.LoadFirstPage(ctx))

	l.MergeIncomingMessage(ctx, model.Message{ID: "m1", ConversationID: "c0", SenderID: me})
	l.ApplyReceipt("c0", model.ReceiptRead, time.Time{})
	l.ApplyReceipt("c0", model.ReceiptDelivered, time.Time{})
	c, _ := l.Get("c0")
	assert.True(t, c.LastMessage.IsRead)
	assert.True(t, c.LastMessage.IsDelivered)

	l.MergeIncomingMessage(ctx, model.Message{ID: "m2", ConversationID: "c0", SenderID: "p0"})
	l.ApplyReceipt("c0", model.ReceiptRead, time.Time{})
	c, _ = l.Get("c0")
	assert.False(t, c.LastMessage.IsRead, "receipts only concern the local user's messages")
}

type memStore struct {
	saved map[string][]model.Conversation
}

func (m *memStore) SaveConversations(ctx context.Context, userID string, convs []model.Conversation) error {
	m.saved[userID] = convs
	return nil
}

func (m *memStore) LoadConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return m.saved[userID], nil
}

func (m *memStore) Close() error { return nil }

func TestWarmFromSnapshotThenReplace(t *testing.T) {
	st := &memStore{saved: map[string][]model.Conversation{me: {conv("cached", "p", 0)}}}
	fb := &fakeBackend{pages: map[int]api.ConversationPage{1: pageOf(0, 2, false)}}
	l := New(Options{UserID: me, Backend: fb, Store: st})
	ctx := context.Background()

	require.NoError(t, l.Warm(ctx))
	assert.Equal(t, []string{"cached"}, ids(l.Snapshot()))

	require.NoError(t, l.LoadFirstPage(ctx))
	assert.Equal(t, []string{"c0", "c1"}, ids(l.Snapshot()))
	assert.Equal(t, []string{"c0", "c1"}, ids(st.saved[me]))

	require.NoError(t, l.Warm(ctx))
	assert.Equal(t, []string{"c0", "c1"}, ids(l.Snapshot()), "warm never overrides loaded data")
}
