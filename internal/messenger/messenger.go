// Package messenger связывает синхронизаторы в одно ядро: раздаёт события
// сокета списку, треду, квитанциям и присутствию, восстанавливает комнаты
// после переподключения и периодически сверяется с сервером.
package messenger

import (
	"context"
	"sync"
	"time"

	"github.com/msgsync/internal/conversations"
	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/model"
	"github.com/msgsync/internal/presence"
	"github.com/msgsync/internal/receipts"
	"github.com/msgsync/internal/storage"
	"github.com/msgsync/internal/thread"
	"github.com/msgsync/internal/typing"
	"github.com/msgsync/internal/ws"
)

const DefaultReconcileInterval = 60 * time.Second

// Backend is the whole REST surface the core uses; *api.Client satisfies it.
type Backend interface {
	conversations.Backend
	thread.Backend
	receipts.Backend
}

// Socket is the transport as seen by the core; *ws.Manager satisfies it.
type Socket interface {
	ws.Emitter
	On(event ws.EventType, h ws.Handler)
	OnConnect(hook func(ctx context.Context))
}

type Options struct {
	UserID   string
	UserName string

	ConversationPageSize int
	MessagePageSize      int
	TypingIdle           time.Duration
	TypingTTL            time.Duration
	// 0 берёт DefaultReconcileInterval, отрицательное значение отключает сверку.
	ReconcileInterval time.Duration

	Backend Backend
	Socket  Socket
	// Optional.
	Notifier conversations.Notifier
	Store    storage.SnapshotStore
	Measure  thread.MeasureFunc
}

// Topic names which part of the state changed.
type Topic string

const (
	TopicConversations Topic = "conversations"
	TopicThread        Topic = "thread"
	TopicPresence      Topic = "presence"
)

type Messenger struct {
	userID    string
	socket    Socket
	reconcile time.Duration

	List     *conversations.List
	Thread   *thread.Thread
	Receipts *receipts.Tracker
	Presence *presence.Tracker

	typingSets []*typing.Set

	subsMu  sync.Mutex
	subs    map[int]chan Topic
	nextSub int

	connects int
	connMu   sync.Mutex
}

func New(opts Options) *Messenger {
	if opts.ReconcileInterval == 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	listTyping, threadTyping := typing.NewSet(opts.TypingTTL), typing.NewSet(opts.TypingTTL)
	list := conversations.New(conversations.Options{
		UserID:   opts.UserID,
		PageSize: opts.ConversationPageSize,
		Backend:  opts.Backend,
		Notifier: opts.Notifier,
		Typing:   listTyping,
		Store:    opts.Store,
	})
	th := thread.New(thread.Options{
		UserID:    opts.UserID,
		PageSize:  opts.MessagePageSize,
		Backend:   opts.Backend,
		Directory: list,
		Emitter:   opts.Socket,
		Typing:    typing.NewEmitter(opts.Socket, opts.UserID, opts.UserName, opts.TypingIdle),
		Remote:    threadTyping,
		Measure:   opts.Measure,
	})
	m := &Messenger{
		userID:    opts.UserID,
		socket:    opts.Socket,
		reconcile: opts.ReconcileInterval,
		List:      list,
		Thread:    th,
		Receipts:  receipts.New(opts.UserID, opts.Backend, opts.Socket, list, th),
		Presence:  presence.New(),
		subs:      make(map[int]chan Topic),

		typingSets: []*typing.Set{listTyping, threadTyping},
	}
	list.OnChange(func() { m.publish(TopicConversations) })
	th.OnChange(func() { m.publish(TopicThread) })
	m.Presence.OnChange(func() { m.publish(TopicPresence) })

	m.subscribe()
	opts.Socket.OnConnect(m.onConnect)
	return m
}

// Start seeds the list from the snapshot store and loads the first page.
func (m *Messenger) Start(ctx context.Context) error {
	if err := m.List.Warm(ctx); err != nil {
		logger.Warnf("messenger: warm start: %v", err)
	}
	return m.List.LoadFirstPage(ctx)
}

// Run performs periodic reconciliation until ctx is done.
func (m *Messenger) Run(ctx context.Context) {
	if m.reconcile < 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.reconcile)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}

// Reconcile reloads the first conversation page and, for the open thread,
// merges the newest page and re-sends delivered/seen. It recovers events lost
// while the socket was down. Errors are logged only.
func (m *Messenger) Reconcile(ctx context.Context) {
	defer logger.DeferLogDuration("messenger.Reconcile", time.Now())()
	if err := m.List.LoadFirstPage(ctx); err != nil {
		logger.Warnf("messenger: reconcile list: %v", err)
	}
	convID := m.Thread.ConversationID()
	if convID == "" || m.Thread.State() != thread.StateReady {
		return
	}
	if _, err := m.Thread.Resync(ctx); err != nil {
		logger.Debugf("messenger: reconcile thread conv=%s: %v", convID, err)
	}
	m.Receipts.ThreadVisible(ctx, convID)
}

// onConnect runs on every (re)connect after register/join-user-room.
// The first connect only rejoins; later ones also reconcile in the background.
func (m *Messenger) onConnect(ctx context.Context) {
	m.Thread.Rejoin()

	m.connMu.Lock()
	m.connects++
	reconnect := m.connects > 1
	m.connMu.Unlock()
	if reconnect {
		go m.Reconcile(context.Background())
	}
}

// Open shows target in the thread and marks it delivered and seen.
func (m *Messenger) Open(ctx context.Context, target thread.Target) error {
	if err := m.Thread.Open(ctx, target); err != nil {
		return err
	}
	if convID := m.Thread.ConversationID(); convID != "" {
		m.Receipts.ThreadVisible(ctx, convID)
	}
	return nil
}

// Send posts d to the open thread and moves the conversation to the list head.
func (m *Messenger) Send(ctx context.Context, d model.Draft) (model.Message, error) {
	sent, err := m.Thread.Send(ctx, d)
	if err != nil {
		return model.Message{}, err
	}
	m.mergeOwn(ctx, sent)
	return sent, nil
}

func (m *Messenger) Reply(ctx context.Context, targetID, text string) (model.Message, error) {
	sent, err := m.Thread.Reply(ctx, targetID, text)
	if err != nil {
		return model.Message{}, err
	}
	m.mergeOwn(ctx, sent)
	return sent, nil
}

func (m *Messenger) mergeOwn(ctx context.Context, sent model.Message) {
	if sent.ID == "" || sent.ConversationID == "" {
		return
	}
	if _, ok := m.List.Get(sent.ConversationID); !ok {
		return
	}
	m.List.MergeIncomingMessage(ctx, sent)
}

// Close closes the open thread (stop-typing included) and stops the expiry
// timers of both typing sets.
func (m *Messenger) Close() {
	m.Thread.Close()
	for _, s := range m.typingSets {
		s.Close()
	}
}
