package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/msgsync/internal/logger"
	"github.com/msgsync/internal/metrics"
)

var ErrNotConnected = errors.New("ws: not connected")

const (
	defaultLivenessInterval = 5 * time.Second
	defaultMinDialInterval  = time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// Options configures a Manager.
type Options struct {
	// URL of the messaging socket, ws:// or wss://.
	URL string
	// Header is sent with every dial (Authorization and the like).
	Header http.Header
	// UserID is announced with register and join-user-room after every connect.
	UserID string
	// LivenessInterval is how often Run checks the connection. Default 5s.
	LivenessInterval time.Duration
	// MinDialInterval caps dial attempts. Default 1s.
	MinDialInterval time.Duration
	// Dialer overrides the default dialer (tests, proxies).
	Dialer *websocket.Dialer
}

// Manager owns the single persistent connection to the messaging server.
// It reconnects from a fixed-interval liveness loop, re-announces the local
// user after every connect and fans incoming events out to subscribers.
// Handlers run serially on the read goroutine of the current connection.
type Manager struct {
	opts    Options
	dialer  *websocket.Dialer
	limiter *rate.Limiter

	mu      sync.Mutex
	client  *Client
	dialing bool

	hmu      sync.RWMutex
	handlers map[EventType][]Handler
	hooks    []func(ctx context.Context)
}

func NewManager(opts Options) *Manager {
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = defaultLivenessInterval
	}
	if opts.MinDialInterval <= 0 {
		opts.MinDialInterval = defaultMinDialInterval
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	return &Manager{
		opts:     opts,
		dialer:   dialer,
		limiter:  rate.NewLimiter(rate.Every(opts.MinDialInterval), 1),
		handlers: make(map[EventType][]Handler),
	}
}

// On subscribes h to event. Subscribe before Run: handlers added later only
// see frames read after the call.
func (m *Manager) On(event EventType, h Handler) {
	m.hmu.Lock()
	m.handlers[event] = append(m.handlers[event], h)
	m.hmu.Unlock()
}

// OnConnect registers a hook that runs after every successful connect,
// after the identity announcement. Hooks re-establish room membership.
func (m *Manager) OnConnect(hook func(ctx context.Context)) {
	m.hmu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hmu.Unlock()
}

// Connected reports whether a connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// EnsureConnected dials if there is no open connection. It is idempotent and
// never returns an error: a failed attempt is logged and the next liveness
// tick tries again.
func (m *Manager) EnsureConnected(ctx context.Context) {
	m.mu.Lock()
	if m.client != nil || m.dialing {
		m.mu.Unlock()
		return
	}
	if !m.limiter.Allow() {
		m.mu.Unlock()
		metrics.ConnectAttempt("throttled")
		return
	}
	m.dialing = true
	m.mu.Unlock()

	sessionID := uuid.NewString()
	header := m.opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Client-Session", sessionID)

	conn, resp, err := m.dialer.DialContext(ctx, m.opts.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		m.mu.Lock()
		m.dialing = false
		m.mu.Unlock()
		metrics.ConnectAttempt("error")
		logger.Warnf("ws dial %s failed, retry on next liveness tick: %v", m.opts.URL, err)
		return
	}

	c := newClient(conn, sessionID, m.dispatch, m.dropped)
	m.mu.Lock()
	m.client = c
	m.dialing = false
	m.mu.Unlock()

	connCtx, cancel := context.WithCancel(context.Background())
	c.Start(connCtx, cancel)
	metrics.ConnectAttempt("ok")
	metrics.SetConnected(true)
	logger.Infof("ws connected session=%s user=%s", sessionID, m.opts.UserID)

	// The server forgets a dropped client's identity and rooms, so this runs
	// on every connect, including reconnects.
	m.announce(c)

	m.hmu.RLock()
	hooks := append([]func(context.Context){}, m.hooks...)
	m.hmu.RUnlock()
	for _, hook := range hooks {
		hook(connCtx)
	}
}

func (m *Manager) announce(c *Client) {
	for _, ev := range []EventType{EventRegister, EventJoinUserRoom} {
		if err := c.enqueue(OutgoingMessage{Event: ev, Data: m.opts.UserID}); err != nil {
			logger.Errorf("ws announce %s session=%s: %v", ev, c.sessionID, err)
			metrics.Emitted(string(ev), "error")
			return
		}
		metrics.Emitted(string(ev), "ok")
	}
}

// Emit sends event on the current connection. No queueing: when disconnected
// it returns ErrNotConnected and the frame is dropped.
func (m *Manager) Emit(event EventType, data any) error {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		metrics.Emitted(string(event), "not_connected")
		return ErrNotConnected
	}
	if err := c.enqueue(OutgoingMessage{Event: event, Data: data}); err != nil {
		metrics.Emitted(string(event), "error")
		return err
	}
	metrics.Emitted(string(event), "ok")
	return nil
}

// Run keeps the connection alive until ctx is done, then disconnects.
func (m *Manager) Run(ctx context.Context) {
	m.EnsureConnected(ctx)
	ticker := time.NewTicker(m.opts.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Disconnect()
			return
		case <-ticker.C:
			m.EnsureConnected(ctx)
		}
	}
}

// Disconnect closes the current connection and waits for its pumps.
// Must not be called from a Handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.client
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.Close()
	c.Wait()
}

// dropped is called once per client when it closes for any reason.
func (m *Manager) dropped(c *Client) {
	m.mu.Lock()
	if m.client == c {
		m.client = nil
	}
	m.mu.Unlock()
	metrics.SetConnected(false)
	logger.Warnf("ws disconnected session=%s", c.sessionID)
}

func (m *Manager) dispatch(ctx context.Context, env Envelope) {
	metrics.EventReceived(string(env.Event))
	m.hmu.RLock()
	hs := m.handlers[env.Event]
	m.hmu.RUnlock()
	if len(hs) == 0 {
		logger.Debugf("ws event %s has no subscribers", env.Event)
		return
	}
	for _, h := range hs {
		m.invoke(ctx, env.Event, h, env.Data)
	}
}

func (m *Manager) invoke(ctx context.Context, event EventType, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws handler %s panic recovered: %v", event, r)
		}
	}()
	h(ctx, data)
}
