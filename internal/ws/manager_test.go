package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts socket connections and records every frame it reads.
type fakeServer struct {
	srv     *httptest.Server
	frames  chan Envelope
	conns   chan *websocket.Conn
	headers chan http.Header
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames:  make(chan Envelope, 64),
		conns:   make(chan *websocket.Conn, 8),
		headers: make(chan http.Header, 8),
	}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.headers <- r.Header.Clone()
		fs.conns <- conn
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env Envelope
			if json.Unmarshal(raw, &env) == nil {
				fs.frames <- env
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-fs.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return Envelope{}
	}
}

func (fs *fakeServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-fs.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func dataString(t *testing.T, env Envelope) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestManagerAnnouncesOnEveryConnect(t *testing.T) {
	fs := newFakeServer(t)
	m := NewManager(Options{URL: fs.url(), UserID: "u1", MinDialInterval: time.Millisecond})
	t.Cleanup(m.Disconnect)

	m.OnConnect(func(ctx context.Context) {
		require.NoError(t, m.Emit(EventJoinConversation, ConversationPayload{ConversationID: "c1"}))
	})

	for round := 0; round < 2; round++ {
		m.EnsureConnected(context.Background())
		require.True(t, m.Connected())
		conn := fs.conn(t)

		reg := fs.next(t)
		assert.Equal(t, EventRegister, reg.Event)
		assert.Equal(t, "u1", dataString(t, reg))

		join := fs.next(t)
		assert.Equal(t, EventJoinUserRoom, join.Event)
		assert.Equal(t, "u1", dataString(t, join))

		room := fs.next(t)
		assert.Equal(t, EventJoinConversation, room.Event)

		// Server drops the link; the manager must notice and re-announce on the next connect.
		conn.Close()
		require.Eventually(t, func() bool { return !m.Connected() }, 2*time.Second, 10*time.Millisecond)
	}
}

func TestManagerSendsSessionHeader(t *testing.T) {
	fs := newFakeServer(t)
	m := NewManager(Options{
		URL:    fs.url(),
		UserID: "u1",
		Header: http.Header{"Authorization": []string{"Bearer tok"}},
	})
	t.Cleanup(m.Disconnect)

	m.EnsureConnected(context.Background())
	h := <-fs.headers
	assert.Equal(t, "Bearer tok", h.Get("Authorization"))
	assert.NotEmpty(t, h.Get("X-Client-Session"))
}

func TestManagerEnsureConnectedIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	m := NewManager(Options{URL: fs.url(), UserID: "u1", MinDialInterval: time.Millisecond})
	t.Cleanup(m.Disconnect)

	m.EnsureConnected(context.Background())
	m.EnsureConnected(context.Background())
	fs.conn(t)

	select {
	case <-fs.conns:
		t.Fatal("second connection dialed while the first is open")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerEmitWhenDisconnected(t *testing.T) {
	m := NewManager(Options{URL: "ws://127.0.0.1:1/socket", UserID: "u1"})

	err := m.Emit(EventTyping, TypingPayload{ConversationID: "c1", UserID: "u1"})
	assert.ErrorIs(t, err, ErrNotConnected)

	// A failed dial is silent.
	m.EnsureConnected(context.Background())
	assert.False(t, m.Connected())
}

func TestManagerDispatchesInOrderAndRecoversPanics(t *testing.T) {
	fs := newFakeServer(t)
	m := NewManager(Options{URL: fs.url(), UserID: "u1"})
	t.Cleanup(m.Disconnect)

	got := make(chan string, 8)
	m.On(EventUserOnline, func(ctx context.Context, data json.RawMessage) {
		panic("boom")
	})
	m.On(EventUserOnline, func(ctx context.Context, data json.RawMessage) {
		var id string
		_ = json.Unmarshal(data, &id)
		got <- id
	})

	m.EnsureConnected(context.Background())
	conn := fs.conn(t)
	for _, frame := range []string{
		`{"event":"user-online","data":"u2"}`,
		`not json`,
		`{"event":"unknown","data":1}`,
		`{"event":"user-online","data":"u3"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	}

	for _, want := range []string{"u2", "u3"} {
		select {
		case id := <-got:
			assert.Equal(t, want, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("handler not called for %s", want)
		}
	}
	assert.True(t, m.Connected())
}

func TestManagerRunReconnectsAndStops(t *testing.T) {
	fs := newFakeServer(t)
	m := NewManager(Options{
		URL:              fs.url(),
		UserID:           "u1",
		LivenessInterval: 20 * time.Millisecond,
		MinDialInterval:  time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	fs.conn(t).Close()
	// The liveness loop dials again without any caller involvement.
	fs.conn(t)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.Connected())
}
