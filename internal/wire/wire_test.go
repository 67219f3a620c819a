package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msgsync/internal/model"
)

func TestRefAcceptsStringAndObject(t *testing.T) {
	var refs []Ref
	require.NoError(t, json.Unmarshal([]byte(`["u1", {"_id":"u2","username":"bob"}, {"id":"u3","fullName":"Carol C"}, null]`), &refs))
	require.Len(t, refs, 4)
	assert.Equal(t, Ref{ID: "u1"}, refs[0])
	assert.Equal(t, "u2", refs[1].ID)
	assert.Equal(t, "bob", refs[1].Username)
	assert.Equal(t, "u3", refs[2].ID)
	assert.Equal(t, "Carol C", refs[2].FullName)
	assert.Equal(t, Ref{}, refs[3])
}

func TestTimeAcceptsStringAndMillis(t *testing.T) {
	var v struct {
		A Time `json:"a"`
		B Time `json:"b"`
		C Time `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"2024-05-01T10:00:00.000Z","b":1714557600000,"c":null}`), &v))
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, want.Equal(v.A.Time))
	assert.True(t, want.Equal(v.B.Time))
	assert.True(t, v.C.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"a":"yesterday"}`), &v))
}

func TestMessageModel(t *testing.T) {
	raw := `{
		"_id": "m1",
		"conversationId": "c1",
		"senderId": {"_id": "u2", "username": "bob", "fullName": "Bob B"},
		"text": "hello",
		"createdAt": "2024-05-01T10:00:00Z",
		"seen": true,
		"reactions": [{"emoji":"❤️","userId":"u1"},{"emoji":"❤️","userId":{"_id":"u1"}},{"emoji":"","userId":"u3"}],
		"replyTo": {"messageId":"m0","senderName":"Alice","text":"earlier"}
	}`
	var wm Message
	require.NoError(t, json.Unmarshal([]byte(raw), &wm))
	m, err := wm.Model("")
	require.NoError(t, err)

	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "u2", m.SenderID)
	assert.Equal(t, "Bob B", m.SenderName)
	assert.Equal(t, model.MessageTypeText, m.Type)
	assert.True(t, m.IsRead)
	assert.True(t, m.IsDelivered, "read implies delivered")
	assert.Equal(t, []model.Reaction{{Emoji: "❤️", UserID: "u1"}}, m.Reactions)
	require.NotNil(t, m.ReplyTo)
	assert.Equal(t, model.ReplySnapshot{MessageID: "m0", SenderName: "Alice", Text: "earlier"}, *m.ReplyTo)
}

func TestMessageModelFallbacksAndValidation(t *testing.T) {
	var wm Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m2","sender":"u1","mediaUrl":"https://cdn/x.png","timestamp":1714557600000}`), &wm))
	m, err := wm.Model("c9")
	require.NoError(t, err)
	assert.Equal(t, "c9", m.ConversationID)
	assert.Equal(t, model.MessageTypeImage, m.Type)
	assert.Equal(t, "https://cdn/x.png", m.Media)

	_, err = (&Message{Sender: Ref{ID: "u1"}}).Model("c1")
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = (&Message{ID: "m3"}).Model("c1")
	assert.ErrorIs(t, err, ErrMissingSender)

	_, err = (&Message{ID: "m3", Sender: Ref{ID: "u1"}}).Model("")
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestConversationModel(t *testing.T) {
	raw := `{
		"_id": "c1",
		"participants": [{"_id":"u1","username":"me"}, "u2", "u2"],
		"status": "request",
		"lastMessage": {"_id":"m7","text":"","type":"image","sender":"u2","timestamp":"2024-05-01T10:00:00Z","isRead":true},
		"unreadCount": -3,
		"isMuted": true,
		"themeColor": "ocean"
	}`
	var wc Conversation
	require.NoError(t, json.Unmarshal([]byte(raw), &wc))
	c, err := wc.Model()
	require.NoError(t, err)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, model.ConversationStatusRequest, c.Status)
	assert.Len(t, c.Participants, 2)
	assert.Equal(t, 0, c.UnreadCount)
	assert.True(t, c.IsMuted)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "m7", c.LastMessage.ID)
	assert.True(t, c.LastMessage.IsMedia)
	assert.True(t, c.LastMessage.IsDelivered)
	assert.Equal(t, "u2", c.LastMessage.SenderID)
}

func TestPagesDropInvalidEntries(t *testing.T) {
	var convs []Conversation
	require.NoError(t, json.Unmarshal([]byte(`[{"_id":"c1"},{"participants":["u2"]},{"id":"c3"}]`), &convs))
	got := Conversations(convs)
	require.Len(t, got, 2)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "c3", got[1].ID)

	var msgs []Message
	require.NoError(t, json.Unmarshal([]byte(`[
		{"_id":"m1","senderId":"u1","text":"a"},
		{"_id":"m2","text":"no sender"},
		{"senderId":"u1","text":"no id"},
		{"id":"m4","sender":{"_id":"u2"},"text":"b"}
	]`), &msgs))
	ms := Messages(msgs, "c1")
	require.Len(t, ms, 2)
	assert.Equal(t, "m1", ms[0].ID)
	assert.Equal(t, "m4", ms[1].ID)
	assert.Equal(t, "c1", ms[1].ConversationID)
}

func TestDecodeNewMessageShapes(t *testing.T) {
	wrapped := `{"conversationId":"c1","message":{"_id":"m1","senderId":"u2","text":"hi","createdAt":"2024-05-01T10:00:00Z"}}`
	ev, err := DecodeNewMessage([]byte(wrapped))
	require.NoError(t, err)
	assert.Equal(t, "c1", ev.ConversationID)
	assert.Equal(t, "m1", ev.Message.ID)
	assert.Equal(t, "c1", ev.Message.ConversationID)

	flat := `{"_id":"m2","conversationId":{"_id":"c2"},"senderId":{"_id":"u2"},"text":"yo"}`
	ev, err = DecodeNewMessage([]byte(flat))
	require.NoError(t, err)
	assert.Equal(t, "c2", ev.ConversationID)
	assert.Equal(t, "m2", ev.Message.ID)

	_, err = DecodeNewMessage([]byte(`{"conversationId":"c1","message":{"text":"no id"}}`))
	assert.Error(t, err)
}

func TestDecodeTypingAndReceipt(t *testing.T) {
	tev, err := DecodeTyping([]byte(`{"conversationId":"c1","userId":"u2","userName":"Bob"}`))
	require.NoError(t, err)
	assert.Equal(t, TypingEvent{ConversationID: "c1", UserID: "u2", UserName: "Bob"}, tev)

	_, err = DecodeTyping([]byte(`{"userId":"u2"}`))
	assert.ErrorIs(t, err, ErrMissingField)

	rev, err := DecodeReceipt([]byte(`{"conversationId":"c1","seenBy":"u2","seenAt":1714557600000}`))
	require.NoError(t, err)
	assert.Equal(t, "u2", rev.UserID)
	assert.False(t, rev.At.IsZero())
}

func TestDecodePresence(t *testing.T) {
	id, err := DecodePresence([]byte(`"u1"`))
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = DecodePresence([]byte(`{"userId":"u2"}`))
	require.NoError(t, err)
	assert.Equal(t, "u2", id)

	_, err = DecodePresence([]byte(`{}`))
	assert.ErrorIs(t, err, ErrMissingID)

	ids, err := DecodeOnlineUsers([]byte(`["u1", {"_id":"u2"}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, ids)

	ids, err = DecodeOnlineUsers([]byte(`{"users":["u3"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, ids)
}

func TestDecodeUnsendAndReaction(t *testing.T) {
	uev, err := DecodeUnsend([]byte(`{"conversationId":"c1","messageId":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, UnsendEvent{ConversationID: "c1", MessageID: "m1"}, uev)

	rev, err := DecodeReaction([]byte(`{"conversationId":"c1","messageId":"m1","reactions":[{"emoji":"👍","userId":"u2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, []model.Reaction{{Emoji: "👍", UserID: "u2"}}, rev.Reactions)
}
