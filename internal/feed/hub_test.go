package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/student-desk/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber count = %d, want %d", h.Count(), want)
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := NewHub(nil)
	conn := &websocket.Conn{}

	h.Register("a", conn)
	assert.Equal(t, 1, h.Count())

	// A stale connection must not evict the current one.
	h.Unregister("a", &websocket.Conn{})
	assert.Equal(t, 1, h.Count())

	h.Unregister("a", conn)
	assert.Equal(t, 0, h.Count())
}

func TestHub_PublishNilHub(t *testing.T) {
	var h *Hub
	h.Publish(context.Background(), Event{Type: EventFeedbackCreated})
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)

	waitForCount(t, h, 1)

	h.Publish(ctx, Event{
		Type:    EventRequestCreated,
		Request: &domain.StaffRequest{ID: "req-1", UserID: 42, Text: "help", Status: domain.StaffRequestOpen},
	})

	var got Event
	require.NoError(t, wsjson.Read(ctx, client, &got))
	assert.Equal(t, EventRequestCreated, got.Type)
	require.NotNil(t, got.Request)
	assert.Equal(t, "req-1", got.Request.ID)
	assert.Equal(t, domain.UserID(42), got.Request.UserID)

	require.NoError(t, client.Close(websocket.StatusNormalClosure, "bye"))
	waitForCount(t, h, 0)
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = client.CloseNow() }()

	waitForCount(t, h, 1)
	h.CloseAll()
	assert.Equal(t, 0, h.Count())
}

func TestHub_PublishReachesEverySubscriber(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		c, _, err := websocket.Dial(ctx, url, nil)
		require.NoError(t, err)
		defer func() { _ = c.CloseNow() }()
		clients[i] = c
	}
	waitForCount(t, h, len(clients))

	h.Publish(ctx, Event{
		Type:     EventFeedbackCreated,
		Feedback: &domain.Feedback{UserID: 7, Text: "thanks"},
	})

	for _, c := range clients {
		var got Event
		require.NoError(t, wsjson.Read(ctx, c, &got))
		assert.Equal(t, EventFeedbackCreated, got.Type)
		require.NotNil(t, got.Feedback)
		assert.Equal(t, "thanks", got.Feedback.Text)
	}
}
