package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

func testConfig() config.WebSocketConfig {
	return config.GetDefaults().WebSocket
}

func newTestClient(id string) *Client {
	return &Client{ID: id, Send: make(chan Event, 4)}
}

func TestShouldBroadcastEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Events.BroadcastRequests = false
	hub := NewHub(cfg, zap.NewNop())

	assert.True(t, hub.shouldBroadcastEvent(EventTypePIIDetection))
	assert.True(t, hub.shouldBroadcastEvent(EventTypeNotification))
	assert.False(t, hub.shouldBroadcastEvent(EventTypeRequestLog))
	assert.False(t, hub.shouldBroadcastEvent(EventType("unknown")))

	cfg.Enabled = false
	disabled := NewHub(cfg, zap.NewNop())
	assert.False(t, disabled.shouldBroadcastEvent(EventTypePIIDetection))
}

func TestSubscriptionFilters(t *testing.T) {
	detection := Event{
		Type: EventTypePIIDetection,
		Data: PIIDetectionEvent{ConversationID: "CONV-2025-001", Categories: []privacy.Category{privacy.CategoryEmail}},
	}
	health := Event{Type: EventTypeRequestLog, Data: RequestLogEvent{Path: "/health"}}
	api := Event{Type: EventTypeRequestLog, Data: RequestLogEvent{Path: "/api/pii/mask"}}
	feedback := Event{Type: EventTypeNotification, Data: NotificationEvent{Notification: notify.Notification{Type: notify.TypeFeedback}}}

	tests := []struct {
		name         string
		subscription *SubscriptionRequest
		event        Event
		want         bool
	}{
		{"no subscription", nil, detection, true},
		{"not subscribed", &SubscriptionRequest{Events: []EventType{EventTypeNotification}}, detection, false},
		{"subscribed", &SubscriptionRequest{Events: []EventType{EventTypePIIDetection}}, detection, true},
		{"category match", &SubscriptionRequest{
			Events: []EventType{EventTypePIIDetection},
			Filter: &EventFilter{Categories: []privacy.Category{privacy.CategoryEmail}},
		}, detection, true},
		{"category miss", &SubscriptionRequest{
			Events: []EventType{EventTypePIIDetection},
			Filter: &EventFilter{Categories: []privacy.Category{privacy.CategorySSN}},
		}, detection, false},
		{"conversation miss", &SubscriptionRequest{
			Events: []EventType{EventTypePIIDetection},
			Filter: &EventFilter{ConversationIDs: []string{"CONV-2025-002"}},
		}, detection, false},
		{"exclude health", &SubscriptionRequest{
			Events: []EventType{EventTypeRequestLog},
			Filter: &EventFilter{ExcludeHealth: true},
		}, health, false},
		{"path prefix", &SubscriptionRequest{
			Events: []EventType{EventTypeRequestLog},
			Filter: &EventFilter{PathPrefixes: []string{"/api/pii"}},
		}, api, true},
		{"notification type miss", &SubscriptionRequest{
			Events: []EventType{EventTypeNotification},
			Filter: &EventFilter{NotificationTypes: []string{notify.TypeEscalation}},
		}, feedback, false},
		{"pong is never broadcast", nil, Event{Type: EventTypePong}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient("c1")
			client.Subscription = tt.subscription
			assert.Equal(t, tt.want, shouldSendToClient(client, tt.event))
		})
	}
}

func TestBroadcastDropsSlowClients(t *testing.T) {
	hub := NewHub(testConfig(), zap.NewNop())

	fast := &Client{ID: "fast", Send: make(chan Event, 16)}
	slow := &Client{ID: "slow", Send: make(chan Event, 1)}
	hub.registerClient(fast)
	hub.registerClient(slow)

	// fast received the "connected" event for slow
	require.Len(t, fast.Send, 1)
	<-fast.Send

	hub.broadcastEvent(Event{Type: EventTypeSystemStatus})
	hub.broadcastEvent(Event{Type: EventTypeSystemStatus})

	stats := hub.GetStats()
	assert.Equal(t, int64(1), stats.ActiveConnections)
	assert.Equal(t, int64(2), stats.TotalConnections)
	assert.Equal(t, int64(2), stats.TotalBroadcasts)

	_, open := <-slow.Send
	assert.True(t, open, "the buffered event is still readable")
	_, open = <-slow.Send
	assert.False(t, open, "slow client channel is closed")

	hub.unregisterClient(slow)
	assert.Equal(t, int64(1), hub.GetStats().ActiveConnections)
}

func TestPublishPIIDetectionRedacts(t *testing.T) {
	hub := NewHub(testConfig(), zap.NewNop())

	hub.PublishPIIDetection("CONV-2025-001", "m1", []privacy.Detection{
		{Type: privacy.CategoryEmail, Original: "jane@example.com", Position: 3, Length: 16},
		{Type: privacy.CategoryEmail, Original: "bob@example.com", Position: 30, Length: 15},
	})

	event := <-hub.broadcast
	data, ok := event.Data.(PIIDetectionEvent)
	require.True(t, ok)
	assert.Equal(t, 2, data.TotalFindings)
	assert.Equal(t, []privacy.Category{privacy.CategoryEmail}, data.Categories)
	for _, d := range data.Detections {
		assert.Empty(t, d.Original)
	}
	assert.False(t, event.Timestamp.IsZero())
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1:1234", ClientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func dialURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHandleWebSocketAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "admin"
	cfg.Password = "secret"
	hub := NewHub(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial(dialURL(server), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("admin", "secret")
	header.Set("Authorization", req.Header.Get("Authorization"))

	conn, _, err := websocket.DefaultDialer.Dial(dialURL(server), header)
	require.NoError(t, err)
	conn.Close()
}

func TestHandleWebSocketDeliversNotifications(t *testing.T) {
	hub := NewHub(testConfig(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(dialURL(server), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.GetStats().ActiveConnections == 1
	}, 2*time.Second, 10*time.Millisecond)

	hub.PublishNotification(notify.Notification{ID: "n1", Title: "Chat Escalated", Type: notify.TypeEscalation})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event struct {
		Type EventType `json:"type"`
		Data struct {
			Notification notify.Notification `json:"notification"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, EventTypeNotification, event.Type)
	assert.Equal(t, "n1", event.Data.Notification.ID)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	var pong Event
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, EventTypePong, pong.Type)
}
