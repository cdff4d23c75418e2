package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"github.com/groundtruth-ai/restaurant-chat/internal/metrics"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

type fakeResponder struct {
	mu      sync.Mutex
	prompts []Prompt
	reply   string
	err     error
}

func (f *fakeResponder) Respond(ctx context.Context, prompt Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

type recordingEvents struct {
	conversations []string
	detections    [][]privacy.Detection
}

func (r *recordingEvents) PublishPIIDetection(conversationID, messageID string, detections []privacy.Detection) {
	r.conversations = append(r.conversations, conversationID)
	r.detections = append(r.detections, detections)
}

type fixture struct {
	service   *Service
	store     *chatlog.MemoryStore
	responder *fakeResponder
	notes     notify.Store
	events    *recordingEvents
	metrics   *metrics.ChatMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	detector, err := privacy.New(config.PrivacyConfig{Enabled: true, Detectors: []string{"all"}}, nil, logger.NewNop())
	require.NoError(t, err)

	f := &fixture{
		store:     chatlog.NewMemoryStore(),
		responder: &fakeResponder{reply: "Happy to help!"},
		notes:     notify.NewMemoryStore(50),
		events:    &recordingEvents{},
		metrics:   metrics.New(prometheus.NewRegistry()),
	}

	f.service = NewService(f.store, detector, f.responder, config.GetDefaults().Chat, Options{
		Notifier: notify.NewNotifier(f.notes, nil, zap.NewNop()),
		Metrics:  f.metrics,
		Events:   f.events,
	}, logger.NewNop())

	return f
}

func TestSendMessageMasksBeforeStoringAndResponding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Online Chat", conv.Outlet)

	reply, err := f.service.SendMessage(ctx, conv.ID, "Book a table, call me at 555-123-4567")
	require.NoError(t, err)

	assert.Equal(t, "Book a table, call me at ***-***-4567", reply.UserMessage.Content)
	assert.Equal(t, "Happy to help!", reply.AIMessage.Content)
	require.Len(t, reply.Detections, 1)
	assert.Equal(t, privacy.CategoryPhone, reply.Detections[0].Type)
	assert.Empty(t, reply.Detections[0].Original, "original values never leave the service")
	assert.False(t, reply.Escalated)

	require.Len(t, f.responder.prompts, 1)
	prompt := f.responder.prompts[0]
	assert.Equal(t, "Book a table, call me at ***-***-4567", prompt.Message)
	assert.NotContains(t, prompt.Message, "555-123")
	assert.Empty(t, prompt.History)
	assert.NotEmpty(t, prompt.SystemContext)

	stored, err := f.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, chatlog.SenderUser, stored.Messages[0].Sender)
	assert.Equal(t, chatlog.SenderAI, stored.Messages[1].Sender)
	require.Len(t, stored.PIIDetections, 1)
	assert.Equal(t, stored.Messages[0].ID, stored.PIIDetections[0].MessageID)
	assert.Empty(t, stored.PIIDetections[0].Detections[0].Original)

	require.Len(t, f.events.conversations, 1)
	assert.Equal(t, conv.ID, f.events.conversations[0])

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.MessagesMaskedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PIIDetectionsTotal.WithLabelValues("PHONE")))
}

func TestSendMessageHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "CUST-****1234", "Downtown")
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, conv.ID, "Email me at jane@example.com")
	require.NoError(t, err)
	_, err = f.service.SendMessage(ctx, conv.ID, "What are your opening hours?")
	require.NoError(t, err)

	require.Len(t, f.responder.prompts, 2)
	history := f.responder.prompts[1].History
	require.Len(t, history, 2)
	assert.Equal(t, Turn{Role: "user", Content: "Email me at ja***@example.com"}, history[0])
	assert.Equal(t, Turn{Role: "assistant", Content: "Happy to help!"}, history[1])

	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.MessagesScannedTotal))
}

func TestSendMessageEscalation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)

	reply, err := f.service.SendMessage(ctx, conv.ID, "I want to speak to a MANAGER")
	require.NoError(t, err)
	assert.True(t, reply.Escalated)

	stored, err := f.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, chatlog.StatusEscalated, stored.Status)

	list, err := f.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notify.TypeEscalation, list[0].Type)
	assert.Equal(t, "Chat Escalated", list[0].Title)
	assert.Contains(t, list[0].Message, conv.ID)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.EscalationsTotal))
}

func TestSendMessageResponderFailure(t *testing.T) {
	f := newFixture(t)
	f.responder.err = errors.New("upstream unavailable")
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, conv.ID, "Show me the menu")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream unavailable")

	stored, err := f.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, chatlog.StatusError, stored.Status)
	assert.Equal(t, "upstream unavailable", stored.LastError)
	require.Len(t, stored.Messages, 1, "the user message is kept")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ResponderErrorsTotal))
}

func TestSendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)

	_, err = f.service.SendMessage(ctx, conv.ID, "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.service.SendMessage(ctx, "CONV-0000-000", "hello")
	assert.ErrorIs(t, err, chatlog.ErrConversationNotFound)

	assert.Empty(t, f.responder.prompts)
}

func TestRateMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)
	reply, err := f.service.SendMessage(ctx, conv.ID, "What are today's specials?")
	require.NoError(t, err)

	updated, err := f.service.RateMessage(ctx, conv.ID, reply.AIMessage.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.SatisfactionRating)

	count, err := f.notes.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	updated, err = f.service.RateMessage(ctx, conv.ID, reply.AIMessage.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.SatisfactionRating)
	assert.Equal(t, "down", updated.Messages[1].Rating)

	list, err := f.notes.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, notify.TypeFeedback, list[0].Type)

	_, err = f.service.RateMessage(ctx, conv.ID, "missing", true)
	assert.ErrorIs(t, err, chatlog.ErrMessageNotFound)
}

func TestEndConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)

	ended, err := f.service.EndConversation(ctx, conv.ID, "")
	require.NoError(t, err)
	assert.Equal(t, chatlog.StatusCompleted, ended.Status)
	require.NotNil(t, ended.EndTime)

	resolved, err := f.service.EndConversation(ctx, conv.ID, chatlog.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, chatlog.StatusResolved, resolved.Status)

	_, err = f.service.EndConversation(ctx, conv.ID, chatlog.StatusActive)
	assert.ErrorIs(t, err, ErrInvalidEndStatus)

	_, err = f.service.EndConversation(ctx, "CONV-0000-000", "")
	assert.ErrorIs(t, err, chatlog.ErrConversationNotFound)
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.service.UpdateConfig(config.ChatConfig{
		EscalationKeywords: []string{"chef"},
		DefaultOutlet:      "Harbour Front",
		SystemPrompt:       "Be brief.",
	})

	conv, err := f.service.StartConversation(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Harbour Front", conv.Outlet)

	reply, err := f.service.SendMessage(ctx, conv.ID, "Can I speak to a manager?")
	require.NoError(t, err)
	assert.False(t, reply.Escalated)

	reply, err = f.service.SendMessage(ctx, conv.ID, "Tell the Chef thanks")
	require.NoError(t, err)
	assert.True(t, reply.Escalated)
	assert.Equal(t, "Be brief.", f.responder.prompts[1].SystemContext)
}

func TestHTTPResponder(t *testing.T) {
	var got Prompt
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch {
		case strings.Contains(got.Message, "busy"):
			w.WriteHeader(http.StatusTooManyRequests)
		case strings.Contains(got.Message, "broken"):
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			_ = json.NewEncoder(w).Encode(map[string]string{"response": "We open at 11am."})
		}
	}))
	defer server.Close()

	responder := NewHTTPResponder(config.UpstreamConfig{ChatURL: server.URL, APIKey: "secret", Timeout: 5 * time.Second})
	ctx := context.Background()

	answer, err := responder.Respond(ctx, Prompt{Message: "What are your opening hours?", History: []Turn{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "We open at 11am.", answer)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "What are your opening hours?", got.Message)
	require.Len(t, got.History, 1)

	_, err = responder.Respond(ctx, Prompt{Message: "busy"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")

	_, err = responder.Respond(ctx, Prompt{Message: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
