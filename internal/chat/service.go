package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
	"github.com/groundtruth-ai/restaurant-chat/internal/metrics"
	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

var (
	// ErrEmptyMessage is returned for blank message text
	ErrEmptyMessage = errors.New("please provide a message")
	// ErrInvalidEndStatus is returned when ending a conversation with a non-terminal status
	ErrInvalidEndStatus = errors.New("conversation can only end as completed or resolved")
)

// EventPublisher receives masked detection events for live dashboards
type EventPublisher interface {
	PublishPIIDetection(conversationID, messageID string, detections []privacy.Detection)
}

// Service runs the customer chat flow. User text is masked before it is
// stored, logged, published or sent to the responder.
type Service struct {
	store     chatlog.Store
	detector  *privacy.Detector
	responder Responder
	notifier  *notify.Notifier
	metrics   *metrics.ChatMetrics
	events    EventPublisher
	cfg       atomic.Pointer[config.ChatConfig]
	logger    *logger.Logger
}

// Options carries the optional collaborators of a Service
type Options struct {
	Notifier *notify.Notifier
	Metrics  *metrics.ChatMetrics
	Events   EventPublisher
}

// NewService creates a chat service
func NewService(store chatlog.Store, detector *privacy.Detector, responder Responder, cfg config.ChatConfig, opts Options, log *logger.Logger) *Service {
	s := &Service{
		store:     store,
		detector:  detector,
		responder: responder,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		events:    opts.Events,
		logger:    log,
	}
	s.cfg.Store(&cfg)
	return s
}

// UpdateConfig swaps the chat settings used by subsequent calls
func (s *Service) UpdateConfig(cfg config.ChatConfig) {
	s.cfg.Store(&cfg)
}

// Reply is the outcome of one message exchange
type Reply struct {
	ConversationID string              `json:"conversationId"`
	UserMessage    chatlog.Message     `json:"userMessage"`
	AIMessage      chatlog.Message     `json:"aiMessage"`
	Detections     []privacy.Detection `json:"detectedPII"`
	Escalated      bool                `json:"escalated"`
}

// StartConversation opens a new conversation
func (s *Service) StartConversation(ctx context.Context, customerID, outlet string) (chatlog.Conversation, error) {
	if outlet == "" {
		outlet = s.cfg.Load().DefaultOutlet
	}

	conv, err := s.store.Create(ctx, chatlog.Conversation{CustomerID: customerID, Outlet: outlet})
	if err != nil {
		return chatlog.Conversation{}, fmt.Errorf("failed to start conversation: %w", err)
	}

	s.logger.WithConversation(conv.ID).Info("Conversation started", zap.String("outlet", conv.Outlet))
	return conv, nil
}

// SendMessage masks and stores a user message, asks the responder for a reply
// and stores that too.
func (s *Service) SendMessage(ctx context.Context, conversationID, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	conv, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}

	masked := s.detector.ProcessText(ctx, text)
	if s.metrics != nil {
		s.metrics.ObserveMask(masked)
	}
	detections := privacy.Redacted(masked.Detections)

	userMsg, err := s.store.AppendMessage(ctx, conversationID, chatlog.Message{
		Sender:  chatlog.SenderUser,
		Content: masked.MaskedText,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to store message: %w", err)
	}

	reply := Reply{
		ConversationID: conversationID,
		UserMessage:    userMsg,
		Detections:     detections,
	}

	if masked.HasPII {
		s.recordDetections(ctx, conversationID, userMsg, detections)
	}

	if s.shouldEscalate(text) {
		reply.Escalated = true
		s.escalate(ctx, conversationID)
	}

	prompt := Prompt{
		SystemContext: s.cfg.Load().SystemPrompt,
		History:       s.history(ctx, conv.Messages),
		Message:       masked.MaskedText,
	}

	answer, err := s.responder.Respond(ctx, prompt)
	if err != nil {
		s.fail(ctx, conversationID, err)
		return reply, fmt.Errorf("failed to get response: %w", err)
	}

	aiMsg, err := s.store.AppendMessage(ctx, conversationID, chatlog.Message{
		Sender:  chatlog.SenderAI,
		Content: answer,
	})
	if err != nil {
		return reply, fmt.Errorf("failed to store reply: %w", err)
	}
	reply.AIMessage = aiMsg

	return reply, nil
}

// history converts stored messages into responder turns, re-masking user text
func (s *Service) history(ctx context.Context, messages []chatlog.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		if m.Sender == chatlog.SenderUser {
			turns = append(turns, Turn{Role: "user", Content: s.detector.ProcessText(ctx, m.Content).MaskedText})
			continue
		}
		turns = append(turns, Turn{Role: "assistant", Content: m.Content})
	}
	return turns
}

func (s *Service) shouldEscalate(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range s.cfg.Load().EscalationKeywords {
		if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func (s *Service) escalate(ctx context.Context, conversationID string) {
	status := chatlog.StatusEscalated
	if _, err := s.store.Update(ctx, conversationID, chatlog.Update{Status: &status}); err != nil {
		s.logger.WithConversation(conversationID).Error("Failed to escalate conversation", zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordEscalation()
	}

	s.logger.WithConversation(conversationID).Info("Conversation escalated")
	s.notify(ctx, "Chat Escalated",
		fmt.Sprintf("Conversation %s escalated due to keyword trigger.", conversationID),
		notify.TypeEscalation)
}

func (s *Service) recordDetections(ctx context.Context, conversationID string, msg chatlog.Message, detections []privacy.Detection) {
	record := chatlog.PIIDetectionRecord{
		MessageID:     msg.ID,
		Detections:    detections,
		MaskedMessage: msg.Content,
	}
	if err := s.store.RecordPIIDetection(ctx, conversationID, record); err != nil {
		s.logger.WithConversation(conversationID).Error("Failed to record PII detection", zap.Error(err))
	}

	if s.events != nil {
		s.events.PublishPIIDetection(conversationID, msg.ID, detections)
	}
}

func (s *Service) fail(ctx context.Context, conversationID string, cause error) {
	if s.metrics != nil {
		s.metrics.RecordResponderError()
	}

	status := chatlog.StatusError
	lastError := cause.Error()
	log := s.logger.WithConversation(conversationID)
	if _, err := s.store.Update(ctx, conversationID, chatlog.Update{Status: &status, LastError: &lastError}); err != nil {
		log.Error("Failed to mark conversation as failed", zap.Error(err))
	}
	log.Warn("Responder failed", zap.Error(cause))
}

func (s *Service) notify(ctx context.Context, title, message, kind string) {
	if s.notifier == nil {
		return
	}
	// Notifier logs its own failures
	_, _ = s.notifier.Notify(ctx, title, message, kind)
}

// RateMessage records thumbs up or down on a message. Up sets the
// conversation satisfaction to 5, down sets it to 1 and raises feedback.
func (s *Service) RateMessage(ctx context.Context, conversationID, messageID string, up bool) (chatlog.Conversation, error) {
	rating, score := "down", 1
	if up {
		rating, score = "up", 5
	}

	if err := s.store.RateMessage(ctx, conversationID, messageID, rating); err != nil {
		return chatlog.Conversation{}, err
	}

	conv, err := s.store.Update(ctx, conversationID, chatlog.Update{SatisfactionRating: &score})
	if err != nil {
		return chatlog.Conversation{}, err
	}

	if !up {
		s.notify(ctx, "Negative Feedback",
			fmt.Sprintf("Customer disliked a response in conversation %s.", conversationID),
			notify.TypeFeedback)
	}
	return conv, nil
}

// EndConversation closes a conversation as completed (the default) or resolved
func (s *Service) EndConversation(ctx context.Context, conversationID string, status chatlog.Status) (chatlog.Conversation, error) {
	if status == "" {
		status = chatlog.StatusCompleted
	}
	if status != chatlog.StatusCompleted && status != chatlog.StatusResolved {
		return chatlog.Conversation{}, ErrInvalidEndStatus
	}

	end := time.Now()
	conv, err := s.store.Update(ctx, conversationID, chatlog.Update{Status: &status, EndTime: &end})
	if err != nil {
		return chatlog.Conversation{}, err
	}

	s.logger.WithConversation(conversationID).Info("Conversation ended", zap.String("status", string(status)))
	return conv, nil
}
