package chatlog

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// ErrConversationNotFound is returned for unknown conversation or message IDs
var ErrConversationNotFound = errors.New("conversation not found")

// ErrMessageNotFound is returned when rating an unknown message
var ErrMessageNotFound = errors.New("message not found")

// Status represents the lifecycle state of a conversation
type Status string

const (
	StatusActive    Status = "active"
	StatusResolved  Status = "resolved"
	StatusEscalated Status = "escalated"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Senders
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// Conversation is a stored chat session. Message content is always masked.
type Conversation struct {
	ID                 string               `json:"id"`
	CustomerID         string               `json:"customerId"`
	Outlet             string               `json:"outlet"`
	StartTime          time.Time            `json:"startTime"`
	EndTime            *time.Time           `json:"endTime,omitempty"`
	Status             Status               `json:"status"`
	Messages           []Message            `json:"messages"`
	PIIDetections      []PIIDetectionRecord `json:"piiDetections"`
	SatisfactionRating int                  `json:"satisfactionRating,omitempty"`
	Tags               []string             `json:"tags,omitempty"`
	LastUpdated        *time.Time           `json:"lastUpdated,omitempty"`
	LastError          string               `json:"lastError,omitempty"`
}

// Message is a single chat message
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Rating    string    `json:"rating,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PIIDetectionRecord is the audit entry for one masked user message.
// Detections carry positions and categories only; original values are never stored.
type PIIDetectionRecord struct {
	MessageID     string              `json:"messageId"`
	Detections    []privacy.Detection `json:"detections"`
	MaskedMessage string              `json:"maskedMessage"`
	Timestamp     time.Time           `json:"timestamp"`
}

// Update is a partial conversation patch; nil fields are left unchanged
type Update struct {
	Status             *Status    `json:"status,omitempty"`
	Outlet             *string    `json:"outlet,omitempty"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	SatisfactionRating *int       `json:"satisfactionRating,omitempty"`
	LastError          *string    `json:"lastError,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
}

// Filter selects conversations; zero fields match everything
type Filter struct {
	Status     Status
	CustomerID string
	From       time.Time
	To         time.Time
}

// Matches reports whether c satisfies the filter
func (f Filter) Matches(c Conversation) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && c.CustomerID != f.CustomerID {
		return false
	}
	if !f.From.IsZero() && c.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.StartTime.After(f.To) {
		return false
	}
	return true
}

// Store persists conversations
type Store interface {
	Create(ctx context.Context, c Conversation) (Conversation, error)
	Get(ctx context.Context, id string) (Conversation, error)
	List(ctx context.Context, filter Filter) ([]Conversation, error)
	AppendMessage(ctx context.Context, id string, msg Message) (Message, error)
	RateMessage(ctx context.Context, id, messageID, rating string) error
	Update(ctx context.Context, id string, update Update) (Conversation, error)
	RecordPIIDetection(ctx context.Context, id string, record PIIDetectionRecord) error
	Clear(ctx context.Context) error
}

// FormatID renders the sequential conversation identifier
func FormatID(year int, seq int64) string {
	return fmt.Sprintf("CONV-%d-%03d", year, seq)
}

// withDefaults fills the fields a new conversation must have
func withDefaults(c Conversation, now time.Time) Conversation {
	if c.CustomerID == "" {
		c.CustomerID = fmt.Sprintf("CUST-****%d", rand.Intn(10000))
	}
	if c.Outlet == "" {
		c.Outlet = "Online Chat"
	}
	if c.StartTime.IsZero() {
		c.StartTime = now
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.PIIDetections == nil {
		c.PIIDetections = []PIIDetectionRecord{}
	}
	return c
}

// apply merges a patch into c
func (u Update) apply(c *Conversation, now time.Time) {
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Outlet != nil {
		c.Outlet = *u.Outlet
	}
	if u.EndTime != nil {
		end := *u.EndTime
		c.EndTime = &end
	}
	if u.SatisfactionRating != nil {
		c.SatisfactionRating = *u.SatisfactionRating
	}
	if u.LastError != nil {
		c.LastError = *u.LastError
	}
	if u.Tags != nil {
		c.Tags = append([]string(nil), u.Tags...)
	}
	c.LastUpdated = &now
}
