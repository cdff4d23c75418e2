package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/groundtruth-ai/restaurant-chat/internal/notify"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection is sent when a chat message had PII masked
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeNotification carries a new admin notification
	EventTypeNotification EventType = "notification"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PIIDetectionEvent describes masked PII in one message. Detections never
// carry original values.
type PIIDetectionEvent struct {
	ConversationID string              `json:"conversation_id"`
	MessageID      string              `json:"message_id"`
	Detections     []privacy.Detection `json:"detections"`
	TotalFindings  int                 `json:"total_findings"`
	Categories     []privacy.Category  `json:"categories"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string            `json:"request_id"`
	Method       string            `json:"method"`
	Path         string            `json:"path"`
	StatusCode   int               `json:"status_code"`
	ClientIP     string            `json:"client_ip"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Duration     time.Duration     `json:"duration"`
	RequestSize  int64             `json:"request_size"`
	ResponseSize int64             `json:"response_size"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// NotificationEvent wraps an admin notification
type NotificationEvent struct {
	Notification notify.Notification `json:"notification"`
	UnreadCount  int                 `json:"unread_count,omitempty"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalRequests    int64  `json:"total_requests"`
	ActiveRules      int    `json:"active_rules"`
	ConnectedClients int    `json:"connected_clients"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a subscribed client receives
type EventFilter struct {
	// Categories limits pii_detection events to these PII categories
	Categories []privacy.Category `json:"categories,omitempty"`
	// ConversationIDs limits pii_detection events to these conversations
	ConversationIDs []string `json:"conversation_ids,omitempty"`
	// NotificationTypes limits notification events to these types
	NotificationTypes []string `json:"notification_types,omitempty"`
	// PathPrefixes limits request_log events to matching paths
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	ExcludeHealth bool     `json:"exclude_health,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
