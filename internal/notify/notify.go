package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotificationNotFound is returned when marking an unknown notification
var ErrNotificationNotFound = errors.New("notification not found")

// Notification types raised by the chat flow
const (
	TypeEscalation = "escalation"
	TypeFeedback   = "feedback"
	TypeSystem     = "system"
)

// Notification is an admin-facing event
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// Store keeps the newest notifications first, dropping the oldest beyond its capacity
type Store interface {
	Add(ctx context.Context, n Notification) (Notification, error)
	List(ctx context.Context) ([]Notification, error)
	MarkRead(ctx context.Context, id string) ([]Notification, error)
	MarkAllRead(ctx context.Context) ([]Notification, error)
	UnreadCount(ctx context.Context) (int, error)
}

// Publisher receives every notification after it is stored
type Publisher interface {
	PublishNotification(n Notification)
}

// prepare fills the generated fields of a new notification
func prepare(n Notification, now time.Time) Notification {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = now
	}
	n.Read = false
	return n
}

// prepend puts n first and trims the list to max entries
func prepend(list []Notification, n Notification, max int) []Notification {
	updated := make([]Notification, 0, len(list)+1)
	updated = append(updated, n)
	updated = append(updated, list...)
	if max > 0 && len(updated) > max {
		updated = updated[:max]
	}
	return updated
}

func markRead(list []Notification, id string) ([]Notification, bool) {
	found := false
	for i := range list {
		if list[i].ID == id {
			list[i].Read = true
			found = true
		}
	}
	return list, found
}

func countUnread(list []Notification) int {
	count := 0
	for _, n := range list {
		if !n.Read {
			count++
		}
	}
	return count
}

// MemoryStore keeps notifications in process memory
type MemoryStore struct {
	max   int
	mu    sync.RWMutex
	items []Notification
	now   func() time.Time
}

// NewMemoryStore creates an in-memory store keeping at most max notifications
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, now: time.Now}
}

func (s *MemoryStore) Add(ctx context.Context, n Notification) (Notification, error) {
	n = prepare(n, s.now())

	s.mu.Lock()
	s.items = prepend(s.items, n, s.max)
	s.mu.Unlock()

	return n, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found bool
	s.items, found = markRead(s.items, id)
	if !found {
		return nil, ErrNotificationNotFound
	}

	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryStore) MarkAllRead(ctx context.Context) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		s.items[i].Read = true
	}

	out := make([]Notification, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countUnread(s.items), nil
}

// Notifier stores notifications and fans them out to a publisher
type Notifier struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

// NewNotifier creates a notifier. publisher may be nil.
func NewNotifier(store Store, publisher Publisher, logger *zap.Logger) *Notifier {
	return &Notifier{store: store, publisher: publisher, logger: logger}
}

// Notify stores a notification and publishes it
func (n *Notifier) Notify(ctx context.Context, title, message, kind string) (Notification, error) {
	stored, err := n.store.Add(ctx, Notification{Title: title, Message: message, Type: kind})
	if err != nil {
		n.logger.Error("Failed to store notification", zap.String("type", kind), zap.Error(err))
		return Notification{}, err
	}

	n.logger.Info("Notification raised",
		zap.String("notification_id", stored.ID),
		zap.String("type", kind),
		zap.String("title", title))

	if n.publisher != nil {
		n.publisher.PublishNotification(stored)
	}
	return stored, nil
}

// Store returns the underlying store
func (n *Notifier) Store() Store {
	return n.store
}
