package chatlog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory
type MemoryStore struct {
	mu            sync.RWMutex
	conversations []*Conversation
	index         map[string]*Conversation
	seq           int64
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		index: make(map[string]*Conversation),
		now:   time.Now,
	}
}

// clone returns a deep copy so callers never share slices with the store
func clone(c *Conversation) Conversation {
	out := *c
	out.Messages = append([]Message{}, c.Messages...)
	out.PIIDetections = append([]PIIDetectionRecord{}, c.PIIDetections...)
	if c.Tags != nil {
		out.Tags = append([]string(nil), c.Tags...)
	}
	return out
}

func (s *MemoryStore) Create(ctx context.Context, c Conversation) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seq++
	c = withDefaults(c, now)
	c.ID = FormatID(now.Year(), s.seq)

	stored := clone(&c)
	s.conversations = append(s.conversations, &stored)
	s.index[stored.ID] = &stored

	return clone(&stored), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.index[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return clone(c), nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		if filter.Matches(*c) {
			out = append(out, clone(c))
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok {
		return Message{}, ErrConversationNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	msg.Timestamp = s.now()
	c.Messages = append(c.Messages, msg)

	return msg, nil
}

func (s *MemoryStore) RateMessage(ctx context.Context, id, messageID, rating string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok {
		return ErrConversationNotFound
	}

	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			c.Messages[i].Rating = rating
			return nil
		}
	}
	return ErrMessageNotFound
}

func (s *MemoryStore) Update(ctx context.Context, id string, update Update) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}

	update.apply(c, s.now())
	return clone(c), nil
}

func (s *MemoryStore) RecordPIIDetection(ctx context.Context, id string, record PIIDetectionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.index[id]
	if !ok {
		return ErrConversationNotFound
	}

	record.Timestamp = s.now()
	c.PIIDetections = append(c.PIIDetections, record)
	return nil
}

// Clear removes every conversation and restarts the ID sequence
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = nil
	s.index = make(map[string]*Conversation)
	s.seq = 0
	return nil
}
