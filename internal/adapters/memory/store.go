package memory

import (
	"context"
	"sync"

	"github.com/aretw0/blueflow/pkg/domain"
)

type kvKey struct {
	chatID    int64
	nodeID    int
	key       string
	iteration int
}

// Store implements ports.PersistenceBackend in memory.
// Safe for concurrent use. Records are copied on write and on read.
type Store struct {
	mu          sync.RWMutex
	states      map[int64]domain.ChatState
	kv          map[kvKey]domain.KVEntry
	contexts    map[int64]*domain.Context
	messages    []domain.Message
	attachments []domain.Attachment
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		states:   make(map[int64]domain.ChatState),
		kv:       make(map[kvKey]domain.KVEntry),
		contexts: make(map[int64]*domain.Context),
	}
}

func (s *Store) LoadChatState(ctx context.Context, chatID int64) (*domain.ChatState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[chatID]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	return &st, nil
}

func (s *Store) SaveChatState(ctx context.Context, state *domain.ChatState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ChatID] = *state
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *Store) SaveKVEntry(ctx context.Context, entry *domain.KVEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[kvKey{entry.ChatID, entry.NodeID, entry.Key, entry.Iteration}] = *entry
	return nil
}

func (s *Store) LoadKVEntry(ctx context.Context, chatID int64, nodeID int, key string, iteration int) (*domain.KVEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.kv[kvKey{chatID, nodeID, key, iteration}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (s *Store) LoadContext(ctx context.Context, chatID int64) (*domain.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[chatID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) SaveContext(ctx context.Context, c *domain.Context, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	actual := 0
	if cur, ok := s.contexts[c.ChatID]; ok {
		actual = cur.Version
	}
	if actual != expectedVersion {
		return &domain.ContextConflictError{ChatID: c.ChatID, Expected: expectedVersion, Actual: actual}
	}
	c.Version = expectedVersion + 1
	s.contexts[c.ChatID] = c.Clone()
	return nil
}

func (s *Store) SaveAttachment(ctx context.Context, a *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attachments = append(s.attachments, *a)
	return nil
}

// Messages returns the message log of a chat in append order.
func (s *Store) Messages(chatID int64) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Attachments returns the recorded attachments of a chat.
func (s *Store) Attachments(chatID int64) []domain.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Attachment
	for _, a := range s.attachments {
		if a.ChatID == chatID {
			out = append(out, a)
		}
	}
	return out
}
