package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/blueflow/internal/logging"
	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a chat.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates chat access, ensuring updates of one chat are applied
// one at a time. It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	store ports.PersistenceBackend

	mu    sync.Mutex           // Global lock for the map
	locks map[int64]*lockEntry // Map of active locks

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager over the given persistence backend.
func NewManager(store ports.PersistenceBackend, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[int64]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(chatID) after unlocking.
func (m *Manager) acquire(chatID int64) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[chatID]
	if !exists {
		entry = &lockEntry{}
		m.locks[chatID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[chatID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, chatID)
	}
}

// ActiveLocks returns the number of chats currently holding or waiting for a lock.
func (m *Manager) ActiveLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// LoadOrStart loads the chat's state. If the chat never started, a state at
// the start node is created and persisted, and created is true.
// The caller is expected to hold the chat's lock.
func (m *Manager) LoadOrStart(ctx context.Context, chatID int64, now time.Time) (state *domain.ChatState, created bool, err error) {
	state, err = m.store.LoadChatState(ctx, chatID)
	if err == nil {
		return state, false, nil
	}
	if !errors.Is(err, domain.ErrChatNotFound) {
		return nil, false, fmt.Errorf("failed to load chat state: %w", err)
	}

	state = domain.NewChatState(chatID, now)
	if err := m.store.SaveChatState(ctx, state); err != nil {
		return nil, false, fmt.Errorf("failed to initialize chat state: %w", err)
	}
	return state, true, nil
}

// Store returns the underlying persistence backend.
func (m *Manager) Store() ports.PersistenceBackend {
	return m.store
}

// WithLock executes a function while holding the lock for the chat.
func (m *Manager) WithLock(ctx context.Context, chatID int64, fn func(context.Context) error) error {
	entry := m.acquire(chatID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(chatID)
	}()

	// Distributed Locking
	if m.locker != nil {
		key := "chat:" + strconv.FormatInt(chatID, 10)
		unlock, err := m.locker.Lock(ctx, key, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"chat_id", chatID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
