package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nazim05-hub/MessengerX/models"
)

// MemoryStore is a single-process EphemeralStore. Typing keys carry an
// expiry timestamp and are evicted lazily on read; Run adds an optional
// periodic sweep so abandoned keys do not accumulate.
type MemoryStore struct {
	mu       sync.Mutex
	statuses map[uint]models.PresenceStatus
	typing   map[typingEntry]time.Time

	subMu  sync.RWMutex
	subs   map[int]chan models.StatusChange
	nextID int

	clock func() time.Time
}

type typingEntry struct {
	chatID uint
	userID uint
}

// NewMemoryStore creates a store; a nil clock means time.Now
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		statuses: make(map[uint]models.PresenceStatus),
		typing:   make(map[typingEntry]time.Time),
		subs:     make(map[int]chan models.StatusChange),
		clock:    clock,
	}
}

func (s *MemoryStore) SetStatus(_ context.Context, userID uint, status models.PresenceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[userID] = status
	return nil
}

func (s *MemoryStore) GetStatus(_ context.Context, userID uint) (models.PresenceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status, ok := s.statuses[userID]; ok {
		return status, nil
	}
	return models.StatusOffline, nil
}

// subscriberBuffer bounds how far a subscriber may lag before changes are
// dropped for it, matching pub/sub delivery to slow consumers
const subscriberBuffer = 256

// PublishStatus never blocks on subscribers; each one consumes on its own
// goroutine inside Subscribe.
func (s *MemoryStore) PublishStatus(_ context.Context, change models.StatusChange) error {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, fn func(models.StatusChange)) error {
	ch := make(chan models.StatusChange, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	defer func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case change := <-ch:
			fn(change)
		}
	}
}

func (s *MemoryStore) SetTyping(_ context.Context, chatID, userID uint, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[typingEntry{chatID: chatID, userID: userID}] = s.clock().Add(ttl)
	return nil
}

func (s *MemoryStore) ClearTyping(_ context.Context, chatID, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing, typingEntry{chatID: chatID, userID: userID})
	return nil
}

func (s *MemoryStore) TypingUsers(_ context.Context, chatID uint) ([]uint, error) {
	now := s.clock()

	s.mu.Lock()
	var users []uint
	for entry, expireAt := range s.typing {
		if entry.chatID != chatID {
			continue
		}
		if !now.Before(expireAt) {
			delete(s.typing, entry)
			continue
		}
		users = append(users, entry.userID)
	}
	s.mu.Unlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	if users == nil {
		users = []uint{}
	}
	return users, nil
}

// Sweep evicts every expired typing key and returns how many were removed
func (s *MemoryStore) Sweep() int {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for entry, expireAt := range s.typing {
		if !now.Before(expireAt) {
			delete(s.typing, entry)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
