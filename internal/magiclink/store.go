package magiclink

import (
	"sync"
	"time"

	"github.com/ErlanBelekov/prospect-portal/internal/domain"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
)

// MemoryStore is the process-local token map. One mutex serializes every
// operation; tokens are independent so no finer locking is needed.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*domain.MagicToken
	now     func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]*domain.MagicToken),
		now:     now,
	}
}

// Store inserts or overwrites token with a fresh expiry and no used mark.
func (s *MemoryStore) Store(token, userID, email string, ttl time.Duration) domain.MagicToken {
	return s.Restore(token, userID, email, s.now().Add(ttl))
}

// Restore inserts token with an absolute expiry, as reconstructed from the
// durable store.
func (s *MemoryStore) Restore(token, userID, email string, expiresAt time.Time) domain.MagicToken {
	entry := &domain.MagicToken{
		Token:     token,
		UserID:    userID,
		Email:     domain.NormalizeEmail(email),
		ExpiresAt: expiresAt,
	}

	s.mu.Lock()
	s.entries[token] = entry
	n := len(s.entries)
	s.mu.Unlock()

	metrics.TokenStoreEntries.Set(float64(n))
	return *entry
}

// Lookup returns the entry for token whether or not it has expired.
func (s *MemoryStore) Lookup(token string) (domain.MagicToken, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return domain.MagicToken{}, false
	}
	return copyEntry(entry), true
}

// Validate returns the entry if it is present and unexpired. It does not
// look at or change the used mark.
func (s *MemoryStore) Validate(token string) (domain.MagicToken, bool) {
	entry, ok := s.Lookup(token)
	if !ok || entry.Expired(s.now()) {
		return domain.MagicToken{}, false
	}
	return entry, true
}

// MarkUsed stamps the entry as used. It reports whether this call set the
// mark; repeated calls leave the first timestamp in place.
func (s *MemoryStore) MarkUsed(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok || entry.UsedAt != nil {
		return false
	}
	now := s.now()
	entry.UsedAt = &now
	return true
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	removed := 0
	for token, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, token)
			removed++
		}
	}
	n := len(s.entries)
	s.mu.Unlock()

	metrics.TokenStoreEntries.Set(float64(n))
	return removed
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func copyEntry(e *domain.MagicToken) domain.MagicToken {
	c := *e
	if e.UsedAt != nil {
		used := *e.UsedAt
		c.UsedAt = &used
	}
	return c
}
