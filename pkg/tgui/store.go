package tgui

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// TokenStore is an in-memory TTL store for large callback payloads.
//
// Telegram limits callback_data to 64 bytes. For flows like confirmation
// prompts, this store keeps the structured payload server-side and passes
// only a short token in callback_data.
//
// Tokens are safe for callback payloads (they never contain ':').
type TokenStore struct {
	mu sync.RWMutex

	max int
	ttl time.Duration

	nextCleanup time.Time

	m map[string]tokenEntry
}

type tokenEntry struct {
	b   []byte
	exp time.Time
}

const tokenCleanupInterval = time.Minute

// NewTokenStore creates a TokenStore with defaults: ttl=15m, max=5000.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		ttl: 15 * time.Minute,
		max: 5000,
		m:   map[string]tokenEntry{},
	}
}

// WithTTL sets the token TTL.
func (s *TokenStore) WithTTL(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
	return s
}

// PutJSON stores JSON-marshaled v and returns a short token.
func (s *TokenStore) PutJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return s.putBytes(b), nil
}

// GetJSON unmarshals the stored payload for tok into out.
func (s *TokenStore) GetJSON(tok string, out any) error {
	b, ok := s.getBytes(tok)
	if !ok {
		return errors.New("tgui: token not found")
	}
	return json.Unmarshal(b, out)
}

// Delete removes a token; consuming a confirm token makes it single-use.
func (s *TokenStore) Delete(tok string) {
	if tok == "" {
		return
	}
	s.mu.Lock()
	delete(s.m, tok)
	s.mu.Unlock()
}

func (s *TokenStore) putBytes(b []byte) string {
	now := time.Now()
	s.maybeCleanup(now)

	// token format: "~" + base64url(6 random bytes) => 1 + 8 chars
	var buf [6]byte
	for i := 0; i < 8; i++ {
		_, _ = rand.Read(buf[:])
		tok := "~" + base64.RawURLEncoding.EncodeToString(buf[:])

		s.mu.Lock()
		if _, exists := s.m[tok]; exists {
			s.mu.Unlock()
			continue
		}
		s.m[tok] = tokenEntry{b: append([]byte(nil), b...), exp: now.Add(s.ttl)}
		s.enforceMaxLocked()
		s.mu.Unlock()
		return tok
	}

	// Extremely unlikely collision fallback: include a time byte.
	_, _ = rand.Read(buf[:])
	tok := "~" + base64.RawURLEncoding.EncodeToString(append(buf[:], byte(now.UnixNano())))
	s.mu.Lock()
	s.m[tok] = tokenEntry{b: append([]byte(nil), b...), exp: now.Add(s.ttl)}
	s.enforceMaxLocked()
	s.mu.Unlock()
	return tok
}

func (s *TokenStore) getBytes(tok string) ([]byte, bool) {
	if tok == "" {
		return nil, false
	}
	now := time.Now()
	s.maybeCleanup(now)

	s.mu.RLock()
	e, ok := s.m[tok]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && now.After(e.exp) {
		s.mu.Lock()
		if e2, ok2 := s.m[tok]; ok2 && now.After(e2.exp) {
			delete(s.m, tok)
		}
		s.mu.Unlock()
		return nil, false
	}
	return append([]byte(nil), e.b...), true
}

func (s *TokenStore) maybeCleanup(now time.Time) {
	s.mu.RLock()
	next := s.nextCleanup
	s.mu.RUnlock()
	if !next.IsZero() && now.Before(next) {
		return
	}

	s.mu.Lock()
	if s.nextCleanup.IsZero() || !now.Before(s.nextCleanup) {
		for k, e := range s.m {
			if !e.exp.IsZero() && now.After(e.exp) {
				delete(s.m, k)
			}
		}
		s.nextCleanup = now.Add(tokenCleanupInterval)
	}
	s.mu.Unlock()
}

func (s *TokenStore) enforceMaxLocked() {
	if s.max <= 0 || len(s.m) <= s.max {
		return
	}
	// Best-effort eviction: remove arbitrary entries until within limit.
	over := len(s.m) - s.max
	for k := range s.m {
		delete(s.m, k)
		over--
		if over <= 0 {
			break
		}
	}
}
