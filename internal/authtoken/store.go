package authtoken

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"wbgate-go/internal/events"
	"wbgate-go/internal/storage"
)

// Tier selects where a token is persisted.
type Tier string

const (
	// TierDurable survives process restarts ("remember me").
	TierDurable Tier = "durable"
	// TierSession lives only as long as the process.
	TierSession Tier = "session"
	// TierNone keeps the token in memory without touching storage.
	TierNone Tier = "none"
)

const tokenKey = "auth_token"

// Store owns the authentication token. It is the only component allowed to
// mutate credential state; everyone else borrows a read-only view via Get.
// Auth state transitions are announced on the events bus so UI collaborators
// can react without the request layer knowing about them.
type Store struct {
	mu    sync.RWMutex
	token string
	tier  Tier

	durable storage.KV
	session storage.KV
	bus     events.Publisher
}

// NewStore wires the two persistence tiers and the notification bus.
func NewStore(durable, session storage.KV, bus events.Publisher) *Store {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Store{
		durable: durable,
		session: session,
		tier:    TierNone,
		bus:     bus,
	}
}

// Load hydrates the in-memory token from storage, durable tier first. Called
// once at startup; storage faults degrade to "absent".
func (s *Store) Load(ctx context.Context) {
	if v, err := s.durable.Get(ctx, tokenKey); err == nil {
		s.mu.Lock()
		s.token, s.tier = v, TierDurable
		s.mu.Unlock()
		return
	} else if !storage.IsNotFound(err) {
		log.Warnf("auth token: durable tier read failed: %v", err)
	}
	if v, err := s.session.Get(ctx, tokenKey); err == nil {
		s.mu.Lock()
		s.token, s.tier = v, TierSession
		s.mu.Unlock()
	} else if !storage.IsNotFound(err) {
		log.Warnf("auth token: session tier read failed: %v", err)
	}
}

// Set stores the token in the requested tier and clears the other one.
// Storage write failures are logged but never surfaced: a broken disk must
// not block the in-memory session.
func (s *Store) Set(ctx context.Context, token string, tier Tier) {
	if tier != TierDurable && tier != TierSession {
		tier = TierNone
	}

	s.mu.Lock()
	s.token = token
	s.tier = tier
	s.mu.Unlock()

	switch tier {
	case TierDurable:
		if err := s.durable.Set(ctx, tokenKey, token); err != nil {
			log.Warnf("auth token: durable tier write failed: %v", err)
		}
		if err := s.session.Delete(ctx, tokenKey); err != nil {
			log.Debugf("auth token: session tier clear failed: %v", err)
		}
	case TierSession:
		if err := s.session.Set(ctx, tokenKey, token); err != nil {
			log.Warnf("auth token: session tier write failed: %v", err)
		}
		if err := s.durable.Delete(ctx, tokenKey); err != nil {
			log.Debugf("auth token: durable tier clear failed: %v", err)
		}
	}

	s.bus.Publish(ctx, events.TopicAuthChanged, events.AuthState{Authenticated: token != ""})
}

// Get returns the current token, or ("", false) when absent. Pure read.
func (s *Store) Get(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", false
	}
	return s.token, true
}

// TierOf returns the persistence tier of the current token.
func (s *Store) TierOf() Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tier
}

// Clear removes the token from both tiers and announces the logout.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.token = ""
	s.tier = TierNone
	s.mu.Unlock()

	if err := s.durable.Delete(ctx, tokenKey); err != nil {
		log.Debugf("auth token: durable tier clear failed: %v", err)
	}
	if err := s.session.Delete(ctx, tokenKey); err != nil {
		log.Debugf("auth token: session tier clear failed: %v", err)
	}

	s.bus.Publish(ctx, events.TopicAuthChanged, events.AuthState{Authenticated: false})
}
