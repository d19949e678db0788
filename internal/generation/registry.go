package generation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coverletter-agent/backend/internal/metrics"
	"github.com/coverletter-agent/backend/pkg/logger"
)

// Registry holds the live sessions of the HTTP surface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{sessions: make(map[string]*Session), ttl: ttl, now: time.Now}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL. Idle non-terminal
// sessions are abandoned first; busy ones are left alone.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Busy() || s.LastActive().After(cutoff) {
			continue
		}
		if !s.State().Terminal() {
			s.Abandon()
		}
		delete(r.sessions, id)
		removed++
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	if removed > 0 {
		logger.Info("Expired generation sessions", zap.Int("removed", removed), zap.Int("active", len(r.sessions)))
	}
	return removed
}
