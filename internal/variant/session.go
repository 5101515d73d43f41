package variant

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the per-visitor key/value capability the resolver persists
// assignments in. One key per rule id.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
}

// Sessions hands out the Store for a visitor session id.
type Sessions interface {
	Session(id string) Store
}

// KeyFor is the persisted key holding the variant name of ruleID.
func KeyFor(ruleID string) string { return "seo_ab_" + ruleID }

type sessionEntry struct {
	mu       sync.Mutex
	values   map[string]string
	lastSeen time.Time
}

// MemorySessions keeps visitor sessions in process and evicts those idle for
// longer than the TTL.
type MemorySessions struct {
	pool sync.Map
	ttl  time.Duration
	done chan struct{}
	once sync.Once
}

// NewMemorySessions starts the eviction loop; call Stop to end it.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	s := &MemorySessions{ttl: ttl, done: make(chan struct{})}
	go s.cleanupLoop()
	return s
}

func (s *MemorySessions) Session(id string) Store {
	v, _ := s.pool.LoadOrStore(id, &sessionEntry{values: map[string]string{}})
	e := v.(*sessionEntry)
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
	return e
}

// Len reports the number of live sessions.
func (s *MemorySessions) Len() int {
	n := 0
	s.pool.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (s *MemorySessions) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemorySessions) cleanupLoop() {
	interval := s.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evict(time.Now())
		}
	}
}

func (s *MemorySessions) evict(now time.Time) {
	s.pool.Range(func(key, value any) bool {
		e := value.(*sessionEntry)
		e.mu.Lock()
		idle := now.Sub(e.lastSeen)
		e.mu.Unlock()
		if idle > s.ttl {
			s.pool.Delete(key)
			log.Debug().Interface("session", key).Dur("idle", idle).Msg("evicted idle session")
		}
		return true
	})
}

func (e *sessionEntry) Get(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.values[key]
	return v, ok
}

func (e *sessionEntry) Set(key, value string) {
	e.mu.Lock()
	e.values[key] = value
	e.lastSeen = time.Now()
	e.mu.Unlock()
}
