package typing

import (
	"sync"
	"time"
)

// DefaultTTL is how long a remote typing entry lives without a refresh.
const DefaultTTL = 3 * time.Second

type entry struct {
	name  string
	since time.Time
	gen   uint64
	timer *time.Timer
}

// Set is the typing state reported by other users, per conversation.
// Entries leave on an explicit stop, on a message from that user, or after the TTL.
type Set struct {
	ttl time.Duration

	mu       sync.Mutex
	convs    map[string]map[string]*entry
	gen      uint64
	onChange func(conversationID string)
}

func NewSet(ttl time.Duration) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Set{ttl: ttl, convs: make(map[string]map[string]*entry)}
}

// OnChange is called outside the lock after an entry appears or disappears.
func (s *Set) OnChange(fn func(conversationID string)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Start adds or refreshes userID's entry in conversationID.
func (s *Set) Start(conversationID, userID, userName string) {
	if conversationID == "" || userID == "" {
		return
	}
	s.mu.Lock()
	users := s.convs[conversationID]
	if users == nil {
		users = make(map[string]*entry)
		s.convs[conversationID] = users
	}
	e, existed := users[userID]
	if existed {
		e.timer.Stop()
	} else {
		e = &entry{since: time.Now()}
		users[userID] = e
	}
	if userName != "" {
		e.name = userName
	} else if e.name == "" {
		e.name = userID
	}
	s.gen++
	gen := s.gen
	e.gen = gen
	e.timer = time.AfterFunc(s.ttl, func() { s.expire(conversationID, userID, gen) })
	fn := s.onChange
	s.mu.Unlock()

	if !existed && fn != nil {
		fn(conversationID)
	}
}

// Stop removes userID's entry. Reports whether there was one.
func (s *Set) Stop(conversationID, userID string) bool {
	s.mu.Lock()
	removed := s.removeLocked(conversationID, userID)
	fn := s.onChange
	s.mu.Unlock()
	if removed && fn != nil {
		fn(conversationID)
	}
	return removed
}

// Clear drops every entry of conversationID.
func (s *Set) Clear(conversationID string) {
	s.mu.Lock()
	users := s.convs[conversationID]
	for _, e := range users {
		e.timer.Stop()
	}
	delete(s.convs, conversationID)
	fn := s.onChange
	s.mu.Unlock()
	if len(users) > 0 && fn != nil {
		fn(conversationID)
	}
}

// Typing returns the name of the user who started typing most recently.
func (s *Set) Typing(conversationID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		name  string
		since time.Time
	)
	for _, e := range s.convs[conversationID] {
		if name == "" || e.since.After(since) {
			name, since = e.name, e.since
		}
	}
	return name, name != ""
}

// Close stops all timers; the set stays usable but empty.
func (s *Set) Close() {
	s.mu.Lock()
	for _, users := range s.convs {
		for _, e := range users {
			e.timer.Stop()
		}
	}
	s.convs = make(map[string]map[string]*entry)
	s.mu.Unlock()
}

func (s *Set) expire(conversationID, userID string, gen uint64) {
	s.mu.Lock()
	e, ok := s.convs[conversationID][userID]
	if !ok || e.gen != gen {
		s.mu.Unlock()
		return
	}
	s.removeLocked(conversationID, userID)
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn(conversationID)
	}
}

func (s *Set) removeLocked(conversationID, userID string) bool {
	users := s.convs[conversationID]
	e, ok := users[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(s.convs, conversationID)
	}
	return true
}
