// Package presence хранит множество пользователей онлайн.
// Единственный писатель, обработчики событий сокета; читают список разговоров и заголовок треда.
package presence

import (
	"sort"
	"sync"
)

type Tracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func()
}

func New() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// OnChange задаёт колбэк, вызываемый после каждого изменения множества (вне блокировки).
func (t *Tracker) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Set отмечает userID онлайн или офлайн.
func (t *Tracker) Set(userID string, online bool) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	_, was := t.online[userID]
	if online {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	fn := t.onChange
	t.mu.Unlock()
	if was != online && fn != nil {
		fn()
	}
}

// Replace заменяет множество целиком (событие online-users при регистрации).
func (t *Tracker) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	t.mu.Lock()
	t.online = next
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Tracker) Online(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// IDs возвращает отсортированную копию множества.
func (t *Tracker) IDs() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}
