package temporal

import (
	"sync"

	"github.com/tempusdb/tempus/internal/storage"
)

// hookRegistry fans committed transitions out to observers in
// registration order. Hooks run synchronously on the committing
// goroutine, after the transition is visible to readers, so an
// observer sees at most the states a concurrent scanner could see.
type hookRegistry struct {
	mu    sync.RWMutex
	next  int64
	ids   []int64
	hooks map[int64]storage.CommitHook
}

func newHookRegistry() *hookRegistry {
	return &hookRegistry{hooks: make(map[int64]storage.CommitHook)}
}

// register adds a hook and returns its unregister function. The
// returned function is idempotent.
func (r *hookRegistry) register(hook storage.CommitHook) func() {
	r.mu.Lock()
	id := r.next
	r.next++
	r.ids = append(r.ids, id)
	r.hooks[id] = hook
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.hooks, id)
			for i, v := range r.ids {
				if v == id {
					r.ids = append(r.ids[:i], r.ids[i+1:]...)
					break
				}
			}
		})
	}
}

// fire delivers the event to every registered hook. The hook list is
// copied first so a hook unregistering itself does not deadlock.
func (r *hookRegistry) fire(event storage.CommitEvent) {
	r.mu.RLock()
	if len(r.hooks) == 0 {
		r.mu.RUnlock()
		return
	}
	hooks := make([]storage.CommitHook, 0, len(r.ids))
	for _, id := range r.ids {
		if h, ok := r.hooks[id]; ok {
			hooks = append(hooks, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range hooks {
		h(event)
	}
}

func (r *hookRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks)
}
