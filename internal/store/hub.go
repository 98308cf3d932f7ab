package store

import (
	"sync"
)

// hub は購読者への変更通知のファンアウトを行う。
type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]Handlers
}

func newHub() *hub {
	return &hub{subs: make(map[int]Handlers)}
}

// add は購読者を登録し、1回だけ実行される解除関数を返す。
func (h *hub) add(handlers Handlers) Unsubscribe {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = handlers
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// publish は全購読者に通知する。
// コールバックはロック外で呼ぶため、コールバック内から解除してもデッドロックしない。
func (h *hub) publish(c Change) {
	h.mu.RLock()
	targets := make([]Handlers, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	for _, s := range targets {
		switch c.Type {
		case ChangeInsert:
			if s.OnInsert != nil {
				s.OnInsert(c.Entry.Clone())
			}
		case ChangeUpdate:
			if s.OnUpdate != nil {
				s.OnUpdate(c.Entry.Clone())
			}
		case ChangeDelete:
			if s.OnDelete != nil {
				s.OnDelete(c.ID)
			}
		}
	}
}

// count は現在の購読者数を返す。
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
