package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/entryboard/internal/model"
)

// MemoryStore はメモリ上のEntryStore。テストとCLIのドライランで使用する。
// 変更通知は専用のgoroutineから非同期に配信される。
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]model.Entry
	failures map[string]error
	lastTime time.Time
	muted    bool
	now      func() time.Time

	hub    *hub
	queue  chan func()
	done   chan struct{}
	closed sync.Once
}

// NewMemoryStore はMemoryStoreを生成し、通知配信goroutineを起動する。
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		entries:  make(map[string]model.Entry),
		failures: make(map[string]error),
		now:      time.Now,
		hub:      newHub(),
		queue:    make(chan func(), 256),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *MemoryStore) loop() {
	for {
		select {
		case fn := <-m.queue:
			fn()
		case <-m.done:
			return
		}
	}
}

// Close は通知配信goroutineを停止する。
func (m *MemoryStore) Close() {
	m.closed.Do(func() { close(m.done) })
}

// Sync はキュー済みの通知がすべて配信されるまで待つ。
func (m *MemoryStore) Sync() {
	ch := make(chan struct{})
	select {
	case m.queue <- func() { close(ch) }:
	case <-m.done:
		return
	}
	select {
	case <-ch:
	case <-m.done:
	}
}

// Seed は通知を発火せずにエントリを登録する。
func (m *MemoryStore) Seed(entries ...model.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.nextTime()
		}
		e.Platforms = model.NormalizePlatforms(e.Platforms)
		m.entries[e.ID] = e.Clone()
	}
}

// FailNext は次のop（list, create, update, delete, subscribe）の呼び出しをerrで失敗させる。
func (m *MemoryStore) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// Mute は変更通知の発火を止める（trueの場合）。
func (m *MemoryStore) Mute(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
}

// Publish は外部クライアントによる変更を模した通知を配信キューに積む。
func (m *MemoryStore) Publish(c Change) {
	m.enqueue(c)
}

// Get はストア上のエントリを返す。
func (m *MemoryStore) Get(id string) (model.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e.Clone(), ok
}

// Subscribers は現在の購読者数を返す。
func (m *MemoryStore) Subscribers() int {
	return m.hub.count()
}

// List は全エントリをcreated_at降順で返す。
func (m *MemoryStore) List(ctx context.Context) ([]model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("list"); err != nil {
		return nil, err
	}

	out := make([]model.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Create はエントリを作成し、INSERT通知をキューに積んでから返す。
func (m *MemoryStore) Create(ctx context.Context, f model.Fields) (model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return model.Entry{}, err
	}
	m.mu.Lock()
	if err := m.takeFailure("create"); err != nil {
		m.mu.Unlock()
		return model.Entry{}, err
	}
	e := fromFields(uuid.NewString(), m.nextTime(), f)
	m.entries[e.ID] = e
	muted := m.muted
	m.mu.Unlock()

	if !muted {
		m.enqueue(Change{Type: ChangeInsert, Entry: e.Clone(), ID: e.ID})
	}
	return e.Clone(), nil
}

// Update は指定IDのエントリを上書きする。存在しない場合はErrNotFoundを返す。
func (m *MemoryStore) Update(ctx context.Context, id string, f model.Fields) (model.Entry, error) {
	if err := ctx.Err(); err != nil {
		return model.Entry{}, err
	}
	m.mu.Lock()
	if err := m.takeFailure("update"); err != nil {
		m.mu.Unlock()
		return model.Entry{}, err
	}
	cur, ok := m.entries[id]
	if !ok {
		m.mu.Unlock()
		return model.Entry{}, ErrNotFound
	}
	e := fromFields(id, cur.CreatedAt, f)
	m.entries[id] = e
	muted := m.muted
	m.mu.Unlock()

	if !muted {
		m.enqueue(Change{Type: ChangeUpdate, Entry: e.Clone(), ID: id})
	}
	return e.Clone(), nil
}

// Delete は指定IDのエントリを削除する。存在しない場合はErrNotFoundを返す。
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if err := m.takeFailure("delete"); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, ok := m.entries[id]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.entries, id)
	muted := m.muted
	m.mu.Unlock()

	if !muted {
		m.enqueue(Change{Type: ChangeDelete, ID: id})
	}
	return nil
}

// Subscribe は変更通知の購読を開始する。
func (m *MemoryStore) Subscribe(h Handlers) (Unsubscribe, error) {
	m.mu.Lock()
	err := m.takeFailure("subscribe")
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.hub.add(h), nil
}

func (m *MemoryStore) enqueue(c Change) {
	select {
	case m.queue <- func() { m.hub.publish(c) }:
	case <-m.done:
	}
}

// takeFailure はmuを保持した状態で呼ぶ。
func (m *MemoryStore) takeFailure(op string) error {
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	delete(m.failures, op)
	return err
}

// nextTime は単調増加する作成日時を返す。muを保持した状態で呼ぶ。
func (m *MemoryStore) nextTime() time.Time {
	t := m.now()
	if !t.After(m.lastTime) {
		t = m.lastTime.Add(time.Microsecond)
	}
	m.lastTime = t
	return t
}

func fromFields(id string, createdAt time.Time, f model.Fields) model.Entry {
	e := model.Entry{
		ID:               id,
		ReflectionStatus: f.Reflect,
		Title:            f.Item,
		Platforms:        model.NormalizePlatforms(f.Platform),
		Description:      f.Content,
		Owner:            f.Owner,
		CreatedAt:        createdAt,
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		e.CompletedAt = &t
	}
	return e
}

// compile-time interface check
var _ EntryStore = (*MemoryStore)(nil)
