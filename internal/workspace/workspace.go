// Package workspace はログインセッションごとのエントリ集合を管理する。
//
// 1つのログインセッションに対して1つのSignal、Gate、Collectionの組（Workspace）を持つ。
// サインインでPhaseAuthenticatedに、サインアウトでPhaseUnauthenticatedに遷移させ、
// Collectionの読み込みと破棄はGateに任せる。
package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/entryboard/internal/collection"
	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/session"
	"github.com/hitoshi/entryboard/internal/store"
)

// SessionChecker はログインセッションの有効性をまとめて確認する。
// repository.PostgresSessionRepoが満たす。
type SessionChecker interface {
	// ActiveIDs はidsのうち有効期限内のものを返す。
	ActiveIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Workspace は1つのログインセッションに紐づくエントリ集合。
type Workspace struct {
	SessionID  string
	User       session.User
	Signal     *session.Signal
	Collection *collection.Collection

	gate   *session.Gate
	unbind func()
}

// Manager はセッションIDからWorkspaceを引く。
type Manager struct {
	store   store.EntryStore
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	opts    []collection.Option

	mu         sync.Mutex
	workspaces map[string]*Workspace
	activating map[string]*activation
}

// activation は同じセッションIDに対するActivateを直列化する。
type activation struct {
	mu   sync.Mutex
	refs int
}

// NewManager はManagerを生成する。optsは各Collectionの生成時に渡される。
func NewManager(s store.EntryStore, logger *slog.Logger, mc metrics.MetricsCollector, opts ...collection.Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	mc = metrics.OrNop(mc)
	base := []collection.Option{collection.WithLogger(logger), collection.WithMetrics(mc)}
	return &Manager{
		store:      s,
		logger:     logger,
		metrics:    mc,
		opts:       append(base, opts...),
		workspaces: make(map[string]*Workspace),
		activating: make(map[string]*activation),
	}
}

// lockActivation はsessionIDの作成処理を排他し、解除関数を返す。
func (m *Manager) lockActivation(sessionID string) func() {
	m.mu.Lock()
	a, ok := m.activating[sessionID]
	if !ok {
		a = &activation{}
		m.activating[sessionID] = a
	}
	a.refs++
	m.mu.Unlock()

	a.mu.Lock()
	return func() {
		a.mu.Unlock()
		m.mu.Lock()
		a.refs--
		if a.refs == 0 {
			delete(m.activating, sessionID)
		}
		m.mu.Unlock()
	}
}

// Activate はセッションのWorkspaceを作成して初期読み込みを行う。
// 既に同じユーザーで有効なWorkspaceがあればそれを返す。
// 初期読み込みに失敗した場合はWorkspaceを登録せずエラーを返す。次回の呼び出しで再作成される。
// 同じセッションIDの呼び出しが重なった場合、後続は先行の作成を待ってその結果を使う。
func (m *Manager) Activate(ctx context.Context, sessionID string, user session.User) (*Workspace, error) {
	unlock := m.lockActivation(sessionID)
	defer unlock()

	if ws, ok := m.Get(sessionID); ok && ws.User.ID == user.ID {
		return ws, nil
	}

	sig := session.NewSignal()
	col := collection.New(m.store, m.opts...)
	gate := session.NewGate(col, m.logger)
	ws := &Workspace{
		SessionID:  sessionID,
		User:       user,
		Signal:     sig,
		Collection: col,
		gate:       gate,
	}
	ws.unbind = gate.Bind(context.WithoutCancel(ctx), sig)
	sig.Set(session.Authenticated(user))

	if err := gate.Err(); err != nil {
		ws.close()
		return nil, err
	}

	m.mu.Lock()
	prev := m.workspaces[sessionID]
	m.workspaces[sessionID] = ws
	n := len(m.workspaces)
	m.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	m.metrics.SetActiveWorkspaces(n)
	m.logger.Info("ワークスペースを開始しました",
		slog.String("session_id", sessionID),
		slog.String("user_id", user.ID),
		slog.Int("entries", col.Len()),
	)
	return ws, nil
}

// Get は登録済みのWorkspaceを返す。
func (m *Manager) Get(sessionID string) (*Workspace, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.workspaces[sessionID]
	return ws, ok
}

// Deactivate はWorkspaceを未ログイン状態に遷移させて破棄する。未登録なら何もしない。
func (m *Manager) Deactivate(sessionID string) {
	m.mu.Lock()
	ws, ok := m.workspaces[sessionID]
	delete(m.workspaces, sessionID)
	n := len(m.workspaces)
	m.mu.Unlock()

	if !ok {
		return
	}
	ws.close()
	m.metrics.SetActiveWorkspaces(n)
	m.logger.Info("ワークスペースを終了しました", slog.String("session_id", sessionID))
}

// Sweep はセッションが失効したWorkspaceを破棄し、破棄した数を返す。
// 確認の問い合わせに失敗した場合は何も破棄しない。
func (m *Manager) Sweep(ctx context.Context, checker SessionChecker) int {
	ids := m.sessionIDs()
	if len(ids) == 0 {
		return 0
	}
	active, err := checker.ActiveIDs(ctx, ids)
	if err != nil {
		m.logger.Warn("セッションの確認に失敗しました",
			slog.Int("workspaces", len(ids)),
			slog.String("error", err.Error()),
		)
		return 0
	}

	removed := 0
	for _, id := range ids {
		if _, ok := active[id]; !ok {
			m.Deactivate(id)
			removed++
		}
	}
	return removed
}

// ReloadAll はすべてのWorkspaceのCollectionを読み込み直す。
// 変更通知を取りこぼした可能性がある場合に使う。
func (m *Manager) ReloadAll(ctx context.Context) {
	for _, id := range m.sessionIDs() {
		ws, ok := m.Get(id)
		if !ok {
			continue
		}
		if err := ws.Collection.Reload(ctx); err != nil {
			m.logger.Warn("ワークスペースの再読み込みに失敗しました",
				slog.String("session_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Close はすべてのWorkspaceを破棄する。
func (m *Manager) Close() {
	for _, id := range m.sessionIDs() {
		m.Deactivate(id)
	}
}

// Count は登録済みのWorkspace数を返す。
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workspaces)
}

func (m *Manager) sessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.workspaces))
	for id := range m.workspaces {
		ids = append(ids, id)
	}
	return ids
}

// close はSignalを未ログインにしてCollectionを破棄させ、購読を外す。
func (ws *Workspace) close() {
	ws.Signal.Set(session.Unauthenticated())
	if ws.unbind != nil {
		ws.unbind()
	}
}
