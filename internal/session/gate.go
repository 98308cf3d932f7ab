package session

import (
	"context"
	"log/slog"
	"sync"
)

// Lifecycle はログイン状態に連動して開始・終了されるもの。
// collection.Collectionが満たす。
type Lifecycle interface {
	Load(ctx context.Context) error
	Teardown()
}

// Gate はSignalの遷移に合わせてLifecycleを駆動する。
// PhaseAuthenticatedに入るたびにLoadを1回、そこから出るたびにTeardownを1回呼ぶ。
// PhaseLoadingの間は何も呼ばない。
type Gate struct {
	lc     Lifecycle
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	userID string
	err    error
}

// NewGate はGateを生成する。
func NewGate(lc Lifecycle, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{lc: lc, logger: logger}
}

// Bind は現在の状態を適用してからsigの購読を開始する。
// 返される解除関数は購読のみを解除し、Teardownは呼ばない。
func (g *Gate) Bind(ctx context.Context, sig *Signal) (cancel func()) {
	cancel = sig.Watch(func(st State) { g.Apply(ctx, st) })
	g.Apply(ctx, sig.Current())
	return cancel
}

// Apply は1つの状態を適用する。同じ状態の繰り返しは何もしない。
// ログイン中のユーザーが変わった場合はTeardownしてからLoadし直す。
func (g *Gate) Apply(ctx context.Context, st State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active && (!st.IsAuthenticated() || st.User.ID != g.userID) {
		g.active = false
		g.userID = ""
		g.lc.Teardown()
		g.logger.Debug("ライフサイクルを終了しました", slog.String("phase", st.Phase.String()))
	}

	if st.IsAuthenticated() && !g.active {
		g.active = true
		g.userID = st.User.ID
		g.err = g.lc.Load(ctx)
		if g.err != nil {
			g.logger.Error("初期読み込みに失敗しました",
				slog.String("user_id", g.userID),
				slog.String("error", g.err.Error()),
			)
		}
	}
}

// Active はLoad済みでTeardownされていないかを返す。
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Err は直近のLoadのエラーを返す。
func (g *Gate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}
