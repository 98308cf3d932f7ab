package collection

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/entryboard/internal/metrics"
	"github.com/hitoshi/entryboard/internal/model"
	"github.com/hitoshi/entryboard/internal/store"
)

// watchBuffer はWatchチャネルのバッファ長。溢れた変更は捨てられる。
const watchBuffer = 64

// OutcomeEdited はローカル編集状態の変化を表す（ストアとは無関係）。
const OutcomeEdited Outcome = "edited"

// OutcomeReverted は楽観的な完了処理の取り消しを表す。
const OutcomeReverted Outcome = "reverted"

// Change はWatchで配信される変更の要約。
type Change struct {
	Outcome Outcome `json:"outcome"`
	ID      string  `json:"id,omitempty"`
}

// Row は表示用にエントリと編集中フラグを結合したもの。
type Row struct {
	Entry   model.Entry
	Editing bool
}

// ImportResult は一括取り込みの結果。
type ImportResult struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// Option はCollectionの設定関数。
type Option func(*Collection)

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(c *Collection) { c.logger = l }
}

// WithMetrics はメトリクスコレクターを設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Collection) { c.metrics = metrics.OrNop(m) }
}

// WithClock は完了日時に使う時計を設定する。
func WithClock(now func() time.Time) Option {
	return func(c *Collection) { c.now = now }
}

// Collection はエントリの順序付きインメモリ集合。
// 集合への変更はすべてmuの下で行い、ストア呼び出しはロック外で行う。
// Teardownでgenerationが進むため、それ以前に発行した呼び出しの結果は破棄される。
type Collection struct {
	store   store.EntryStore
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time

	// snapshotMu はスナップショットの取得を直列化する。muより先に取る。
	snapshotMu sync.Mutex

	mu          sync.Mutex
	entries     []model.Entry
	editing     map[string]model.Entry // 編集中のID → 最後に確定した値
	unsubscribe store.Unsubscribe
	active      bool
	generation  uint64
	listing     bool    // List実行中は届いた通知をpendingにも積む
	pending     []Event // List実行中に届いた通知。スナップショット適用後に再適用する
	watchers    map[int]chan Change
	nextWatcher int
}

// New はCollectionを生成する。Loadが呼ばれるまでは非アクティブ。
func New(s store.EntryStore, opts ...Option) *Collection {
	c := &Collection{
		store:    s,
		logger:   slog.Default(),
		metrics:  metrics.Nop{},
		now:      time.Now,
		editing:  make(map[string]model.Entry),
		watchers: make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load は変更通知を購読し直し、スナップショットで集合を置き換える。
// 既存の購読は先に解除する。List失敗時は集合を変更せずRemoteReadErrorを返す。
func (c *Collection) Load(ctx context.Context) error {
	c.mu.Lock()
	prev := c.unsubscribe
	c.unsubscribe = nil
	c.generation++
	gen := c.generation
	c.active = true
	c.mu.Unlock()

	if prev != nil {
		prev()
	}

	unsub, err := c.store.Subscribe(c.handlersFor(gen))
	if err != nil {
		c.logger.Error("変更通知の購読に失敗しました", slog.String("error", err.Error()))
		return model.NewRemoteReadError(err)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		unsub()
		return nil
	}
	c.unsubscribe = unsub
	c.mu.Unlock()

	return c.snapshot(ctx, gen)
}

// Reload は購読を維持したままスナップショットを取り直す。
// アクティブでない場合は何もしないため、Teardown済みの集合が再び購読を持つことはない。
// 通知の取りこぼしが疑われる場合（リスナーの再接続後など）に使う。
func (c *Collection) Reload(ctx context.Context) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.mu.Unlock()

	return c.snapshot(ctx, gen)
}

// snapshot はListの結果で集合を置き換える。
// List実行中に届いた通知はスナップショットの後に順に再適用する。
func (c *Collection) snapshot(ctx context.Context, gen uint64) error {
	c.snapshotMu.Lock()
	defer c.snapshotMu.Unlock()

	c.mu.Lock()
	if c.generation != gen || !c.active {
		c.mu.Unlock()
		return nil
	}
	c.listing = true
	c.pending = nil
	c.mu.Unlock()

	entries, err := c.store.List(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || !c.active {
		return nil
	}
	pending := c.pending
	c.listing = false
	c.pending = nil
	if err != nil {
		c.logger.Error("エントリ一覧の取得に失敗しました", slog.String("error", err.Error()))
		return model.NewRemoteReadError(err)
	}

	c.applyLocked(Snapshot(entries))
	for _, ev := range pending {
		c.applyLocked(ev)
	}
	for id := range c.editing {
		if indexOf(c.entries, id) < 0 {
			delete(c.editing, id)
		}
	}
	c.logger.Debug("エントリを読み込みました",
		slog.Int("count", len(c.entries)),
		slog.Int("replayed", len(pending)),
	)
	return nil
}

// Teardown は購読を解除し、インメモリの状態を破棄する。
// Watchチャネルはすべてクローズされる。
func (c *Collection) Teardown() {
	c.mu.Lock()
	c.generation++
	c.active = false
	c.listing = false
	c.pending = nil
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.entries = nil
	c.editing = make(map[string]model.Entry)
	for id, ch := range c.watchers {
		close(ch)
		delete(c.watchers, id)
	}
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Active はLoad済みでTeardownされていないかを返す。
func (c *Collection) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// handlersFor は指定世代の間だけ有効な通知ハンドラーを返す。
func (c *Collection) handlersFor(gen uint64) store.Handlers {
	return store.Handlers{
		OnInsert: func(e model.Entry) { c.applyIfCurrent(gen, Upsert(e)) },
		OnUpdate: func(e model.Entry) { c.applyIfCurrent(gen, Replace(e)) },
		OnDelete: func(id string) { c.applyIfCurrent(gen, Remove(id)) },
	}
}

// OnInsertNotification はINSERT通知を適用する。既存IDなら位置を保って上書きする。
func (c *Collection) OnInsertNotification(e model.Entry) {
	c.applyIfActive(Upsert(e))
}

// OnUpdateNotification はUPDATE通知を適用する。未知のIDは無視する。
func (c *Collection) OnUpdateNotification(e model.Entry) {
	c.applyIfActive(Replace(e))
}

// OnDeleteNotification はDELETE通知を適用する。未知のIDは無視する。
func (c *Collection) OnDeleteNotification(id string) {
	c.applyIfActive(Remove(id))
}

func (c *Collection) applyIfActive(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.notifyLocked(ev)
}

func (c *Collection) applyIfCurrent(gen uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || !c.active {
		return
	}
	c.notifyLocked(ev)
}

// notifyLocked は通知を適用する。List実行中であれば再適用用に記録する。muを保持して呼ぶ。
func (c *Collection) notifyLocked(ev Event) {
	if c.listing {
		c.pending = append(c.pending, ev)
	}
	c.applyLocked(ev)
}

// applyLocked はイベントを適用し、編集中の行の確定値も更新する。muを保持して呼ぶ。
func (c *Collection) applyLocked(ev Event) Outcome {
	next, outcome := Reconcile(c.entries, ev)
	c.entries = next

	id := ev.EventID()
	switch outcome {
	case OutcomeMerged, OutcomeReplaced:
		if _, ok := c.editing[id]; ok {
			c.editing[id] = ev.Entry.Clone()
		}
	case OutcomeRemoved:
		delete(c.editing, id)
	}

	c.metrics.RecordReconcile(string(outcome))
	if outcome != OutcomeIgnored {
		c.emitLocked(Change{Outcome: outcome, ID: id})
	}
	return outcome
}

// LocalCreate はタイトルを検証してからストアに作成を依頼し、成功時に先頭へ挿入する。
// 失敗時は集合に何も残さない。
func (c *Collection) LocalCreate(ctx context.Context, f model.Fields) (model.Entry, error) {
	f.Item = strings.TrimSpace(f.Item)
	if f.Item == "" {
		return model.Entry{}, model.NewEmptyTitleError()
	}
	if f.Reflect == "" {
		f.Reflect = model.StatusNotReflected
	}
	f.Platform = model.NormalizePlatforms(f.Platform)

	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return model.Entry{}, model.NewWorkspaceInactiveError()
	}
	gen := c.generation
	c.mu.Unlock()

	created, err := c.store.Create(ctx, f)
	if err != nil {
		c.logger.Warn("エントリの作成に失敗しました", slog.String("error", err.Error()))
		return model.Entry{}, model.NewRemoteWriteError(model.OpCreate, err)
	}

	c.applyIfCurrent(gen, Upsert(created))
	return created, nil
}

// LocalUpdate はローカルの値にだけパッチを適用し、行を編集中にする。
// ストアへの書き込みはSaveで行う。
func (c *Collection) LocalUpdate(id string, p model.Patch) (model.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.lookupLocked(id)
	if err != nil {
		return model.Entry{}, err
	}
	if _, ok := c.editing[id]; !ok {
		c.editing[id] = c.entries[i].Clone()
	}
	c.entries[i] = p.Apply(c.entries[i])
	c.emitLocked(Change{Outcome: OutcomeEdited, ID: id})
	return c.entries[i].Clone(), nil
}

// BeginEdit は行を編集中にする。
func (c *Collection) BeginEdit(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.lookupLocked(id)
	if err != nil {
		return err
	}
	if _, ok := c.editing[id]; !ok {
		c.editing[id] = c.entries[i].Clone()
		c.emitLocked(Change{Outcome: OutcomeEdited, ID: id})
	}
	return nil
}

// CancelEdit は未保存の編集を破棄し、最後に確定した値に戻す。
func (c *Collection) CancelEdit(id string) (model.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, err := c.lookupLocked(id)
	if err != nil {
		return model.Entry{}, err
	}
	base, ok := c.editing[id]
	if !ok {
		return c.entries[i].Clone(), nil
	}
	delete(c.editing, id)
	c.entries[i] = base
	c.emitLocked(Change{Outcome: OutcomeEdited, ID: id})
	return base.Clone(), nil
}

// Save はローカルの値をストアに書き込む。成功時はレスポンスで置き換えて編集を終了する。
// 失敗時はローカルの編集をそのまま残す。
func (c *Collection) Save(ctx context.Context, id string) (model.Entry, error) {
	c.mu.Lock()
	i, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return model.Entry{}, err
	}
	local := c.entries[i].Clone()
	gen := c.generation
	c.mu.Unlock()

	if strings.TrimSpace(local.Title) == "" {
		return model.Entry{}, model.NewEmptyTitleError()
	}

	updated, err := c.store.Update(ctx, id, model.ToWritePayload(local))
	if err != nil {
		c.logger.Warn("エントリの保存に失敗しました",
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
		return model.Entry{}, model.NewRemoteWriteError(model.OpUpdate, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == gen && c.active {
		c.applyLocked(Replace(updated))
		if _, ok := c.editing[id]; ok {
			delete(c.editing, id)
			c.emitLocked(Change{Outcome: OutcomeEdited, ID: id})
		}
	}
	return updated, nil
}

// LocalComplete は完了日時を楽観的に設定してからストアに書き込む。
// 失敗時は自分が設定した完了日時だけを取り消す。
// 編集中の行は未保存の編集を送らず、確定値に完了日時を加えて書き込む。
func (c *Collection) LocalComplete(ctx context.Context, id string) (model.Entry, error) {
	c.mu.Lock()
	i, err := c.lookupLocked(id)
	if err != nil {
		c.mu.Unlock()
		return model.Entry{}, err
	}
	if c.entries[i].IsCompleted() {
		c.mu.Unlock()
		return model.Entry{}, model.NewAlreadyCompletedError(id)
	}
	now := c.now()
	src := c.entries[i]
	if base, ok := c.editing[id]; ok {
		src = base
	}
	payload := model.ToWritePayload(src)
	payload.CompletedAt = &now
	c.entries[i].CompletedAt = &now
	gen := c.generation
	c.emitLocked(Change{Outcome: OutcomeMerged, ID: id})
	c.mu.Unlock()

	updated, err := c.store.Update(ctx, id, payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.generation == gen && c.active
	if err != nil {
		if current {
			if j := indexOf(c.entries, id); j >= 0 {
				if at := c.entries[j].CompletedAt; at != nil && at.Equal(now) {
					c.entries[j].CompletedAt = nil
					c.metrics.RecordReconcile(string(OutcomeReverted))
					c.emitLocked(Change{Outcome: OutcomeReverted, ID: id})
				}
			}
		}
		c.logger.Warn("エントリの完了処理に失敗しました",
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
		return model.Entry{}, model.NewRemoteWriteError(model.OpComplete, err)
	}

	if current {
		if _, ok := c.editing[id]; ok {
			c.editing[id] = updated.Clone()
			if j := indexOf(c.entries, id); j >= 0 {
				c.entries[j].CompletedAt = updated.Clone().CompletedAt
				c.metrics.RecordReconcile(string(OutcomeMerged))
				c.emitLocked(Change{Outcome: OutcomeMerged, ID: id})
			}
		} else {
			c.applyLocked(Replace(updated))
		}
	}
	return updated, nil
}

// LocalDelete はストアでの削除が成功してから集合から取り除く。
// ストア側に既に存在しない場合も成功として扱う。
func (c *Collection) LocalDelete(ctx context.Context, id string) error {
	c.mu.Lock()
	if _, err := c.lookupLocked(id); err != nil {
		c.mu.Unlock()
		return err
	}
	gen := c.generation
	c.mu.Unlock()

	if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("エントリの削除に失敗しました",
			slog.String("entry_id", id),
			slog.String("error", err.Error()),
		)
		return model.NewRemoteWriteError(model.OpDelete, err)
	}

	c.applyIfCurrent(gen, Remove(id))
	return nil
}

// Import はパース済みのエントリをLocalCreate経由で作成する。
// ファイル上の順序のまま先頭に並ぶよう、末尾から作成する。
func (c *Collection) Import(ctx context.Context, entries []model.Entry) (ImportResult, error) {
	if len(entries) == 0 {
		return ImportResult{}, model.NewNothingToImportError()
	}
	if !c.Active() {
		return ImportResult{}, model.NewWorkspaceInactiveError()
	}

	var res ImportResult
	for i := len(entries) - 1; i >= 0; i-- {
		f := model.ToWritePayload(entries[i])
		f.CompletedAt = nil
		if _, err := c.LocalCreate(ctx, f); err != nil {
			res.Failed++
			continue
		}
		res.Imported++
	}
	c.metrics.RecordImport(res.Imported, res.Failed)
	c.logger.Info("エントリを取り込みました",
		slog.Int("imported", res.Imported),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

// Entries は現在の集合のコピーを返す。
func (c *Collection) Entries() []model.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Clone()
	}
	return out
}

// Rows はエントリと編集中フラグを結合して返す。
func (c *Collection) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Row, len(c.entries))
	for i, e := range c.entries {
		_, editing := c.editing[e.ID]
		out[i] = Row{Entry: e.Clone(), Editing: editing}
	}
	return out
}

// Get は指定IDのエントリを返す。
func (c *Collection) Get(id string) (model.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := indexOf(c.entries, id)
	if i < 0 {
		return model.Entry{}, false
	}
	return c.entries[i].Clone(), true
}

// Len はエントリ数を返す。
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Watch は変更の要約を受け取るチャネルと解除関数を返す。
// 受信が追いつかない場合、変更は捨てられる。Teardownでチャネルはクローズされる。
func (c *Collection) Watch() (<-chan Change, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextWatcher
	c.nextWatcher++
	ch := make(chan Change, watchBuffer)
	c.watchers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			close(w)
			delete(c.watchers, id)
		}
	}
}

func (c *Collection) emitLocked(ch Change) {
	for _, w := range c.watchers {
		select {
		case w <- ch:
		default:
		}
	}
}

// lookupLocked はアクティブであることと存在を確認してインデックスを返す。
func (c *Collection) lookupLocked(id string) (int, error) {
	if !c.active {
		return -1, model.NewWorkspaceInactiveError()
	}
	i := indexOf(c.entries, id)
	if i < 0 {
		return -1, model.NewEntryNotFoundError(id)
	}
	return i, nil
}
