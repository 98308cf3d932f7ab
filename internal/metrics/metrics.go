// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// ストア、コレクション、ハンドラー層から利用する。
type MetricsCollector interface {
	RecordStoreCall(op string, err error, duration time.Duration)
	RecordNotification(kind string)
	RecordReconcile(outcome string)
	RecordImport(imported, failed int)
	RecordExport(rows int)
	RecordHTTPStatus(statusCode int)
	SetActiveWorkspaces(n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	storeCalls       *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	notifications    *prometheus.CounterVec
	reconciles       *prometheus.CounterVec
	importedRows     prometheus.Counter
	importFailedRows prometheus.Counter
	exportedRows     prometheus.Counter
	httpStatus       *prometheus.CounterVec
	activeWorkspaces prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		storeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entryboard_store_calls_total",
			Help: "ストア呼び出しの合計数（操作・結果別）",
		}, []string{"op", "result"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "entryboard_store_call_seconds",
			Help:    "ストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entryboard_notifications_total",
			Help: "受信した変更通知の合計数（種別別）",
		}, []string{"kind"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entryboard_reconcile_total",
			Help: "コレクションへのマージ結果の合計数",
		}, []string{"outcome"}),
		importedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entryboard_import_rows_total",
			Help: "インポートで作成された行の合計数",
		}),
		importFailedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entryboard_import_failed_rows_total",
			Help: "インポートで作成に失敗した行の合計数",
		}),
		exportedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "entryboard_export_rows_total",
			Help: "エクスポートした行の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "entryboard_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		activeWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "entryboard_active_workspaces",
			Help: "有効なワークスペース（ログインセッション）数",
		}),
	}

	reg.MustRegister(
		c.storeCalls,
		c.storeLatency,
		c.notifications,
		c.reconciles,
		c.importedRows,
		c.importFailedRows,
		c.exportedRows,
		c.httpStatus,
		c.activeWorkspaces,
	)

	return c
}

// RecordStoreCall はストア呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordStoreCall(op string, err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.storeCalls.WithLabelValues(op, result).Inc()
	c.storeLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordNotification は変更通知の受信を記録する。
func (c *Collector) RecordNotification(kind string) {
	c.notifications.WithLabelValues(kind).Inc()
}

// RecordReconcile はマージ結果（inserted, merged, replaced, removed, ignored, snapshot）を記録する。
func (c *Collector) RecordReconcile(outcome string) {
	c.reconciles.WithLabelValues(outcome).Inc()
}

// RecordImport はインポート結果を記録する。
func (c *Collector) RecordImport(imported, failed int) {
	c.importedRows.Add(float64(imported))
	c.importFailedRows.Add(float64(failed))
}

// RecordExport はエクスポート行数を記録する。
func (c *Collector) RecordExport(rows int) {
	c.exportedRows.Add(float64(rows))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetActiveWorkspaces は有効なワークスペース数を設定する。
func (c *Collector) SetActiveWorkspaces(n int) {
	c.activeWorkspaces.Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。テストやCLIで使用する。
type Nop struct{}

func (Nop) RecordStoreCall(string, error, time.Duration) {}
func (Nop) RecordNotification(string)                    {}
func (Nop) RecordReconcile(string)                       {}
func (Nop) RecordImport(int, int)                        {}
func (Nop) RecordExport(int)                             {}
func (Nop) RecordHTTPStatus(int)                         {}
func (Nop) SetActiveWorkspaces(int)                      {}

// OrNop はnilの場合にNopを返す。
func OrNop(m MetricsCollector) MetricsCollector {
	if m == nil {
		return Nop{}
	}
	return m
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
