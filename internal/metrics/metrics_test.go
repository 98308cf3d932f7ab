package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから名前とラベルが一致するメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m, labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(m *dto.Metric, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordStoreCall_SeparatesResults は成功と失敗が別ラベルで集計されることを検証する。
func TestRecordStoreCall_SeparatesResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordStoreCall("create", nil, 10*time.Millisecond)
	c.RecordStoreCall("create", nil, 10*time.Millisecond)
	c.RecordStoreCall("create", errors.New("boom"), time.Millisecond)

	ok := findMetric(t, reg, "entryboard_store_calls_total", map[string]string{"op": "create", "result": "ok"})
	if ok == nil || ok.GetCounter().GetValue() != 2 {
		t.Errorf("ok counter = %v, want 2", ok)
	}
	failed := findMetric(t, reg, "entryboard_store_calls_total", map[string]string{"op": "create", "result": "error"})
	if failed == nil || failed.GetCounter().GetValue() != 1 {
		t.Errorf("error counter = %v, want 1", failed)
	}
}

// TestRecordReconcile_CountsOutcome はマージ結果が種別ごとに集計されることを検証する。
func TestRecordReconcile_CountsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReconcile("inserted")
	c.RecordReconcile("merged")
	c.RecordReconcile("merged")

	m := findMetric(t, reg, "entryboard_reconcile_total", map[string]string{"outcome": "merged"})
	if m == nil || m.GetCounter().GetValue() != 2 {
		t.Errorf("merged = %v, want 2", m)
	}
}

// TestRecordImport_AddsBothCounters はインポート成功数と失敗数が加算されることを検証する。
func TestRecordImport_AddsBothCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordImport(3, 1)
	c.RecordImport(2, 0)

	if m := findMetric(t, reg, "entryboard_import_rows_total", nil); m.GetCounter().GetValue() != 5 {
		t.Errorf("imported = %v, want 5", m.GetCounter().GetValue())
	}
	if m := findMetric(t, reg, "entryboard_import_failed_rows_total", nil); m.GetCounter().GetValue() != 1 {
		t.Errorf("failed = %v, want 1", m.GetCounter().GetValue())
	}
}

// TestSetActiveWorkspaces_SetsGauge はゲージが最後の値で上書きされることを検証する。
func TestSetActiveWorkspaces_SetsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveWorkspaces(4)
	c.SetActiveWorkspaces(2)

	if m := findMetric(t, reg, "entryboard_active_workspaces", nil); m.GetGauge().GetValue() != 2 {
		t.Errorf("active_workspaces = %v, want 2", m.GetGauge().GetValue())
	}
}

// TestOrNop_ReturnsNopForNil はnilの場合にNopが返ることを検証する。
func TestOrNop_ReturnsNopForNil(t *testing.T) {
	if _, ok := OrNop(nil).(Nop); !ok {
		t.Error("OrNop(nil) should return Nop")
	}
	c := NewCollector(prometheus.NewRegistry())
	if OrNop(c) != MetricsCollector(c) {
		t.Error("OrNop should return the given collector")
	}
}

// TestSetupMetricsRoute_ServesMetrics は/metricsパスでメトリクスが返ることを検証する。
func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordNotification("insert")

	handler := SetupMetricsRoute(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "entryboard_notifications_total") {
		t.Error("response should contain entryboard_notifications_total metric")
	}
}
