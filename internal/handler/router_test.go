package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/dscvr/internal/cache"
	"github.com/hitoshi/dscvr/internal/middleware"
	"github.com/hitoshi/dscvr/internal/model"
	"github.com/hitoshi/dscvr/internal/pipeline"
)

// --- モック定義 ---

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type mockCacheStatter struct {
	stats cache.Stats
	err   error
}

func (m *mockCacheStatter) Stats(ctx context.Context) (cache.Stats, error) {
	return m.stats, m.err
}

type mockRunTrigger struct {
	report model.RunReport
	err    error
	calls  atomic.Int32
	ctxErr error
}

func (m *mockRunTrigger) Run(ctx context.Context) (model.RunReport, error) {
	m.calls.Add(1)
	m.ctxErr = ctx.Err()
	return m.report, m.err
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func newTestRouter(t *testing.T, deps *RouterDeps) http.Handler {
	t.Helper()
	var buf bytes.Buffer
	if deps.Logger == nil {
		deps.Logger = newTestLogger(&buf)
	}
	if deps.Runner == nil {
		deps.Runner = &mockRunTrigger{}
	}
	return NewRouter(deps)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

// --- GET /health ---

func TestHealth_AllHealthy(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		Database: &mockPinger{},
		Cache:    &mockCacheStatter{stats: cache.Stats{Keys: 12, Hits: 3, Misses: 1, UsedMemory: "1.2M"}},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp healthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "ok" || resp.Database != "ok" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Cache == nil || resp.Cache.Keys != 12 || resp.Cache.HitRate != 0.75 || resp.Cache.Memory != "1.2M" {
		t.Errorf("cache = %+v", resp.Cache)
	}
}

func TestHealth_DatabaseDown_Returns503(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		Database: &mockPinger{err: errors.New("connection refused")},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	var resp healthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "unavailable" || resp.Database != "unavailable" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Cache != nil {
		t.Error("キャッシュ未設定時はcacheを出力しないこと")
	}
}

func TestHealth_CacheDown_IsDegraded(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		Database: &mockPinger{},
		Cache:    &mockCacheStatter{err: errors.New("redis down")},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp healthResponse
	decodeBody(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("Status = %q, want degraded", resp.Status)
	}
	if resp.Cache == nil || resp.Cache.Status != "unavailable" {
		t.Errorf("cache = %+v", resp.Cache)
	}
}

// --- POST /runs ---

func TestTriggerRun_ReturnsReport(t *testing.T) {
	runner := &mockRunTrigger{report: model.RunReport{RunID: "run-1", Fetched: 10, Duplicates: 2, Imported: 8}}
	router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}, Runner: runner})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var report model.RunReport
	decodeBody(t, w, &report)
	if report.RunID != "run-1" || report.Fetched != 10 || report.Duplicates != 2 || report.Imported != 8 {
		t.Errorf("report = %+v", report)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("Run calls = %d, want 1", runner.calls.Load())
	}
}

func TestTriggerRun_IgnoresClientCancellation(t *testing.T) {
	runner := &mockRunTrigger{}
	router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}, Runner: runner})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/runs", nil).WithContext(ctx)
	router.ServeHTTP(httptest.NewRecorder(), req)

	if runner.ctxErr != nil {
		t.Errorf("ctx.Err() = %v, want nil", runner.ctxErr)
	}
}

func TestTriggerRun_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"in progress", pipeline.ErrRunInProgress, http.StatusConflict, "RUN_IN_PROGRESS"},
		{"storage unavailable", fmt.Errorf("パイプライン実行に失敗しました: %w", model.ErrStorageUnavailable), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}, Runner: &mockRunTrigger{err: tt.err}})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body middleware.ErrorResponseBody
			decodeBody(t, w, &body)
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestTriggerRun_RateLimited(t *testing.T) {
	var buf bytes.Buffer
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Every(time.Minute),
		Burst:           1,
		CleanupInterval: time.Minute,
	}, newTestLogger(&buf))
	t.Cleanup(rl.Stop)

	runner := &mockRunTrigger{}
	router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}, Runner: runner, RateLimiter: rl})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runs", nil))
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
	if runner.calls.Load() != 1 {
		t.Errorf("Run calls = %d, want 1", runner.calls.Load())
	}

	// ヘルスチェックはレート制限の対象外
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", w.Code)
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /runs status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("dscvr_runs_total 1\n"))
	})
	router := newTestRouter(t, &RouterDeps{Database: &mockPinger{}, Metrics: metrics})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("dscvr_runs_total")) {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	router := newTestRouter(t, &RouterDeps{
		Database: &mockPinger{},
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("exporter broke")
		}),
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
