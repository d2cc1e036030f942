package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := globalLogger
	globalLogger = zap.New(core)
	t.Cleanup(func() { globalLogger = prev })
	return logs
}

func TestMiddlewareRequestID(t *testing.T) {
	logs := observe(t)

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Warn("handler failed")
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	warned := logs.FilterMessage("handler failed").All()
	if len(warned) != 1 || warned[0].ContextMap()["request_id"] != "abc" {
		t.Errorf("handler log = %+v", warned)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "abc" {
		t.Errorf("X-Request-ID header = %q", got)
	}

	done := logs.FilterMessage("request completed").All()
	if len(done) != 1 {
		t.Fatalf("completed entries = %d", len(done))
	}
	fields := done[0].ContextMap()
	if fields["status"] != int64(http.StatusTeapot) || fields["request_id"] != "abc" {
		t.Errorf("fields = %v", fields)
	}
}

func TestMiddlewareGeneratesIDs(t *testing.T) {
	observe(t)
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	ids := map[string]bool{}
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		id := rec.Header().Get("X-Request-ID")
		if id == "" || ids[id] {
			t.Fatalf("request id %q empty or repeated", id)
		}
		ids[id] = true
	}
}

func TestMiddlewareKeepsFlusher(t *testing.T) {
	observe(t)
	var flushable bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if !flushable {
		t.Error("wrapped writer does not implement http.Flusher")
	}
}

func TestNamed(t *testing.T) {
	logs := observe(t)
	Named("explorer").Info("loaded", zap.String("workspace", "demo"))

	all := logs.All()
	if len(all) != 1 || all[0].LoggerName != "explorer" {
		t.Fatalf("entries = %+v", all)
	}
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	logs := observe(t)
	FromContext(t.Context()).Info("no request")
	if logs.Len() != 1 {
		t.Errorf("entries = %d", logs.Len())
	}
}
