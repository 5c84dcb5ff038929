package runtime

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestReadyz(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	healthy := func(context.Context) error { return nil }

	tests := []struct {
		name     string
		checks   []ReadyCheck
		wantCode int
		wantBody string
	}{
		{name: "no checks", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "healthy", checks: []ReadyCheck{{Name: "db", Check: healthy}}, wantCode: http.StatusOK, wantBody: "ok"},
		{name: "required failure", checks: []ReadyCheck{{Name: "db", Check: failing}}, wantCode: http.StatusServiceUnavailable, wantBody: "db: down"},
		{name: "optional failure", checks: []ReadyCheck{{Name: "kafka", Check: failing, Optional: true}}, wantCode: http.StatusOK, wantBody: "degraded: kafka: down"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := NewBaseMuxWithReady(tt.checks...)
			rw := httptest.NewRecorder()
			mux.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rw.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rw.Code)
			}
			if !strings.Contains(rw.Body.String(), tt.wantBody) {
				t.Fatalf("body %q does not contain %q", rw.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "booking-service", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "tenant_id", "t1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, `"service":"booking-service"`) || !strings.Contains(out, `"tenant_id":"t1"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
