package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("GET %s returned invalid JSON %q: %v", path, rec.Body.String(), err)
	}
	return rec, body
}

func TestHealthHandler(t *testing.T) {
	sc := NewServerContext(context.Background())
	h := NewHealthChecker(sc)
	h.SetReady(false)
	sc.Shutdown()

	rec, body := serve(t, h.HealthHandler(), "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if len(body) != 1 || body["status"] != "ok" {
		t.Errorf(`body = %v, want {"status":"ok"}`, body)
	}
}

func TestReadinessHandler(t *testing.T) {
	tests := []struct {
		name       string
		ready      bool
		shutdown   bool
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{"ready", true, false, nil, http.StatusOK, healthStatusOK},
		{"not ready", false, false, nil, http.StatusServiceUnavailable, healthStatusNotReady},
		{"shutting down", true, true, nil, http.StatusServiceUnavailable, healthStatusNotReady},
		{"backend down", true, false, errors.New("connection refused"), http.StatusServiceUnavailable, healthStatusNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := NewServerContext(context.Background(), Check{
				Name: "holds",
				Ping: func(context.Context) error { return tt.pingErr },
			})
			h := NewHealthChecker(sc)
			h.SetReady(tt.ready)
			if tt.shutdown {
				sc.Shutdown()
			}

			rec, body := serve(t, h.ReadinessHandler(), "/readyz")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("body status = %v, want %q", body["status"], tt.wantBody)
			}

			checks, _ := body["checks"].(map[string]any)
			wantCheck := healthStatusOK
			if tt.pingErr != nil {
				wantCheck = tt.pingErr.Error()
			}
			if checks["holds"] != wantCheck {
				t.Errorf("holds check = %v, want %q", checks["holds"], wantCheck)
			}
		})
	}
}

func TestReadinessHandler_CheckTimeout(t *testing.T) {
	sc := NewServerContext(context.Background())
	sc.AddCheck(Check{
		Name: "slow",
		Ping: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	h := NewHealthChecker(sc)
	h.checkTimeout = 10 * time.Millisecond

	rec, body := serve(t, h.ReadinessHandler(), "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	checks, _ := body["checks"].(map[string]any)
	if checks["slow"] != context.DeadlineExceeded.Error() {
		t.Errorf("slow check = %v", checks["slow"])
	}
}

func TestDetailedHealthHandler(t *testing.T) {
	sc := NewServerContext(context.Background(), Check{Name: "calendar", Ping: func(context.Context) error { return nil }})
	h := NewHealthChecker(sc)

	rec, body := serve(t, h.DetailedHealthHandler(), "/healthz/detailed")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if body["uptime"] == "" {
		t.Error("expected uptime")
	}

	sc.Shutdown()
	rec, body = serve(t, h.DetailedHealthHandler(), "/healthz/detailed")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != healthStatusShuttingDown {
		t.Errorf("got %d %v, want 503 shutting down", rec.Code, body["status"])
	}
}

func TestRegisterHealthEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthChecker(nil).RegisterHealthEndpoints(mux)

	for _, path := range []string{"/health", "/healthz", "/readyz", "/healthz/detailed"} {
		rec, _ := serve(t, mux, path)
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}
