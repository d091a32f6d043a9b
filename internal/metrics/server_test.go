package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.MetricsPath != "/metrics" {
		t.Errorf("MetricsPath = %s, want /metrics", cfg.MetricsPath)
	}
	if cfg.HealthPath != "/health" {
		t.Errorf("HealthPath = %s, want /health", cfg.HealthPath)
	}
}

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]Check
		wantCode   int
		wantStatus string
	}{
		{
			name:       "no checks",
			checks:     nil,
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name:       "broker connected",
			checks:     map[string]Check{"broker": {Status: StatusHealthy, Message: "rtt 2ms"}},
			wantCode:   http.StatusOK,
			wantStatus: StatusHealthy,
		},
		{
			name: "broker lost",
			checks: map[string]Check{
				"broker":  {Status: StatusUnhealthy, Message: "heartbeat lost"},
				"journal": {Status: StatusHealthy},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(DefaultServerConfig(), nil)
			for name, check := range tt.checks {
				check := check
				server.RegisterHealthCheck(name, func() Check { return check })
			}

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			w := httptest.NewRecorder()
			server.healthHandler(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var status HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", status.Status, tt.wantStatus)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("checks count = %d, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestServer_ReadyHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	healthy := true
	server.RegisterHealthCheck("broker", func() Check {
		if healthy {
			return Check{Status: StatusHealthy}
		}
		return Check{Status: StatusUnhealthy}
	})

	w := httptest.NewRecorder()
	server.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ready" {
		t.Errorf("ready: code = %d body = %q", w.Code, w.Body.String())
	}

	healthy = false
	w = httptest.NewRecorder()
	server.readyHandler(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("not ready: code = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestServer_LiveHandler(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	w := httptest.NewRecorder()
	server.liveHandler(w, httptest.NewRequest(http.MethodGet, "/live", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "alive" {
		t.Errorf("body = %s, want alive", w.Body.String())
	}
}

func TestServer_Uptime(t *testing.T) {
	server := NewServer(DefaultServerConfig(), nil)

	time.Sleep(10 * time.Millisecond)

	if uptime := server.Uptime(); uptime < 10*time.Millisecond {
		t.Errorf("uptime = %v, expected >= 10ms", uptime)
	}
}

func TestServer_StartServesMetrics(t *testing.T) {
	server := NewServer(ServerConfig{
		Port:        0, // any free port
		MetricsPath: "/metrics",
		HealthPath:  "/health",
	}, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	}()

	NewRecorder().RecordProbe(true, 1)

	port := server.listener.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "ibwatch_probes_total") {
		t.Error("expected ibwatch_probes_total in metrics output")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := NewServer(ServerConfig{Port: 0, MetricsPath: "/metrics", HealthPath: "/health"}, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Shutdown(context.Background())

	port := first.listener.Addr().(*net.TCPAddr).Port

	second := NewServer(DefaultServerConfig(), nil)
	second.httpServer.Addr = fmt.Sprintf(":%d", port)
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Error("expected bind error for port in use")
	}
}
