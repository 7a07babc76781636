package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"taskflow/internal/api"
	"taskflow/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.JWTSecret = "app-test-secret"
	return cfg
}

func TestApplication_StartServeStop(t *testing.T) {
	app, err := NewApplication(testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	if err := app.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	base := "http://" + app.Addr()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	var health api.HealthResponse
	err = json.NewDecoder(resp.Body).Decode(&health)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !health.Broadcaster.Running {
		t.Errorf("Unexpected health %d %+v", resp.StatusCode, health)
	}

	// handshake without a credential is rejected before upgrade
	resp, err = http.Get(base + "/ws")
	if err != nil {
		t.Fatalf("GET /ws failed: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 from gateway, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if app.Broadcaster().IsRunning() {
		t.Error("Broadcaster should be stopped")
	}
	if _, err := http.Get(base + "/health"); err == nil {
		t.Error("Expected server to be closed")
	}
}

func TestApplication_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.JWTSecret = ""
	if _, err := NewApplication(cfg, nil); err == nil {
		t.Fatal("Expected invalid configuration error")
	}
}

func TestApplication_StartFailsOnBusyPort(t *testing.T) {
	first, err := NewApplication(testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = first.Stop(context.Background()) })

	cfg := testConfig(t)
	cfg.HTTP.Port = first.listener.Addr().(*net.TCPAddr).Port

	second, err := NewApplication(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Stop(context.Background()) })

	if err := second.Start(context.Background()); err == nil {
		t.Fatal("Expected listen error on busy port")
	}
	if second.Broadcaster().IsRunning() {
		t.Error("Broadcaster should be stopped after failed start")
	}
}
