package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/bus"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/delivery"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/lock"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
	"go.uber.org/zap"
)

func TestDaemonLifecycle(t *testing.T) {
	tmpDir, err := os.MkdirTemp("/tmp", "parley-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	cfg := config.Default()
	cfg.DataDir = tmpDir
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.TokenSecret = "test-secret"

	lk, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(tmpDir, "parley.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger := zap.NewNop()
	b := bus.New()
	reg := presence.NewRegistry[*delivery.Session](b)
	router := delivery.NewRouter(reg, b, logger)
	router.Start(context.Background())
	defer router.Stop()

	svc := chat.NewService(db, b, logger)
	g := gate.New(db, logger)
	authn := auth.NewAuthenticator(cfg.TokenSecret, cfg.TokenTTL.Duration)
	h := api.NewHandler(db, svc, g, authn, reg, logger, api.Options{})

	srv, err := NewServer(Params{Config: cfg}, logger, h)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	time.Sleep(50 * time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("healthz body = %+v", body)
	}

	metricsResp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = metricsResp.Body.Close() }()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d, want 200", metricsResp.StatusCode)
	}
}
