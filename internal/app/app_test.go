package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rpcbot/internal/config"
	"rpcbot/internal/robot"
	"rpcbot/internal/rpc/signer"
	"rpcbot/internal/transport/shell"
	logx "rpcbot/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func writeFixture(t *testing.T, owners string) string {
	t.Helper()
	dir := t.TempDir()
	_, privPEM, _, err := signer.GenerateKey(2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPath := filepath.Join(dir, "rpc.pem")
	if err := os.WriteFile(keyPath, privPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := `{
  "chat": {"adapter": "shell", "name": "hubot", "owner_ids": [` + owners + `]},
  "logging": {"level": "error"},
  "rpc": {"private_key_env": "RPCBOT_TEST_UNSET_KEY", "private_key_file": "` + keyPath + `"},
  "storage": {"driver": "file", "path": "` + filepath.Join(dir, "data", "bot.db") + `"}
}`
	path := filepath.Join(dir, "bot.json")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func waitOutput(t *testing.T, out *syncBuffer, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(out.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output missing %q:\n%s", substr, out.String())
}

func TestAppShellLifecycle(t *testing.T) {
	path := writeFixture(t, `"1"`)
	pr, pw := io.Pipe()
	out := &syncBuffer{}
	ad := shell.New(pr, out, shell.Options{}, logx.Nop())

	a, err := New(path, WithAdapter(ad))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := io.WriteString(pw, "rpc list\n"); err != nil {
		t.Fatal(err)
	}
	waitOutput(t, out, "No RPC endpoints configured.")

	_ = pw.Close()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("input EOF did not stop the app")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopInputClosed); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := a.Err(); err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
}

func TestNewRequiresSigningKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.json")
	cfg := `{"chat":{"adapter":"shell"},"rpc":{"private_key_env":"RPCBOT_TEST_UNSET_KEY"}}`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	ad := shell.New(strings.NewReader(""), io.Discard, shell.Options{}, logx.Nop())
	_, err := New(path, WithAdapter(ad))
	if !errors.Is(err, signer.ErrNoKey) || !strings.Contains(err.Error(), "rpc signing key") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRejectsBadStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.json")
	cfg := `{"chat":{"adapter":"shell"},"storage":{"driver":"sqlite"}}`
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	ad := shell.New(strings.NewReader(""), io.Discard, shell.Options{}, logx.Nop())
	if _, err := New(path, WithAdapter(ad)); err == nil || !strings.Contains(err.Error(), "storage.path") {
		t.Fatalf("err = %v", err)
	}
}

func TestApplyConfigUpdatesOwners(t *testing.T) {
	path := writeFixture(t, `"1"`)
	ad := shell.New(strings.NewReader(""), io.Discard, shell.Options{}, logx.Nop())
	a, err := New(path, WithAdapter(ad))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.store.Close()

	prev := a.cfgm.Get()
	if a.Robot().Allowed(robot.AccessOwnerOnly, "2") {
		t.Fatal("user 2 should not be an owner yet")
	}
	next := *prev
	next.Chat.OwnerIDs = []string{"1", "2"}
	next.Logging = config.LoggingConfig{Level: "warn"}
	a.applyConfig(prev, &next)

	if !a.Robot().Allowed(robot.AccessOwnerOnly, "2") {
		t.Fatal("owners not applied on reload")
	}
}

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      *config.StorageConfig
		driver  string
		wantErr bool
	}{
		{name: "absent", in: nil, driver: "memory"},
		{name: "none", in: &config.StorageConfig{Driver: "none"}, driver: "memory"},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "x.db"}, driver: "file"},
		{name: "sqlite3 alias", in: &config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "2s"}, driver: "sqlite"},
		{name: "file without path", in: &config.StorageConfig{Driver: "file"}, wantErr: true},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tt.in})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", sc)
				}
				return
			}
			if err != nil || sc.Driver != tt.driver {
				t.Fatalf("got %+v err %v, want driver %q", sc, err, tt.driver)
			}
		})
	}
}
