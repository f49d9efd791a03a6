package credentials

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/kandev/acpbridge/internal/common/logger"
)

func testLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	return log
}

func TestStore_SaveGetClear(t *testing.T) {
	t.Setenv(EnvKey, "")
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := NewStore(path, testLogger())
	ctx := context.Background()

	if _, err := store.Get(ctx); err == nil {
		t.Fatal("Get() on empty store should fail")
	}

	if err := store.Save(ctx, "sk-test-token"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "sk-test-token" {
		t.Errorf("Get() = %q, want %q", got, "sk-test-token")
	}

	// File must be owner-only.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file perm = %o, want 0600", perm)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := store.Get(ctx); err == nil {
		t.Error("Get() after Clear() should fail")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("credentials file should be removed after Clear()")
	}
}

func TestStore_SaveRejectsEmpty(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "credentials.json"), testLogger())
	if err := store.Save(context.Background(), ""); err == nil {
		t.Error("Save(\"\") should fail")
	}
}

func TestStore_EnvFallback(t *testing.T) {
	t.Setenv(EnvKey, "sk-from-env")
	store := NewStore(filepath.Join(t.TempDir(), "credentials.json"), testLogger())

	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "sk-from-env" {
		t.Errorf("Get() = %q, want env value", got)
	}
}

func TestStore_FileWinsOverEnv(t *testing.T) {
	t.Setenv(EnvKey, "sk-from-env")
	path := filepath.Join(t.TempDir(), "credentials.json")
	data, _ := json.Marshal(map[string]string{EnvKey: "sk-from-file"})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	store := NewStore(path, testLogger())
	got, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "sk-from-file" {
		t.Errorf("Get() = %q, want file value", got)
	}
}

func TestFileProvider_MissingFile(t *testing.T) {
	p := NewFileProvider(filepath.Join(t.TempDir(), "nope.json"))
	if _, err := p.Get(context.Background()); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileProvider_PreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	data, _ := json.Marshal(map[string]string{EnvKey: "sk-x", "OTHER_KEY": "keep-me"})
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	p := NewFileProvider(path)
	if err := p.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if stored["OTHER_KEY"] != "keep-me" {
		t.Errorf("OTHER_KEY = %q, want preserved", stored["OTHER_KEY"])
	}
	if _, ok := stored[EnvKey]; ok {
		t.Error("token should be removed")
	}
}
