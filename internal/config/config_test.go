package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("SUBSCHECK_TEST_TOKEN", "secret-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"ip_info_api_token": "${SUBSCHECK_TEST_TOKEN}", "max_nodes": 50}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IPInfoAPIToken != "secret-123" {
		t.Fatalf("expected expanded token, got %q", cfg.IPInfoAPIToken)
	}
	if cfg.MaxNodes != 50 {
		t.Fatalf("expected max_nodes 50, got %d", cfg.MaxNodes)
	}
}

func TestLoadLeavesUnsetVarsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"backup_token": "${SUBSCHECK_UNSET_VAR}"}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackupToken != "" {
		t.Fatalf("expected empty expansion for unset var, got %q", cfg.BackupToken)
	}
}

func TestMergeOverlaysNonZeroFields(t *testing.T) {
	base := Config{MaxNodes: 100, WorkerCount: 4, BasePort: 41000}
	loaded := Config{MaxNodes: 200}
	merged := Merge(base, loaded)
	if merged.MaxNodes != 200 {
		t.Fatalf("expected loaded MaxNodes to win, got %d", merged.MaxNodes)
	}
	if merged.WorkerCount != 4 || merged.BasePort != 41000 {
		t.Fatalf("expected base fields preserved: %+v", merged)
	}
}

func TestStoreReloadPicksUpChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"max_nodes": 10}`), 0o644)

	store := NewStore(Config{})
	if err := store.Reload(path); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if store.Get().MaxNodes != 10 {
		t.Fatalf("expected reload to pick up max_nodes=10, got %d", store.Get().MaxNodes)
	}

	os.WriteFile(path, []byte(`{"max_nodes": 20}`), 0o644)
	if err := store.Reload(path); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if store.Get().MaxNodes != 20 {
		t.Fatalf("expected reload to pick up max_nodes=20, got %d", store.Get().MaxNodes)
	}
}

func TestStartWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"max_nodes": 1}`), 0o644)

	store := NewStore(Config{})
	if err := store.Reload(path); err != nil {
		t.Fatalf("initial Reload: %v", err)
	}

	w, err := StartWatcher(path, store)
	if err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	os.WriteFile(path, []byte(`{"max_nodes": 99}`), 0o644)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if store.Get().MaxNodes == 99 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected hot-reload to pick up max_nodes=99 within deadline, got %d", store.Get().MaxNodes)
}
