package secrets

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	content := "# comment\nFOO=bar\n\nBAZ=qux\nFOO=overridden\n"
	kv := Parse(content)

	if kv["FOO"] != "overridden" {
		t.Errorf("expected last assignment to win, got %q", kv["FOO"])
	}
	if kv["BAZ"] != "qux" {
		t.Errorf("expected BAZ=qux, got %q", kv["BAZ"])
	}
	if len(kv) != 2 {
		t.Errorf("expected 2 keys, got %d", len(kv))
	}
}

func TestMerge_AppOverridesShared(t *testing.T) {
	shared := map[string]string{"DB_URL": "shared-db", "LOG_LEVEL": "info"}
	app := map[string]string{"DB_URL": "app-db"}

	merged := Merge(shared, app)

	if merged["DB_URL"] != "app-db" {
		t.Errorf("expected app secret to override shared, got %q", merged["DB_URL"])
	}
	if merged["LOG_LEVEL"] != "info" {
		t.Errorf("expected shared-only key preserved, got %q", merged["LOG_LEVEL"])
	}
}

func TestFormat_Deterministic(t *testing.T) {
	kv := map[string]string{"B": "2", "A": "1"}
	got := Format(kv)
	want := "A=1\nB=2\n"

	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestStore_SetLoadRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := store.Set("myapp", "TOKEN", "secret1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	kv, err := store.Load("myapp")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if kv["TOKEN"] != "secret1" {
		t.Errorf("expected TOKEN=secret1, got %q", kv["TOKEN"])
	}

	info, err := os.Stat(filepath.Join(dir, "secrets.myapp"))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != FilePerm {
		t.Errorf("expected mode %o, got %o", FilePerm, info.Mode().Perm())
	}

	if err := store.Remove("myapp", "TOKEN"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	kv, err = store.Load("myapp")
	if err != nil {
		t.Fatalf("Load after remove failed: %v", err)
	}
	if _, ok := kv["TOKEN"]; ok {
		t.Error("expected TOKEN to be removed")
	}
}

func TestStore_SharedAndAppMerge(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if err := os.WriteFile(filepath.Join(dir, sharedFileName), []byte("REGION=local\nDB_URL=shared\n"), FilePerm); err != nil {
		t.Fatalf("write shared file: %v", err)
	}
	if err := store.Set("myapp", "DB_URL", "app-specific"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	kv, err := store.Load("myapp")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if kv["DB_URL"] != "app-specific" {
		t.Errorf("expected app override, got %q", kv["DB_URL"])
	}
	if kv["REGION"] != "local" {
		t.Errorf("expected shared key preserved, got %q", kv["REGION"])
	}
}

func TestStore_LoadMissingFilesReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	kv, err := store.Load("nonexistent")
	if err != nil {
		t.Fatalf("expected no error for missing files, got %v", err)
	}
	if len(kv) != 0 {
		t.Errorf("expected empty secret set, got %v", kv)
	}
}
