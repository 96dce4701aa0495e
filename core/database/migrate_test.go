package database

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestListMigrationFilesOnlyUp(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_profile_fields.up.sql",
		"000001_init.up.sql",
		"000001_init.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	got := listMigrationFiles(dir)
	want := []string{"000001_init.up.sql", "000002_profile_fields.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
}

func TestAppliedWindow(t *testing.T) {
	files := []string{"000001_init.up.sql", "000002_profile_fields.up.sql", "000003_x.up.sql"}
	if n := countApplied(files, 1, 3); n != 2 {
		t.Fatalf("countApplied = %d, want 2", n)
	}
	if n := countApplied(files, 3, 3); n != 0 {
		t.Fatalf("countApplied no-op = %d", n)
	}
	got := selectApplied(files, 0, 2)
	want := []string{"000001_init.up.sql", "000002_profile_fields.up.sql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("selectApplied = %v, want %v", got, want)
	}
	if v := parseVersion("garbage"); v != 0 {
		t.Fatalf("parseVersion(garbage) = %d", v)
	}
}

func TestResolveMigrationsPath(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "m")
	got, err := resolveMigrationsPath(abs)
	if err != nil || got != abs {
		t.Fatalf("abs path = %q, %v", got, err)
	}
	cwd, _ := os.Getwd()
	got, err = resolveMigrationsPath("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(cwd, "migrations") {
		t.Fatalf("default path = %q", got)
	}
}
