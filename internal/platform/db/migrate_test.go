package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMigrations(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"001_core.sql":     "CREATE TABLE workflow (id SERIAL PRIMARY KEY);",
		"002_records.sql":  "CREATE TABLE death_record (id SERIAL PRIMARY KEY);",
		"003_comments.sql": "CREATE TABLE record_comment (id SERIAL PRIMARY KEY);",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 {
		t.Errorf("expected version 1, got %d", migrations[0].Version)
	}
	if migrations[0].Name != "001_core.sql" {
		t.Errorf("expected name 001_core.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE workflow (id SERIAL PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}

	if migrations[1].Version != 2 {
		t.Errorf("expected version 2, got %d", migrations[1].Version)
	}
	if migrations[2].Version != 3 {
		t.Errorf("expected version 3, got %d", migrations[2].Version)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := t.TempDir()

	// Create files in reverse order to test sorting
	files := []struct {
		name    string
		content string
	}{
		{"010_tables.sql", "SELECT 10;"},
		{"002_second.sql", "SELECT 2;"},
		{"001_first.sql", "SELECT 1;"},
		{"005_middle.sql", "SELECT 5;"},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", f.name, err)
		}
	}

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 4 {
		t.Fatalf("expected 4 migrations, got %d", len(migrations))
	}

	expectedVersions := []int{1, 2, 5, 10}
	for i, expected := range expectedVersions {
		if migrations[i].Version != expected {
			t.Errorf("migration[%d]: expected version %d, got %d", i, expected, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_InvalidFilename(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- this has no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}

	if migrations[0].Version != 1 {
		t.Errorf("expected first migration version 1, got %d", migrations[0].Version)
	}
	if migrations[1].Version != 2 {
		t.Errorf("expected second migration version 2, got %d", migrations[1].Version)
	}
}

func TestLoadMigrations_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	migrator := NewMigrator(nil, dir)
	migrations, err := migrator.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations from empty dir, got %d", len(migrations))
	}
}

func TestNewMigrator(t *testing.T) {
	m := NewMigrator(nil, "/some/path")
	if m == nil {
		t.Fatal("expected non-nil Migrator")
	}
	if m.dir != "/some/path" {
		t.Errorf("expected dir /some/path, got %s", m.dir)
	}
	if m.pool != nil {
		t.Error("expected nil pool")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	migrator := NewMigrator(nil, "/nonexistent/path/that/does/not/exist")
	_, err := migrator.LoadMigrations()
	if err == nil {
		t.Error("expected error for non-existent directory")
	}
}
