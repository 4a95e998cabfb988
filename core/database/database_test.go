package database

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	coreconfig "github.com/m3rciful/visionbot/core/config"
)

func TestDSNAndMigrateURL(t *testing.T) {
	cfg := coreconfig.DatabaseConfig{
		Host: "db", Port: "5432", User: "bot", Password: "p@ss", Name: "vision", SSLMode: "disable",
	}
	if got := DSN(cfg); got != "user=bot password=p@ss host=db port=5432 dbname=vision sslmode=disable" {
		t.Fatalf("DSN = %q", got)
	}
	if got := MigrateURL(cfg); got != "postgres://bot:p%40ss@db:5432/vision?sslmode=disable" {
		t.Fatalf("MigrateURL = %q", got)
	}
}

func TestMigrationFileSelection(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_add_index.up.sql",
		"000001_create_predictions.up.sql",
		"000001_create_predictions.down.sql",
		"README.md",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	files := listMigrationFiles(dir)
	want := []string{"000001_create_predictions.up.sql", "000002_add_index.up.sql"}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("files = %v", files)
	}
	if got := selectApplied(files, 1, 2); !reflect.DeepEqual(got, want[1:]) {
		t.Fatalf("applied = %v", got)
	}
	if got := selectApplied(files, 2, 2); len(got) != 0 {
		t.Fatalf("applied with no change = %v", got)
	}
}
