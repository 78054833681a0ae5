package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	settings, err := Load(Options{Defaults: map[string]any{"_workers": 4, "env": "dev"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings["_workers"] != 4 {
		t.Fatalf("expected _workers=4, got %v", settings["_workers"])
	}
	if settings["env"] != "dev" {
		t.Fatalf("expected env=dev, got %v", settings["env"])
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("env: staging\n"), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture config: %v", err)
	}

	settings, err := Load(Options{
		File:     path,
		Defaults: map[string]any{"env": "dev", "_workers": 4},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings["env"] != "staging" {
		t.Fatalf("expected the file's env to override the default, got %v", settings["env"])
	}
	if settings["_workers"] != 4 {
		t.Fatalf("expected _workers to keep its default, got %v", settings["_workers"])
	}
}

func TestLoad_EnvVarOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("env: staging\n"), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture config: %v", err)
	}
	t.Setenv("TASKI_TEST_ENV", "prod")

	settings, err := Load(Options{
		File:      path,
		EnvPrefix: "TASKI_TEST",
		Defaults:  map[string]any{"env": "dev"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings["env"] != "prod" {
		t.Fatalf("expected the environment variable to win, got %v", settings["env"])
	}
}

func TestLoad_MissingFileSurfacesError(t *testing.T) {
	if _, err := Load(Options{File: "/nonexistent/config.yaml"}); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_NoOptionsYieldsEmptySettings(t *testing.T) {
	settings, err := Load(Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(settings) != 0 {
		t.Fatalf("expected no settings with no defaults/file, got %v", settings)
	}
}
