package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "Channel: 4\nGCThreshold: \"0.2\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if got := cfg.GetString(KeyChannel, ""); got != "4" {
		t.Fatalf("Channel = %q, want 4", got)
	}
	if got := cfg.GetString(KeyGCThreshold, ""); got != "0.2" {
		t.Fatalf("GCThreshold = %q, want 0.2", got)
	}
	// Keys absent from the overlay keep their package default.
	if got := cfg.GetString(KeyPage, ""); got != "256" {
		t.Fatalf("Page = %q, want unchanged default 256", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overlaid config should still validate: %v", err)
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	if _, err := LoadYAML(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
