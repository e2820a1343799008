package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfig_Valid(t *testing.T) {
	yaml := `
futures: [division, with_statement]
line_numbers: false
store: cache/bundles.db
jobs: 2
color: never
`
	cfg, err := ParseConfig([]byte(yaml), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Futures) != 2 || cfg.Futures[0] != FeatureDivision {
		t.Errorf("futures = %v", cfg.Futures)
	}
	if cfg.WantLineNumbers() {
		t.Errorf("line_numbers should be off")
	}
	if cfg.Jobs != 2 {
		t.Errorf("jobs = %d, want 2", cfg.Jobs)
	}
	if got := cfg.ResolveStore("/proj/pybc.yaml"); got != filepath.Join("/proj", "cache/bundles.db") {
		t.Errorf("ResolveStore = %q", got)
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("print_results: true\n"), "test.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.WantLineNumbers() {
		t.Errorf("line numbers should default to on")
	}
	if cfg.Jobs != 4 {
		t.Errorf("jobs = %d, want 4", cfg.Jobs)
	}
	if cfg.Color != ColorAuto {
		t.Errorf("color = %q, want auto", cfg.Color)
	}
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name, yaml, want string
	}{
		{"unknown future", "futures: [braces]\n", "unknown future feature"},
		{"negative jobs", "jobs: -1\n", "jobs must not be negative"},
		{"bad color", "color: rainbow\n", "color must be one of"},
		{"bad yaml", "futures: [\n", "parsing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.yaml), "test.yaml")
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, ConfigFileName)
	if err := os.WriteFile(path, []byte("jobs: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := FindConfig(nested)
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if found != path {
		t.Errorf("found %q, want %q", found, path)
	}

	cfg, err := LoadConfig(found)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Jobs != 1 {
		t.Errorf("jobs = %d, want 1", cfg.Jobs)
	}
}
