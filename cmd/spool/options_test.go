package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseOptions(t *testing.T) {
	got, err := parseOptions([]string{"quality=20", "--two-pass", "rate=29.97", "encoder = x265", "deinterlace=false", "audio=1"})
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}
	want := map[string]any{
		"quality":     20,
		"two-pass":    true,
		"rate":        29.97,
		"encoder":     "x265",
		"deinterlace": false,
		"audio":       1,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d options, got %+v", len(want), got)
	}
	for key, value := range want {
		if got[key] != value {
			t.Errorf("option %q = %#v, want %#v", key, got[key], value)
		}
	}

	if opts, err := parseOptions(nil); err != nil || opts != nil {
		t.Fatalf("expected nil options, got %v, %v", opts, err)
	}
	if _, err := parseOptions([]string{"=5"}); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
}

func TestLoadManifestResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.toml")
	body := `default_preset = "Fast 720p30"

[[jobs]]
input = "in/a.mp4"
output = "/abs/a.mkv"

[jobs.options]
quality = 22
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	manifest, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if manifest.DefaultPreset != "Fast 720p30" || len(manifest.Jobs) != 1 {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
	entry := manifest.Jobs[0]
	if entry.Input != filepath.Join(dir, "in", "a.mp4") || entry.Output != "/abs/a.mkv" {
		t.Fatalf("paths not resolved: %+v", entry)
	}
	reqs := manifest.requests()
	if len(reqs) != 1 || reqs[0].Options["quality"] != int64(22) {
		t.Fatalf("unexpected requests: %+v", reqs)
	}

	empty := filepath.Join(dir, "empty.toml")
	if err := os.WriteFile(empty, []byte(`default_preset = "x"`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadManifest(empty); err == nil {
		t.Fatal("expected manifest without jobs to fail")
	}
}
