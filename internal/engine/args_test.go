package engine_test

import (
	"slices"
	"testing"

	"spool/internal/engine"
)

func TestBuildArgsOrderAndOptions(t *testing.T) {
	builder := engine.ArgBuilder{ExtraArgs: []string{"--json"}}
	args := builder.Build(engine.Invocation{
		Input:  "/in/a.mp4",
		Output: "/out/a.mkv",
		Preset: "Fast 1080p30",
		Options: map[string]any{
			"quality":    22,
			"two-pass":   true,
			"turbo":      false,
			"subtitle":   nil,
			"bitrate":    2500.5,
			"max_width":  int64(1920),
			"--audio":    "1,2",
			"hw_accel":   "nvenc_h265",
			"aencoder":   []any{"copy", "av_aac"},
			"   ":        "dropped",
		},
	})
	want := []string{
		"--input", "/in/a.mp4",
		"--output", "/out/a.mkv",
		"--preset", "Fast 1080p30",
		"--json",
		"--audio", "1,2",
		"--aencoder", "copy,av_aac",
		"--vb", "2500.5",
		"--encoder", "nvenc_h265",
		"--maxWidth", "1920",
		"--quality", "22",
		"--two-pass",
	}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected args:\n got %q\nwant %q", args, want)
	}
}

func TestBuildArgsPresetImportGUI(t *testing.T) {
	args := engine.ArgBuilder{PresetImportGUI: true}.Build(engine.Invocation{Input: "i", Output: "o", Preset: "p"})
	want := []string{"--input", "i", "--output", "o", "--preset-import-gui", "--preset", "p"}
	if !slices.Equal(args, want) {
		t.Fatalf("unexpected args: %q", args)
	}
}
