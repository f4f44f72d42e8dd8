package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Invocation describes one encode.
type Invocation struct {
	Input   string
	Output  string
	Preset  string
	Options map[string]any
}

// optionAliases maps friendly option keys onto HandBrakeCLI flags.
var optionAliases = map[string]string{
	"quality":    "--quality",
	"bitrate":    "--vb",
	"max_width":  "--maxWidth",
	"max_height": "--maxHeight",
	"encoder":    "--encoder",
	"hw_accel":   "--encoder",
	"format":     "--format",
}

// ArgBuilder turns an Invocation into the encoder argument vector.
type ArgBuilder struct {
	// PresetImportGUI loads presets saved by the HandBrake GUI before --preset.
	PresetImportGUI bool
	// ExtraArgs are appended after the input/output/preset flags.
	ExtraArgs []string
}

// Build returns --input, --output, and --preset followed by extra args and the
// options sorted by key. true becomes a bare flag; false and nil are omitted.
func (b ArgBuilder) Build(inv Invocation) []string {
	args := []string{"--input", inv.Input, "--output", inv.Output}
	if b.PresetImportGUI {
		args = append(args, "--preset-import-gui")
	}
	args = append(args, "--preset", inv.Preset)
	args = append(args, b.ExtraArgs...)

	keys := make([]string, 0, len(inv.Options))
	for key := range inv.Options {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		flag := optionFlag(key)
		if flag == "" {
			continue
		}
		switch value := inv.Options[key].(type) {
		case nil:
		case bool:
			if value {
				args = append(args, flag)
			}
		default:
			args = append(args, flag, formatOption(value))
		}
	}
	return args
}

func optionFlag(key string) string {
	trimmed := strings.TrimSpace(key)
	if alias, ok := optionAliases[strings.ToLower(trimmed)]; ok {
		return alias
	}
	trimmed = strings.TrimLeft(trimmed, "-")
	if trimmed == "" {
		return ""
	}
	return "--" + trimmed
}

func formatOption(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatOption(item))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(v, ",")
	default:
		return fmt.Sprint(v)
	}
}
