package presets

import (
	"bufio"
	"strings"
)

// Preset is one named encoder configuration.
type Preset struct {
	Name        string
	Category    string
	Description string
	// Defaults holds flags declared by legacy listings, keyed without dashes.
	Defaults map[string]string
}

// Parse extracts presets from engine listing output. Unknown lines are
// ignored; duplicate names keep the first occurrence.
func Parse(output string) []Preset {
	var (
		presets    []Preset
		seen       = map[string]int{}
		category   string
		nameIndent = -1
		current    = -1
	)

	add := func(p Preset) {
		if p.Name == "" {
			current = -1
			return
		}
		if idx, dup := seen[p.Name]; dup {
			current = idx
			return
		}
		seen[p.Name] = len(presets)
		current = len(presets)
		presets = append(presets, p)
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		raw := strings.TrimRight(scanner.Text(), " \t\r")
		text := strings.TrimSpace(raw)
		if text == "" || isNoise(text) {
			continue
		}
		indent := indentWidth(raw)

		switch {
		case strings.HasPrefix(text, "< "):
			category = strings.TrimSpace(text[2:])
			nameIndent, current = -1, -1
			continue
		case text == ">":
			category, nameIndent, current = "", -1, -1
			continue
		case strings.HasPrefix(text, "+ "):
			add(parseLegacy(text[2:], category))
			continue
		}

		if indent == 0 {
			if strings.HasSuffix(text, "/") {
				category = strings.TrimSpace(strings.TrimSuffix(text, "/"))
				nameIndent, current = -1, -1
			}
			// Unindented prose (banners, exit notices) is skipped.
			continue
		}

		if nameIndent < 0 || indent <= nameIndent {
			nameIndent = indent
			add(Preset{Name: text, Category: category})
			continue
		}
		if current >= 0 {
			p := &presets[current]
			if p.Description == "" {
				p.Description = text
			} else {
				p.Description += " " + text
			}
		}
	}
	return presets
}

// parseLegacy handles "Name:  -e x264 -q 20.0 --vb 2500" style entries.
func parseLegacy(body, category string) Preset {
	name, flags, _ := strings.Cut(body, ":")
	p := Preset{Name: strings.TrimSpace(name), Category: category}
	if defaults := parseFlags(flags); len(defaults) > 0 {
		p.Defaults = defaults
	}
	return p
}

func parseFlags(flags string) map[string]string {
	fields := strings.Fields(flags)
	out := make(map[string]string)
	for i := 0; i < len(fields); i++ {
		field := fields[i]
		if !strings.HasPrefix(field, "-") {
			continue
		}
		key := strings.TrimLeft(field, "-")
		if eq := strings.IndexByte(key, '='); eq >= 0 {
			out[key[:eq]] = key[eq+1:]
			continue
		}
		if key == "" {
			continue
		}
		if i+1 < len(fields) && !isFlag(fields[i+1]) {
			out[key] = fields[i+1]
			i++
			continue
		}
		out[key] = "true"
	}
	return out
}

// isFlag treats "-1" style negative numbers as values.
func isFlag(field string) bool {
	if !strings.HasPrefix(field, "-") || len(field) < 2 {
		return false
	}
	c := field[1]
	return !(c >= '0' && c <= '9') && c != '.'
}

// isNoise matches log prefixes, JSON fragments, and comments.
func isNoise(text string) bool {
	switch text[0] {
	case '[', '{', '}', '"', '#':
		return true
	}
	return false
}

func indentWidth(line string) int {
	width := 0
	for _, r := range line {
		switch r {
		case ' ':
			width++
		case '\t':
			width += 4
		default:
			return width
		}
	}
	return width
}
