package engine

import (
	"regexp"
	"strconv"
	"strings"
)

// LineKind classifies one line of encoder output.
type LineKind int

const (
	// LineIgnore is output with no meaning to the orchestrator.
	LineIgnore LineKind = iota
	// LineProgress carries a completion fraction.
	LineProgress
	// LineFatal means the encode cannot succeed; the process should be stopped.
	LineFatal
	// LineDiagnostic is an error-looking line kept as the failure reason if the
	// process later exits non-zero.
	LineDiagnostic
)

func (k LineKind) String() string {
	switch k {
	case LineProgress:
		return "progress"
	case LineFatal:
		return "fatal"
	case LineDiagnostic:
		return "diagnostic"
	default:
		return "ignore"
	}
}

// Line is the parsed form of one output line.
type Line struct {
	Kind LineKind
	// Progress is the overall completion fraction in [0,1] for LineProgress.
	Progress float64
	// Pass and Passes are set when the engine reports multi-pass progress.
	Pass   int
	Passes int
	Text   string
}

// Parser maps output lines to Line values. Implementations may keep state
// across lines, so each running job needs its own instance.
type Parser interface {
	Parse(line string) Line
}

// ParserFactory builds a fresh Parser per job.
type ParserFactory func() Parser

// DefaultFatalMarkers are substrings that make HandBrakeCLI output fatal.
var DefaultFatalMarkers = []string{
	"ERROR:",
	"Invalid preset",
	"No title found",
	"scan: unrecognized file type",
}

var (
	taskProgressPattern   = regexp.MustCompile(`Encoding: task (\d+) of (\d+), ([0-9]+(?:\.[0-9]+)?) ?%`)
	simpleProgressPattern = regexp.MustCompile(`Encoding:[^%]*?([0-9]+(?:\.[0-9]+)?) ?%`)
	jsonProgressPattern   = regexp.MustCompile(`"Progress"\s*:\s*([0-9]+(?:\.[0-9]+)?(?:[eE][-+]?[0-9]+)?)`)
	jsonStatePattern      = regexp.MustCompile(`"State"\s*:\s*"([A-Z]+)"`)
	jsonPassPattern       = regexp.MustCompile(`"Pass"\s*:\s*(\d+)`)
	jsonPassCountPattern  = regexp.MustCompile(`"PassCount"\s*:\s*(\d+)`)
)

var diagnosticWords = []string{"error", "fail", "invalid", "cannot", "unable", "not found"}

// HandBrakeParser understands both the plain-text progress line
// ("Encoding: task 1 of 2, 42.50 %") and the --json progress blocks.
type HandBrakeParser struct {
	fatalMarkers []string

	jsonState  string
	jsonPass   int
	jsonPasses int
}

// NewHandBrakeParser constructs a parser. Empty markers fall back to DefaultFatalMarkers.
func NewHandBrakeParser(fatalMarkers []string) *HandBrakeParser {
	markers := make([]string, 0, len(fatalMarkers))
	for _, marker := range fatalMarkers {
		if trimmed := strings.TrimSpace(marker); trimmed != "" {
			markers = append(markers, trimmed)
		}
	}
	if len(markers) == 0 {
		markers = append(markers, DefaultFatalMarkers...)
	}
	return &HandBrakeParser{fatalMarkers: markers}
}

// HandBrakeParserFactory returns a ParserFactory bound to the given markers.
func HandBrakeParserFactory(fatalMarkers []string) ParserFactory {
	markers := append([]string(nil), fatalMarkers...)
	return func() Parser { return NewHandBrakeParser(markers) }
}

// Parse classifies one line. Unknown text is ignored so newer engine
// versions with extra output keep working.
func (p *HandBrakeParser) Parse(raw string) Line {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Line{Kind: LineIgnore}
	}
	for _, marker := range p.fatalMarkers {
		if strings.Contains(text, marker) {
			return Line{Kind: LineFatal, Text: text}
		}
	}

	if m := taskProgressPattern.FindStringSubmatch(text); m != nil {
		task, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		percent, _ := strconv.ParseFloat(m[3], 64)
		return progressLine(text, overall(task, total, percent/100), task, total)
	}
	if m := simpleProgressPattern.FindStringSubmatch(text); m != nil {
		percent, _ := strconv.ParseFloat(m[1], 64)
		return progressLine(text, percent/100, 0, 0)
	}
	if line, ok := p.parseJSON(text); ok {
		return line
	}

	lower := strings.ToLower(text)
	for _, word := range diagnosticWords {
		if strings.Contains(lower, word) {
			return Line{Kind: LineDiagnostic, Text: text}
		}
	}
	return Line{Kind: LineIgnore, Text: text}
}

// parseJSON tracks the fields of a --json progress block. Only progress
// reported while the engine is WORKING counts; scan progress is ignored.
func (p *HandBrakeParser) parseJSON(text string) (Line, bool) {
	if m := jsonStatePattern.FindStringSubmatch(text); m != nil {
		p.jsonState = m[1]
		if p.jsonState != "WORKING" {
			p.jsonPass, p.jsonPasses = 0, 0
		}
		return Line{Kind: LineIgnore, Text: text}, true
	}
	if m := jsonPassCountPattern.FindStringSubmatch(text); m != nil {
		p.jsonPasses, _ = strconv.Atoi(m[1])
		return Line{Kind: LineIgnore, Text: text}, true
	}
	if m := jsonPassPattern.FindStringSubmatch(text); m != nil {
		p.jsonPass, _ = strconv.Atoi(m[1])
		return Line{Kind: LineIgnore, Text: text}, true
	}
	m := jsonProgressPattern.FindStringSubmatch(text)
	if m == nil {
		return Line{}, false
	}
	if p.jsonState != "" && p.jsonState != "WORKING" {
		return Line{Kind: LineIgnore, Text: text}, true
	}
	fraction, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Line{Kind: LineIgnore, Text: text}, true
	}
	if fraction > 1 {
		// Some builds report a percentage here.
		fraction /= 100
	}
	return progressLine(text, overall(p.jsonPass, p.jsonPasses, fraction), p.jsonPass, p.jsonPasses), true
}

// overall folds per-pass progress into a whole-job fraction.
func overall(pass, passes int, fraction float64) float64 {
	if passes <= 1 || pass < 1 || pass > passes {
		return fraction
	}
	return (float64(pass-1) + fraction) / float64(passes)
}

func progressLine(text string, fraction float64, pass, passes int) Line {
	return Line{
		Kind:     LineProgress,
		Progress: min(max(fraction, 0), 1),
		Pass:     pass,
		Passes:   passes,
		Text:     text,
	}
}
