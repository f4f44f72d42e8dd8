package engine

import (
	"bufio"
	"slices"
	"strings"
	"testing"
)

func TestScanLinesOrCR(t *testing.T) {
	input := "scan: 1 title\rEncoding: 10 %\rEncoding: 20 %\r\nMuxing\n\ntail"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(ScanLinesOrCR)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	want := []string{"scan: 1 title", "Encoding: 10 %", "Encoding: 20 %", "Muxing", "", "tail"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected tokens: %q", got)
	}
}
