package diagmode

import (
	"bufio"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is one message emitted by the binary under test.
type Diagnostic struct {
	File string
	Line int
	Kind Kind
	Msg  string
}

// maxLine is the longest stderr line ParseDiagnostics accepts.
const maxLine = 1024 * 1024

var (
	// legacyPattern matches path:L:C: L:C kind: message
	legacyPattern = regexp.MustCompile(`^(.+?):(\d+):\d+: \d+:\d+ (error|warning|note|help)(?:\[\w+\])?: (.*)$`)

	// headerPattern matches kind[CODE]: message
	headerPattern = regexp.MustCompile(`^(error|warning|note|help)(?:\[\w+\])?: (.*)$`)

	// locationPattern matches the --> path:L:C line following a header
	locationPattern = regexp.MustCompile(`^\s*--> (.+?):(\d+):\d+$`)

	// subPattern matches = note: message lines attached to a diagnostic
	subPattern = regexp.MustCompile(`^\s*= (note|help): (.*)$`)
)

// ParseDiagnostics extracts located diagnostics from compiler stderr.
// Diagnostics without a source location are dropped.
func ParseDiagnostics(stderr string) ([]Diagnostic, error) {
	var (
		out     []Diagnostic
		pending *Diagnostic
		// located indexes the last diagnostic that received a location.
		located = -1
	)
	scanner := bufio.NewScanner(strings.NewReader(stderr))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		text := scanner.Text()

		if m := legacyPattern.FindStringSubmatch(text); m != nil {
			line, _ := strconv.Atoi(m[2])
			out = append(out, Diagnostic{File: m[1], Line: line, Kind: parseKind(m[3]), Msg: m[4]})
			pending, located = nil, -1
			continue
		}
		if m := headerPattern.FindStringSubmatch(text); m != nil {
			pending = &Diagnostic{Kind: parseKind(m[1]), Msg: m[2]}
			located = -1
			continue
		}
		if m := locationPattern.FindStringSubmatch(text); m != nil && pending != nil {
			line, _ := strconv.Atoi(m[2])
			pending.File, pending.Line = m[1], line
			out = append(out, *pending)
			located = len(out) - 1
			pending = nil
			continue
		}
		if m := subPattern.FindStringSubmatch(text); m != nil && located >= 0 {
			parent := out[located]
			out = append(out, Diagnostic{File: parent.File, Line: parent.Line, Kind: parseKind(m[1]), Msg: m[2]})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning stderr: %w", err)
	}
	return out, nil
}

// sameFile reports whether a diagnostic path refers to fixture.
func sameFile(diagPath, fixture string) bool {
	if diagPath == fixture {
		return true
	}
	return filepath.Base(diagPath) == filepath.Base(fixture)
}
