// Package directive parses the header directives of test fixtures.
//
// Directives are line comments at the top of a fixture, before the first
// line that is neither blank nor a comment:
//
//	// ignore-test
//	// ignore-windows
//	// only-x86_64
//	// compile-flags: -Zmir-opt-level=0 --cfg feature="x"
package directive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Kind identifies a directive.
type Kind int

const (
	// KindIgnore represents // ignore-<cond> directives.
	KindIgnore Kind = iota

	// KindOnly represents // only-<cond> directives.
	KindOnly

	// KindCompileFlags represents // compile-flags: directives.
	KindCompileFlags
)

// Directive patterns.
var (
	// ignorePattern matches // ignore-<cond>
	ignorePattern = regexp.MustCompile(`^//\s*ignore-(\S+)`)

	// onlyPattern matches // only-<cond>
	onlyPattern = regexp.MustCompile(`^//\s*only-(\S+)`)

	// flagsPattern matches // compile-flags: <flags>
	flagsPattern = regexp.MustCompile(`^//\s*compile-flags:\s*(.*)$`)
)

// condTest is the ignore condition that disables a fixture on every target.
const condTest = "test"

// Directive is one parsed header line.
type Directive struct {
	Kind  Kind
	Value string
	Line  int
}

// Set holds the directives found in a fixture header.
type Set struct {
	Directives []Directive
}

// ParseFile reads the directives of the fixture at path.
func ParseFile(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	set, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse directives of %s: %w", path, err)
	}
	return set, nil
}

// Parse reads directives from the header of r.
func Parse(r io.Reader) (*Set, error) {
	set := &Set{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if !strings.HasPrefix(text, "//") {
			break
		}
		if d, ok := parseLine(text); ok {
			d.Line = line
			set.Directives = append(set.Directives, d)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

func parseLine(text string) (Directive, bool) {
	// Expectation annotations (//~) are not header directives.
	if strings.HasPrefix(text, "//~") {
		return Directive{}, false
	}
	if m := flagsPattern.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindCompileFlags, Value: strings.TrimSpace(m[1])}, true
	}
	if m := ignorePattern.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindIgnore, Value: m[1]}, true
	}
	if m := onlyPattern.FindStringSubmatch(text); m != nil {
		return Directive{Kind: KindOnly, Value: m[1]}, true
	}
	return Directive{}, false
}

// Skip reports whether the fixture must not run for target, and why.
func (s *Set) Skip(target string) (bool, string) {
	if s == nil {
		return false, ""
	}
	var only []string
	for _, d := range s.Directives {
		switch d.Kind {
		case KindIgnore:
			if d.Value == condTest {
				return true, "ignore-test"
			}
			if Matches(target, d.Value) {
				return true, "ignore-" + d.Value
			}
		case KindOnly:
			only = append(only, d.Value)
		}
	}
	if len(only) == 0 {
		return false, ""
	}
	for _, cond := range only {
		if Matches(target, cond) {
			return false, ""
		}
	}
	return true, "only-" + strings.Join(only, ",")
}

// CompileFlags returns the extra flags requested by compile-flags directives.
func (s *Set) CompileFlags() []string {
	if s == nil {
		return nil
	}
	var flags []string
	for _, d := range s.Directives {
		if d.Kind == KindCompileFlags {
			flags = append(flags, strings.Fields(d.Value)...)
		}
	}
	return flags
}

// Matches reports whether cond selects target. A condition matches the
// full target triple or any of its dash-separated components.
func Matches(target, cond string) bool {
	if cond == target {
		return true
	}
	for _, part := range strings.Split(target, "-") {
		if part == cond {
			return true
		}
	}
	return false
}
