package diagmode

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Kind is the severity of a diagnostic.
type Kind string

const (
	KindNone       Kind = ""
	KindError      Kind = "error"
	KindWarning    Kind = "warning"
	KindNote       Kind = "note"
	KindHelp       Kind = "help"
	KindSuggestion Kind = "suggestion"
)

// parseKind maps the first word of an annotation or diagnostic to a Kind.
func parseKind(word string) Kind {
	switch strings.ToLower(strings.TrimRight(word, ":")) {
	case "error":
		return KindError
	case "warning", "warn":
		return KindWarning
	case "note":
		return KindNote
	case "help":
		return KindHelp
	case "suggestion":
		return KindSuggestion
	default:
		return KindNone
	}
}

// Expectation is one //~ annotation in a compile-fail fixture.
type Expectation struct {
	Line int
	Kind Kind
	Msg  string
}

func (e Expectation) String() string {
	if e.Kind == KindNone {
		return fmt.Sprintf("%d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%d: %s %s", e.Line, strings.ToUpper(string(e.Kind)), e.Msg)
}

// annotationPattern matches //~ annotations. The adjust group is either a
// run of carets, each moving the expectation one line up, or a single bar
// reusing the line of the previous annotation.
var annotationPattern = regexp.MustCompile(`//~(\||\^*)\s*(.*)$`)

// ParseExpectations reads the //~ annotations of a fixture.
func ParseExpectations(r io.Reader) ([]Expectation, error) {
	var (
		out      []Expectation
		line     int
		lastLine int
		haveLast bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line++
		m := annotationPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		adjust, rest := m[1], strings.TrimSpace(m[2])

		target := line
		switch {
		case adjust == "|":
			if !haveLast {
				return nil, fmt.Errorf("line %d: //~| without a preceding annotation", line)
			}
			target = lastLine
		default:
			target -= len(adjust)
		}

		exp := Expectation{Line: target, Msg: rest}
		if word, msg, _ := strings.Cut(rest, " "); parseKind(word) != KindNone {
			exp.Kind = parseKind(word)
			exp.Msg = strings.TrimSpace(msg)
		}
		out = append(out, exp)
		lastLine, haveLast = target, true
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
