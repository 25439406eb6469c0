package diagmode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/715d/compiletest/internal/runpass"
	"github.com/715d/compiletest/internal/sysroot"
	"github.com/715d/compiletest/pkg/directive"
)

// ModeCompileFail is the mode whose fixtures must be rejected with the
// diagnostics annotated in them.
const ModeCompileFail = "compile-fail"

// CompileFail compares the diagnostics of rejected fixtures against their
// //~ annotations.
type CompileFail struct{}

// RunFixtureMode runs every fixture in cfg.SrcBase under cfg.Target.
func (c *CompileFail) RunFixtureMode(ctx context.Context, cfg Config) ([]Failure, error) {
	fixtures, err := runpass.Fixtures(cfg.SrcBase)
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		failures []Failure
	)
	var g errgroup.Group
	g.SetLimit(max(cfg.Parallel, 1))
	for _, fixture := range fixtures {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			f := c.runFixture(ctx, cfg, fixture)
			if f == nil {
				return nil
			}
			mu.Lock()
			failures = append(failures, *f)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.SortFunc(failures, func(a, b Failure) int {
		return strings.Compare(a.Fixture, b.Fixture)
	})
	return failures, ctx.Err()
}

// runFixture returns nil when fixture behaved as annotated.
func (c *CompileFail) runFixture(ctx context.Context, cfg Config, fixture string) *Failure {
	fail := func(msg string, details ...string) *Failure {
		return &Failure{Mode: cfg.Mode, Target: cfg.Target, Fixture: fixture, Message: msg, Details: details}
	}

	set, err := directive.ParseFile(fixture)
	if err != nil {
		return fail(err.Error())
	}
	if skip, why := set.Skip(cfg.Target); skip {
		cfg.progress(fixture, true, why)
		return nil
	}

	src, err := os.ReadFile(fixture)
	if err != nil {
		return fail(fmt.Sprintf("read fixture: %v", err))
	}
	expected, err := ParseExpectations(bytes.NewReader(src))
	if err != nil {
		return fail(fmt.Sprintf("parse annotations: %v", err))
	}
	if len(expected) == 0 {
		return fail("no expected errors annotated (//~ ERROR ...)")
	}

	res := c.invoke(ctx, cfg, fixture, set.CompileFlags())
	switch {
	case res.err != nil:
		return fail(res.err.Error())
	case res.exitCode == 0:
		return fail("compile-fail test compiled successfully!", "stderr:\n"+res.stderr)
	}

	actual, err := ParseDiagnostics(res.stderr)
	if err != nil {
		return fail(fmt.Sprintf("reading diagnostics: %v", err), "stderr:\n"+res.stderr)
	}
	if details := Compare(fixture, expected, actual); len(details) > 0 {
		msg := fmt.Sprintf("%d diagnostic mismatches", len(details))
		return fail(msg, append(details, "stderr:\n"+res.stderr)...)
	}
	cfg.progress(fixture, false, "")
	return nil
}

type invocation struct {
	exitCode int
	stderr   string
	err      error
}

func (c *CompileFail) invoke(ctx context.Context, cfg Config, fixture string, extra []string) invocation {
	flags := cfg.TargetFlags
	if len(flags) == 0 {
		flags = cfg.HostFlags
	}
	args := append([]string{fixture}, flags...)
	args = append(args, "--target="+cfg.Target)
	args = append(args, extra...)

	runCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the binary under test and its fixtures are harness inputs.
	cmd := exec.CommandContext(runCtx, cfg.BinaryPath, args...)
	cmd.Env = sysroot.Environ(os.Environ(), cfg.Sysroot, sysroot.Target{Name: cfg.Target, LibDir: cfg.RunLibPath})
	cmd.WaitDelay = runpass.WaitDelay
	runpass.ConfigureProcess(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := invocation{stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.exitCode = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return res
	}
	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.err = fmt.Errorf("timed out after %s", cfg.Timeout)
	case errors.As(err, &exitErr):
		// Rejected; the diagnostics decide the verdict.
	case cmd.ProcessState != nil:
		// Exited, but a child held stderr open past WaitDelay.
	default:
		res.err = fmt.Errorf("launch %s: %w", cfg.BinaryPath, err)
	}
	return res
}

// Compare matches diagnostics emitted for fixture against expectations and
// returns one line per mismatch.
//
// Every expectation must be met by a diagnostic on the same line whose kind
// matches and whose message contains the expected text. Unexpected errors
// and warnings are mismatches; notes and help messages only count when the
// fixture annotates at least one diagnostic of that kind.
func Compare(fixture string, expected []Expectation, actual []Diagnostic) []string {
	var relevant []Diagnostic
	for _, d := range actual {
		if sameFile(d.File, fixture) {
			relevant = append(relevant, d)
		}
	}

	checked := map[Kind]bool{KindError: true, KindWarning: true}
	for _, e := range expected {
		if e.Kind != KindNone {
			checked[e.Kind] = true
		}
	}

	used := make([]bool, len(relevant))
	var details []string
	for _, e := range expected {
		found := false
		for i, d := range relevant {
			if used[i] || d.Line != e.Line {
				continue
			}
			if e.Kind != KindNone && e.Kind != d.Kind {
				continue
			}
			if !strings.Contains(d.Msg, e.Msg) {
				continue
			}
			used[i], found = true, true
			break
		}
		if !found {
			details = append(details, "expected diagnostic not found: "+e.String())
		}
	}
	for i, d := range relevant {
		if used[i] || !checked[d.Kind] {
			continue
		}
		details = append(details, fmt.Sprintf("unexpected %s: %d: %s", d.Kind, d.Line, d.Msg))
	}
	return details
}
