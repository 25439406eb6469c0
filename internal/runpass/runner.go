// Package runpass executes run-pass fixtures through the binary under test
// once per target and classifies each run by exit status.
package runpass

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/715d/compiletest/internal/sysroot"
	"github.com/715d/compiletest/pkg/directive"
)

// Mode is the fixture class handled by this package.
const Mode = "run-pass"

// WaitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const WaitDelay = 2 * time.Second

// Options configures a Runner.
type Options struct {
	// Binary is the path of the binary under test.
	Binary string

	// Sysroot is the toolchain root used to build the library search path.
	Sysroot string

	// Flags are appended after the fixed arguments on every invocation.
	Flags []string

	// Timeout bounds a single fixture run. Zero disables the limit.
	Timeout time.Duration

	// Parallel is the number of fixtures run concurrently per target.
	// Values below 1 mean sequential execution.
	Parallel int
}

// Sink receives outcomes as they are produced. Record may be called from
// multiple goroutines.
type Sink interface {
	BeginTarget(mode, target string)
	Record(o Outcome)
	EndTarget(mode, target string)
}

// Runner runs run-pass fixtures.
type Runner struct {
	opts Options
}

// NewRunner creates a new run-pass runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Fixtures lists the regular files directly inside dir.
func Fixtures(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing fixtures in %s: %w", dir, err)
	}
	var fixtures []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		mode := entry.Type()
		if mode&os.ModeSymlink != 0 {
			info, err := os.Stat(path)
			if err != nil {
				slog.Warn("skipping dangling fixture link", "path", path, "err", err)
				continue
			}
			mode = info.Mode()
		}
		if !mode.IsRegular() {
			continue
		}
		fixtures = append(fixtures, path)
	}
	return fixtures, nil
}

// Args returns the argument vector passed to the binary for fixture.
func (r *Runner) Args(target, fixture string, extra []string) []string {
	args := []string{fixture, "-Dwarnings", "--target=" + target}
	args = append(args, r.opts.Flags...)
	return append(args, extra...)
}

// RunAll runs every fixture under every target and reports each outcome to
// sink. A failing fixture never stops the iteration. The returned error is
// non-nil only when ctx is canceled.
func (r *Runner) RunAll(ctx context.Context, targets []sysroot.Target, fixtures []string, sink Sink) error {
	directives := make(map[string]*directive.Set, len(fixtures))
	dirErrs := make(map[string]error)
	for _, fixture := range fixtures {
		set, err := directive.ParseFile(fixture)
		if err != nil {
			dirErrs[fixture] = err
			continue
		}
		directives[fixture] = set
	}

	limit := max(r.opts.Parallel, 1)
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.BeginTarget(Mode, target.Name)

		var g errgroup.Group
		g.SetLimit(limit)
		for _, fixture := range fixtures {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err, ok := dirErrs[fixture]; ok {
					sink.Record(Outcome{
						Mode:     Mode,
						Target:   target.Name,
						Fixture:  fixture,
						Status:   StatusFail,
						Reason:   ReasonFixture,
						ExitCode: -1,
						Err:      err,
					})
					return nil
				}
				set := directives[fixture]
				if skip, why := set.Skip(target.Name); skip {
					sink.Record(Outcome{Mode: Mode, Target: target.Name, Fixture: fixture, Status: StatusSkip, Note: why})
					return nil
				}
				sink.Record(r.Run(ctx, target, fixture, set.CompileFlags()...))
				return nil
			})
		}
		_ = g.Wait()
		sink.EndTarget(Mode, target.Name)
	}
	return ctx.Err()
}

// Run executes one fixture under target and classifies the result.
func (r *Runner) Run(ctx context.Context, target sysroot.Target, fixture string, extra ...string) Outcome {
	out := Outcome{
		Mode:     Mode,
		Target:   target.Name,
		Fixture:  fixture,
		ExitCode: -1,
	}

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	// #nosec G204 -- the binary under test and its fixtures are harness inputs.
	cmd := exec.CommandContext(runCtx, r.opts.Binary, r.Args(target.Name, fixture, extra)...)
	cmd.Env = sysroot.Environ(os.Environ(), r.opts.Sysroot, target)
	cmd.WaitDelay = WaitDelay
	ConfigureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		out.Status = StatusFail
		out.Reason = ReasonLaunch
		out.Err = err
		out.Duration = time.Since(start)
		return out
	}
	err := cmd.Wait()
	out.Duration = time.Since(start)
	out.Stdout = stdout.String()
	out.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case err == nil, cmd.ProcessState != nil && cmd.ProcessState.Success():
		// A zero exit passes even if a leftover child kept the output
		// pipes open past WaitDelay.
		out.Status = StatusPass
	case ctx.Err() != nil:
		out.Status = StatusFail
		out.Reason = ReasonCanceled
		out.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.Status = StatusFail
		out.Reason = ReasonTimeout
		out.Err = fmt.Errorf("timed out after %s", r.opts.Timeout)
	default:
		out.Status = StatusFail
		out.Reason = ReasonExit
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || out.ExitCode < 0 {
			out.Err = err
		}
	}

	slog.Debug("fixture finished",
		"target", target.Name,
		"fixture", fixture,
		"status", out.Status.String(),
		"exit", out.ExitCode,
		"dur", out.Duration)
	return out
}
