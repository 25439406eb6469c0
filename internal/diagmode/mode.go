// Package diagmode runs fixture-comparison modes such as compile-fail once
// per installed target.
//
// The comparison itself is delegated to a ModeRunner. This package builds
// the invocation configuration for each target and forwards every failure
// the ModeRunner reports.
//
// Callers must normalize the process environment (see
// sysroot.NormalizeEnv) before running a mode, otherwise the binary may
// emit diagnostics in a layout the comparison cannot read.
package diagmode

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/715d/compiletest/internal/sysroot"
)

// Config is the invocation configuration handed to a ModeRunner for one
// target.
type Config struct {
	// Mode is the fixture-comparison mode, e.g. compile-fail.
	Mode string

	// BinaryPath is the binary under test.
	BinaryPath string

	// Sysroot is the toolchain root.
	Sysroot string

	// HostFlags are passed when building for the host.
	HostFlags []string

	// TargetFlags are passed when building for Target.
	TargetFlags []string

	// RunLibPath is the target's runtime library search path.
	RunLibPath string

	// SrcBase is the directory holding the fixtures of this mode.
	SrcBase string

	// Target is the target name.
	Target string

	// Timeout bounds a single fixture run. Zero disables the limit.
	Timeout time.Duration

	// Parallel is the number of fixtures compared concurrently.
	Parallel int

	// Progress is notified of fixtures that passed or were skipped. It may
	// be nil and may be called concurrently.
	Progress Progress
}

// Progress observes non-failing fixtures.
type Progress func(fixture string, skipped bool, note string)

func (c Config) progress(fixture string, skipped bool, note string) {
	if c.Progress != nil {
		c.Progress(fixture, skipped, note)
	}
}

// Failure is one fixture that did not behave as its expectations describe.
type Failure struct {
	Mode    string
	Target  string
	Fixture string
	Message string
	Details []string
}

func (f Failure) Error() string {
	return fmt.Sprintf("[%s] %s (%s): %s", f.Mode, f.Fixture, f.Target, f.Message)
}

// ModeRunner runs and compares every fixture of one mode under one target.
type ModeRunner interface {
	RunFixtureMode(ctx context.Context, cfg Config) ([]Failure, error)
}

// ModeRunnerFunc adapts a function to ModeRunner.
type ModeRunnerFunc func(ctx context.Context, cfg Config) ([]Failure, error)

// RunFixtureMode calls f.
func (f ModeRunnerFunc) RunFixtureMode(ctx context.Context, cfg Config) ([]Failure, error) {
	return f(ctx, cfg)
}

// Lookup returns the built-in ModeRunner for mode.
func Lookup(mode string) (ModeRunner, error) {
	switch mode {
	case ModeCompileFail:
		return &CompileFail{}, nil
	default:
		return nil, fmt.Errorf("invalid mode %q", mode)
	}
}

// Sink receives per-target progress and failures.
type Sink interface {
	BeginTarget(mode, target string)
	RecordFailure(f Failure)
	EndTarget(mode, target string)
	Progress(mode, target string) Progress
}

// Options configures a Runner.
type Options struct {
	// Binary is the binary under test.
	Binary string

	// Sysroot is the toolchain root.
	Sysroot string

	// Flags are appended to the standard compiler flags.
	Flags []string

	// Timeout bounds a single fixture run.
	Timeout time.Duration

	// Parallel is the number of fixtures compared concurrently.
	Parallel int
}

// Runner drives a ModeRunner over every target.
type Runner struct {
	opts Options
}

// NewRunner creates a new diagnostic-mode runner.
func NewRunner(opts Options) *Runner {
	return &Runner{opts: opts}
}

// Flags returns the compiler flags used for every target.
func (r *Runner) Flags() []string {
	flags := []string{"--sysroot", r.opts.Sysroot, "-Dwarnings"}
	return append(flags, r.opts.Flags...)
}

// Config builds the invocation configuration for target.
func (r *Runner) Config(mode, dir string, target sysroot.Target) Config {
	return Config{
		Mode:        mode,
		BinaryPath:  r.opts.Binary,
		Sysroot:     r.opts.Sysroot,
		HostFlags:   r.Flags(),
		TargetFlags: r.Flags(),
		RunLibPath:  target.LibDir,
		SrcBase:     dir,
		Target:      target.Name,
		Timeout:     r.opts.Timeout,
		Parallel:    r.opts.Parallel,
	}
}

// Run invokes runner once per target with fixtures from dir. Failures and
// runner errors are forwarded to sink and never stop the iteration. The
// returned error is non-nil only when ctx is canceled.
func (r *Runner) Run(ctx context.Context, runner ModeRunner, mode, dir string, targets []sysroot.Target, sink Sink) error {
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		sink.BeginTarget(mode, target.Name)

		cfg := r.Config(mode, dir, target)
		cfg.Progress = sink.Progress(mode, target.Name)

		start := time.Now()
		failures, err := runner.RunFixtureMode(ctx, cfg)
		for _, f := range failures {
			sink.RecordFailure(f)
		}
		if err != nil {
			sink.RecordFailure(Failure{
				Mode:    mode,
				Target:  target.Name,
				Fixture: dir,
				Message: err.Error(),
			})
		}
		slog.Debug("mode finished",
			"mode", mode,
			"target", target.Name,
			"failures", len(failures),
			"dur", time.Since(start))

		sink.EndTarget(mode, target.Name)
	}
	return ctx.Err()
}
