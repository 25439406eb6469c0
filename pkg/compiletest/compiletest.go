// Package compiletest runs compile-fail and run-pass fixtures through a
// compiler-like binary under every target installed in its toolchain.
package compiletest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/715d/compiletest/internal/diagmode"
	"github.com/715d/compiletest/internal/harness"
	"github.com/715d/compiletest/internal/runpass"
	"github.com/715d/compiletest/internal/sysroot"
)

// ErrNoSysroot is returned when the toolchain root cannot be resolved.
var ErrNoSysroot = sysroot.ErrNoSysroot

// Run executes every configured mode and the run-pass fixtures under every
// installed target and returns the aggregate verdict.
//
// An error is returned only for configuration problems detected before any
// fixture runs, or when ctx is canceled. Fixture failures are reported in
// the verdict.
func Run(ctx context.Context, opts Options) (*Verdict, error) {
	start := time.Now()

	if err := sysroot.NormalizeEnv(); err != nil {
		return nil, fmt.Errorf("normalizing environment: %w", err)
	}

	root := opts.Sysroot
	if root == "" {
		var err error
		root, err = sysroot.Resolve(opts.Getenv)
		if err != nil {
			return nil, err
		}
	}
	slog.Info("resolved sysroot", "root", root)

	targets, err := sysroot.Targets(root)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		slog.Warn("no targets installed", "root", root)
	}

	modes := make([]diagmode.ModeRunner, len(opts.Modes))
	for i, m := range opts.Modes {
		modes[i] = m.Runner
		if modes[i] != nil {
			continue
		}
		if modes[i], err = diagmode.Lookup(m.Name); err != nil {
			return nil, err
		}
	}

	var fixtures []string
	if opts.RunPassDir != "" {
		if fixtures, err = runpass.Fixtures(opts.RunPassDir); err != nil {
			return nil, err
		}
	}

	out := opts.Output
	if out == nil {
		out = io.Discard
	}
	reporter := harness.NewReporter(out, harness.ReporterOptions{Color: opts.Color})

	diag := diagmode.NewRunner(diagmode.Options{
		Binary:   opts.Binary,
		Sysroot:  root,
		Flags:    opts.Flags,
		Timeout:  opts.Timeout,
		Parallel: opts.Parallel,
	})
	for i, m := range opts.Modes {
		slog.Info("running mode", "mode", m.Name, "dir", m.Dir, "targets", len(targets))
		if err := diag.Run(ctx, modes[i], m.Name, m.Dir, targets, reporter); err != nil {
			return nil, err
		}
	}

	if opts.RunPassDir != "" {
		slog.Info("running run-pass fixtures", "dir", opts.RunPassDir, "fixtures", len(fixtures), "targets", len(targets))
		rp := runpass.NewRunner(runpass.Options{
			Binary:   opts.Binary,
			Sysroot:  root,
			Flags:    opts.Flags,
			Timeout:  opts.Timeout,
			Parallel: opts.Parallel,
		})
		if err := rp.RunAll(ctx, targets, fixtures, reporter); err != nil {
			return nil, err
		}
	}

	verdict := reporter.Verdict()
	slog.Info("run completed",
		"passed", verdict.Passed,
		"failed", verdict.Failed,
		"skipped", verdict.Skipped,
		"dur", time.Since(start))
	return verdict, nil
}

// FromConfig converts a harness configuration into run options.
func FromConfig(cfg *harness.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Binary:     cfg.Binary,
		Sysroot:    cfg.Sysroot,
		RunPassDir: cfg.RunPass,
		Flags:      cfg.Flags,
		Timeout:    timeout,
		Parallel:   cfg.Parallel,
	}
	for _, m := range cfg.Modes {
		if m.Skip {
			slog.Info("skipping mode", "mode", m.Name, "reason", m.Reason)
			continue
		}
		opts.Modes = append(opts.Modes, Mode{Name: m.Name, Dir: m.Dir})
	}
	return opts, nil
}
