package compiletest

import (
	"io"
	"time"

	"github.com/715d/compiletest/internal/diagmode"
	"github.com/715d/compiletest/internal/harness"
)

// Verdict is the aggregate result of a run.
type Verdict = harness.Verdict

// ModeRunner compares the fixtures of one diagnostic mode under one target.
type ModeRunner = diagmode.ModeRunner

// ModeRunnerFunc adapts a function to ModeRunner.
type ModeRunnerFunc = diagmode.ModeRunnerFunc

// ModeConfig is the configuration handed to a ModeRunner.
type ModeConfig = diagmode.Config

// ModeFailure is a fixture failure reported by a ModeRunner.
type ModeFailure = diagmode.Failure

// Mode is a diagnostic mode run once per target.
type Mode struct {
	// Name is the mode, e.g. compile-fail.
	Name string

	// Dir holds the fixtures of the mode.
	Dir string

	// Runner compares the fixtures. If nil, the built-in runner for Name
	// is used.
	Runner ModeRunner
}

// Options configures a run.
type Options struct {
	// Binary is the binary under test.
	Binary string

	// Sysroot is the toolchain root. If empty it is resolved from the
	// environment.
	Sysroot string

	// Getenv reads the environment during sysroot resolution. Defaults to
	// os.Getenv.
	Getenv func(string) string

	// Modes are run in order before the run-pass fixtures.
	Modes []Mode

	// RunPassDir holds the run-pass fixtures. Empty disables run-pass.
	RunPassDir string

	// Flags are extra compiler flags passed on every invocation.
	Flags []string

	// Timeout bounds each fixture run. Zero disables the limit.
	Timeout time.Duration

	// Parallel is the number of fixtures run concurrently per target.
	Parallel int

	// Output receives the progress report. Defaults to io.Discard.
	Output io.Writer

	// Color enables colored status words in the report.
	Color bool
}
