// Package harness loads the harness configuration and aggregates fixture
// outcomes into a single run verdict.
package harness

// Default locations, relative to the working directory.
const (
	DefaultBinary         = "target/debug/miri"
	DefaultCompileFailDir = "tests/compile-fail"
	DefaultRunPassDir     = "tests/run-pass"
)

// Config is the on-disk harness configuration.
type Config struct {
	// Binary is the path of the binary under test.
	Binary string `yaml:"binary" toml:"binary"`

	// Sysroot overrides toolchain root resolution from the environment.
	Sysroot string `yaml:"sysroot,omitempty" toml:"sysroot"`

	// Modes lists the fixture-comparison modes to run per target.
	Modes []ModeConfig `yaml:"modes" toml:"modes"`

	// RunPass is the directory of run-pass fixtures. Empty disables run-pass.
	RunPass string `yaml:"run_pass" toml:"run_pass"`

	// Flags are extra compiler flags passed on every invocation.
	Flags []string `yaml:"flags,omitempty" toml:"flags"`

	// Timeout bounds each fixture run, as a Go duration string. Empty or
	// "0" disables the limit.
	Timeout string `yaml:"timeout,omitempty" toml:"timeout"`

	// Parallel is the number of fixtures run concurrently per target.
	Parallel int `yaml:"parallel,omitempty" toml:"parallel"`
}

// ModeConfig configures one fixture-comparison mode.
type ModeConfig struct {
	Name   string `yaml:"name" toml:"name"`
	Dir    string `yaml:"dir" toml:"dir"`
	Skip   bool   `yaml:"skip,omitempty" toml:"skip"`
	Reason string `yaml:"reason,omitempty" toml:"reason"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Binary:   DefaultBinary,
		Modes:    []ModeConfig{{Name: "compile-fail", Dir: DefaultCompileFailDir}},
		RunPass:  DefaultRunPassDir,
		Parallel: 1,
	}
}
