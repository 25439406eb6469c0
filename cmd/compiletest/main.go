// Package main implements the CLI driver for the compiletest harness.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/715d/compiletest/internal/harness"
	"github.com/715d/compiletest/pkg/compiletest"
)

// Config holds all command-line configuration options.
type Config struct {
	ConfigFile  string        // path of a compiletest.yaml or compiletest.toml
	Binary      string        // the binary under test
	Sysroot     string        // toolchain root, overrides the environment
	CompileFail string        // compile-fail fixture directory
	RunPass     string        // run-pass fixture directory
	Flags       []string      // extra compiler flags
	Timeout     time.Duration // per-fixture timeout
	Parallel    int           // fixtures run concurrently per target
	Verbose     bool          // enables debug logging
	JSON        bool          // writes the verdict as JSON to stdout
	NoColor     bool          // disables colored status words
	ProfileDir  string        // writes cpu.prof and mem.prof here when set
}

const (
	exitFailed = 1
	exitError  = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "compiletest",
		Short: "Run compile-fail and run-pass fixtures under every installed target",
		Long: `compiletest validates a compiler-like binary against every target installed
in its toolchain.

For each target it runs:
- compile-fail fixtures, which must be rejected with the diagnostics
  annotated in them (//~ ERROR ...)
- run-pass fixtures, which must exit successfully

The toolchain root is taken from --sysroot, the config file, RUSTUP_HOME and
RUSTUP_TOOLCHAIN (or their MULTIRUST_ equivalents), or RUST_SYSROOT.`,
		Example: `  compiletest                                  # Use ./compiletest.yaml or defaults
  compiletest --binary target/debug/miri       # Test a specific binary
  compiletest --timeout 30s --parallel 4       # Bound and parallelize fixture runs
  compiletest --json > verdict.json            # Machine-readable verdict`,
		Args:               cobra.NoArgs,
		RunE:               runCommand,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("compiletest version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	// Define flags.
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfg.ConfigFile, "config", "", "Harness config file (default: compiletest.yaml, .yml or .toml in the working directory)")
	flags.StringVar(&cfg.Binary, "binary", harness.DefaultBinary, "Binary under test")
	flags.StringVar(&cfg.Sysroot, "sysroot", "", "Toolchain root (default: resolved from the environment)")
	flags.StringVar(&cfg.CompileFail, "compile-fail", harness.DefaultCompileFailDir, "Compile-fail fixture directory (empty to disable)")
	flags.StringVar(&cfg.RunPass, "run-pass", harness.DefaultRunPassDir, "Run-pass fixture directory (empty to disable)")
	flags.StringSliceVar(&cfg.Flags, "flag", []string{}, "Extra compiler flag passed on every invocation")
	flags.DurationVar(&cfg.Timeout, "timeout", 0, "Per-fixture timeout (0 disables)")
	flags.IntVar(&cfg.Parallel, "parallel", 1, "Fixtures run concurrently per target")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.BoolVar(&cfg.JSON, "json", false, "Write the verdict as JSON to stdout")
	flags.BoolVar(&cfg.NoColor, "no-color", false, "Disable colored output")
	flags.StringVar(&cfg.ProfileDir, "profile-dir", "", "Write CPU and heap profiles of the harness run to this directory")
	return rootCmd
}

func runCommand(cmd *cobra.Command, _ []string) error {
	fileCfg, err := loadConfig(cfg.ConfigFile)
	if err != nil {
		return errWithCode(err, exitError)
	}

	opts, err := buildOptions(cmd, fileCfg)
	if err != nil {
		return errWithCode(err, exitError)
	}

	slog.Info("starting compiletest", "binary", opts.Binary, "modes", len(opts.Modes), "run_pass", opts.RunPassDir)
	verdict, err := compiletest.Run(cmd.Context(), opts)
	if err != nil {
		return errWithCode(fmt.Errorf("run: %w", err), exitError)
	}

	if cfg.JSON {
		if err := writeJSON(verdict); err != nil {
			return errWithCode(err, exitError)
		}
	}
	fmt.Fprintln(os.Stderr, verdict.Summary())

	if err := verdict.Err(); err != nil {
		return errWithCode(err, exitFailed)
	}
	return nil
}

// loadConfig reads the explicit config file, or the one found in the
// working directory, falling back to defaults.
func loadConfig(path string) (*harness.Config, error) {
	if path == "" {
		found, err := harness.FindConfig(".")
		if err != nil {
			return nil, err
		}
		path = found
	}
	if path == "" {
		return harness.DefaultConfig(), nil
	}
	slog.Info("loading config", "path", path)
	return harness.LoadConfig(path)
}

// buildOptions applies explicitly set flags on top of the file configuration.
func buildOptions(cmd *cobra.Command, fileCfg *harness.Config) (compiletest.Options, error) {
	flags := cmd.Flags()
	if flags.Changed("binary") {
		fileCfg.Binary = cfg.Binary
	}
	if flags.Changed("sysroot") {
		fileCfg.Sysroot = cfg.Sysroot
	}
	if flags.Changed("compile-fail") {
		fileCfg.Modes = setModeDir(fileCfg.Modes, "compile-fail", cfg.CompileFail)
	}
	if flags.Changed("run-pass") {
		fileCfg.RunPass = cfg.RunPass
	}
	if flags.Changed("flag") {
		fileCfg.Flags = cfg.Flags
	}
	if flags.Changed("timeout") {
		fileCfg.Timeout = cfg.Timeout.String()
	}
	if flags.Changed("parallel") {
		fileCfg.Parallel = cfg.Parallel
	}

	opts, err := compiletest.FromConfig(fileCfg)
	if err != nil {
		return compiletest.Options{}, fmt.Errorf("invalid configuration: %w", err)
	}
	opts.Output = os.Stderr
	opts.Color = !cfg.NoColor && isatty.IsTerminal(os.Stderr.Fd())
	return opts, nil
}

// setModeDir points the named mode at dir, removing it when dir is empty.
func setModeDir(modes []harness.ModeConfig, name, dir string) []harness.ModeConfig {
	out := modes[:0:0]
	found := false
	for _, m := range modes {
		if m.Name == name {
			found = true
			if dir == "" {
				continue
			}
			m.Dir = dir
		}
		out = append(out, m)
	}
	if !found && dir != "" {
		out = append(out, harness.ModeConfig{Name: name, Dir: dir})
	}
	return out
}

func writeJSON(v *compiletest.Verdict) error {
	data, err := json.MarshalIndent(jOutput{
		Verdict:   v,
		OK:        v.OK(),
		Version:   version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

type jOutput struct {
	*compiletest.Verdict
	OK        bool   `json:"ok"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

func setup(_ *cobra.Command, _ []string) error {
	slog.SetDefault(newLogger(os.Stderr, cfg.Verbose, cfg.JSON))
	if cfg.ProfileDir == "" {
		return nil
	}
	p, err := startProfiler(cfg.ProfileDir)
	if err != nil {
		return err
	}
	prof = p
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	p := prof
	prof = nil
	return p.stop()
}

// newLogger returns the harness logger: debug level when verbose, silent
// otherwise.
func newLogger(w io.Writer, verbose, asJSON bool) *slog.Logger {
	if !verbose {
		return slog.New(slog.DiscardHandler)
	}
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// profiler records a CPU profile for the whole harness run and a heap
// profile at its end.
type profiler struct {
	dir string
	cpu *os.File
}

var prof *profiler

func startProfiler(dir string) (*profiler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating profile dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "cpu.prof"))
	if err != nil {
		return nil, fmt.Errorf("creating cpu profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("starting cpu profile: %w", err)
	}
	slog.Info("compiletest profiling harness run", "dir", dir)
	return &profiler{dir: dir, cpu: f}, nil
}

// stop is a no-op on a nil profiler so teardown can run on every exit path.
func (p *profiler) stop() error {
	if p == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := p.cpu.Close()

	heap, herr := os.Create(filepath.Join(p.dir, "mem.prof"))
	if herr != nil {
		return errors.Join(err, fmt.Errorf("creating heap profile: %w", herr))
	}
	defer heap.Close()
	runtime.GC()
	if herr := pprof.WriteHeapProfile(heap); herr != nil {
		err = errors.Join(err, fmt.Errorf("writing heap profile: %w", herr))
	}
	slog.Info("compiletest profiles written", "cpu", p.cpu.Name(), "heap", heap.Name())
	return err
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}
