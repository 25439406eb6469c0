package compiletest

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/compiletest/internal/harness"
	"github.com/715d/compiletest/internal/sysroot"
	"github.com/715d/compiletest/internal/testenv"
)

// fakeMiri logs every invocation to $CALLS and behaves according to the
// fixture name.
const fakeMiri = `
[ -n "$CALLS" ] && echo "$@" >> "$CALLS"
f="$1"
case "$f" in
  *compile-fail*) echo "$f:1:13: 1:14 error: unresolved name" >&2; exit 101 ;;
  *bad*) echo "type mismatch" >&2; exit 1 ;;
esac
exit 0`

type project struct {
	root  string
	bin   string
	calls string
	cfDir string
	rpDir string
}

func newProject(t *testing.T, fixtures string) *project {
	t.Helper()
	p := &project{
		root: testenv.Toolchain(t, "x86_64-unknown", "i686-unknown"),
		bin:  testenv.FakeCompiler(t, fakeMiri),
	}
	dir := t.TempDir()
	testenv.WriteTree(t, dir, fixtures)
	p.cfDir = filepath.Join(dir, "compile-fail")
	p.rpDir = filepath.Join(dir, "run-pass")
	p.calls = filepath.Join(t.TempDir(), "calls")
	t.Setenv("CALLS", p.calls)
	return p
}

func (p *project) options(out *bytes.Buffer) Options {
	return Options{
		Binary:     p.bin,
		Sysroot:    p.root,
		Modes:      []Mode{{Name: "compile-fail", Dir: p.cfDir}},
		RunPassDir: p.rpDir,
		Output:     out,
	}
}

func (p *project) invocations(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(p.calls)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

const fixtureTree = `
-- compile-fail/unresolved.rs --
fn main() { x } //~ ERROR unresolved name
-- run-pass/ok.rs --
fn main() {}
-- run-pass/bad.rs --
fn main() { let a: i32 = ""; }
-- run-pass/zz_after.rs --
fn main() {}
-- run-pass/subdir/nested.rs --
fn main() {}
`

func TestRun_FailingFixture(t *testing.T) {
	p := newProject(t, fixtureTree)
	var out bytes.Buffer

	v, err := Run(t.Context(), p.options(&out))
	require.NoError(t, err)

	require.False(t, v.OK())
	require.Len(t, v.Targets, 4, "two modes under two targets, etc excluded")
	require.Equal(t, 2, v.Failed, "bad.rs fails under both targets")
	require.Equal(t, 6, v.Passed, "compile-fail and two run-pass fixtures pass under both targets")
	for _, f := range v.Failures {
		require.Equal(t, "bad.rs", filepath.Base(f.Fixture))
		require.Equal(t, "type mismatch\n", f.Stderr)
	}

	report := out.String()
	require.Contains(t, report, "running compile-fail tests for target x86_64-unknown")
	require.Contains(t, report, "running run-pass tests for target i686-unknown")
	require.Contains(t, report, "ok.rs ... ok")
	require.Contains(t, report, "bad.rs ... FAILED with exit code 1")
	require.Contains(t, report, "stderr: \n type mismatch")
	require.NotContains(t, report, "nested.rs")

	calls := p.invocations(t)
	require.Len(t, calls, 2+2*3)
	var after int
	for _, call := range calls {
		if strings.Contains(call, "zz_after.rs") {
			after++
			require.Regexp(t, `zz_after\.rs -Dwarnings --target=(x86_64|i686)-unknown$`, call)
		}
		if strings.Contains(call, "unresolved.rs") {
			require.Contains(t, call, "--sysroot "+p.root+" -Dwarnings")
		}
	}
	require.Equal(t, 2, after, "fixtures after a failure still run under every target")
}

func TestRun_AllPass(t *testing.T) {
	p := newProject(t, `
-- compile-fail/unresolved.rs --
fn main() { x } //~ ERROR unresolved name
-- run-pass/ok.rs --
fn main() {}
`)
	v, err := Run(t.Context(), p.options(&bytes.Buffer{}))
	require.NoError(t, err)
	require.True(t, v.OK())
	require.NoError(t, v.Err())
	require.Equal(t, 4, v.Passed)
	require.Len(t, v.Targets, 4)
}

func TestRun_NoSysrootRunsNothing(t *testing.T) {
	p := newProject(t, fixtureTree)
	opts := p.options(&bytes.Buffer{})
	opts.Sysroot = ""
	opts.Getenv = func(string) string { return "" }

	v, err := Run(t.Context(), opts)
	require.ErrorIs(t, err, ErrNoSysroot)
	require.Nil(t, v)
	require.Empty(t, p.invocations(t))
}

func TestRun_SysrootFromEnvironment(t *testing.T) {
	p := newProject(t, fixtureTree)
	home := t.TempDir()
	testenv.WriteTree(t, home, `
-- toolchains/nightly/lib/rustlib/x86_64-unknown/lib/ --
-- toolchains/nightly/lib/rustlib/etc/ --
`)
	opts := p.options(&bytes.Buffer{})
	opts.Sysroot = ""
	opts.RunPassDir = ""
	opts.Getenv = func(key string) string {
		switch key {
		case sysroot.EnvRustupHome:
			return home
		case sysroot.EnvRustupToolchain:
			return "nightly"
		}
		return ""
	}

	v, err := Run(t.Context(), opts)
	require.NoError(t, err)
	require.True(t, v.OK())
	require.Equal(t, 1, v.Passed)

	calls := p.invocations(t)
	require.Len(t, calls, 1)
	require.Contains(t, calls[0], "--sysroot "+filepath.Join(home, "toolchains", "nightly"))
}

func TestRun_ClearsErrorFormatOverride(t *testing.T) {
	p := newProject(t, fixtureTree)
	t.Setenv(sysroot.EnvErrorFormat, "1")
	opts := p.options(&bytes.Buffer{})
	opts.Modes = []Mode{{
		Name: "compile-fail",
		Dir:  p.cfDir,
		Runner: ModeRunnerFunc(func(context.Context, ModeConfig) ([]ModeFailure, error) {
			_, ok := os.LookupEnv(sysroot.EnvErrorFormat)
			require.False(t, ok)
			return nil, nil
		}),
	}}
	_, err := Run(t.Context(), opts)
	require.NoError(t, err)
}

func TestRun_CustomModeFailuresReachVerdict(t *testing.T) {
	p := newProject(t, fixtureTree)
	var targets []string
	opts := p.options(&bytes.Buffer{})
	opts.RunPassDir = ""
	opts.Modes = []Mode{{
		Name: "ui",
		Dir:  p.cfDir,
		Runner: ModeRunnerFunc(func(_ context.Context, cfg ModeConfig) ([]ModeFailure, error) {
			targets = append(targets, cfg.Target)
			if cfg.Target != "i686-unknown" {
				return nil, nil
			}
			return []ModeFailure{{Mode: cfg.Mode, Target: cfg.Target, Fixture: "x.rs", Message: "stderr differs"}}, nil
		}),
	}}

	v, err := Run(t.Context(), opts)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"x86_64-unknown", "i686-unknown"}, targets)
	require.False(t, v.OK())
	require.Equal(t, 1, v.Failed)
	require.Equal(t, "stderr differs", v.Failures[0].Message)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	p := newProject(t, fixtureTree)

	opts := p.options(&bytes.Buffer{})
	opts.Modes = []Mode{{Name: "run-fail", Dir: p.cfDir}}
	_, err := Run(t.Context(), opts)
	require.ErrorContains(t, err, "invalid mode")

	opts = p.options(&bytes.Buffer{})
	opts.RunPassDir = filepath.Join(t.TempDir(), "missing")
	_, err = Run(t.Context(), opts)
	require.ErrorContains(t, err, "listing fixtures")

	opts = p.options(&bytes.Buffer{})
	opts.Sysroot = t.TempDir()
	_, err = Run(t.Context(), opts)
	require.ErrorContains(t, err, "listing targets")

	require.Empty(t, p.invocations(t))
}

func TestRun_Timeout(t *testing.T) {
	p := newProject(t, `
-- run-pass/slow.rs --
fn main() { loop {} }
-- run-pass/ok.rs --
fn main() {}
`)
	p.bin = testenv.FakeCompiler(t, `case "$1" in *slow*) sleep 30 ;; esac`)
	opts := p.options(&bytes.Buffer{})
	opts.Modes = nil
	opts.Timeout = 200 * time.Millisecond
	opts.Parallel = 2

	v, err := Run(t.Context(), opts)
	require.NoError(t, err)
	require.Equal(t, 2, v.Failed)
	require.Equal(t, 2, v.Passed)
	for _, f := range v.Failures {
		require.Equal(t, "timeout", f.Reason)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := harness.DefaultConfig()
	cfg.Timeout = "5s"
	cfg.Modes = append(cfg.Modes, harness.ModeConfig{Name: "ui", Dir: "tests/ui", Skip: true, Reason: "later"})

	opts, err := FromConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, harness.DefaultBinary, opts.Binary)
	require.Equal(t, harness.DefaultRunPassDir, opts.RunPassDir)
	require.Equal(t, 5*time.Second, opts.Timeout)
	require.Equal(t, []Mode{{Name: "compile-fail", Dir: harness.DefaultCompileFailDir}}, opts.Modes)

	cfg.Timeout = "never"
	_, err = FromConfig(cfg)
	require.Error(t, err)
}

func TestRunTest(t *testing.T) {
	p := newProject(t, `
-- compile-fail/unresolved.rs --
fn main() { x } //~ ERROR unresolved name
-- run-pass/ok.rs --
fn main() {}
`)
	opts := p.options(nil)
	opts.Output = nil
	v := RunTest(t, opts)
	require.True(t, v.OK())
}
