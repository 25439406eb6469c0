package diagmode

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/715d/compiletest/internal/sysroot"
	"github.com/715d/compiletest/internal/testenv"
)

// fakeRejecter emits legacy-format diagnostics based on the fixture name.
const fakeRejecter = `
f="$1"
case "$f" in
  *type_err*) echo "$f:2:18: 2:21 error: mismatched types" >&2; exit 101 ;;
  *new_fmt*) printf 'error[E0425]: cannot find value\n --> %s:1:13\n  |\nerror: aborting due to previous error\n' "$f" >&2; exit 1 ;;
  *extra*) echo "$f:2:1: 2:2 error: first" >&2; echo "$f:3:1: 3:2 error: second" >&2; exit 1 ;;
  *compiles*) exit 0 ;;
  *hang*) sleep 30 ;;
  *flags*) echo "$f:1:1: 1:2 error: args: $*" >&2; exit 1 ;;
esac
exit 1`

func compileFailConfig(t *testing.T, bin, dir string) Config {
	t.Helper()
	root := testenv.Toolchain(t, "x86_64-unknown")
	targets, err := sysroot.Targets(root)
	require.NoError(t, err)
	r := NewRunner(Options{Binary: bin, Sysroot: root, Parallel: 2})
	return r.Config(ModeCompileFail, dir, targets[0])
}

func TestCompileFail(t *testing.T) {
	bin := testenv.FakeCompiler(t, fakeRejecter)
	dir := t.TempDir()
	testenv.WriteTree(t, dir, `
-- type_err.rs --
fn main() {
    let x: i32 = "a"; //~ ERROR mismatched types
}
-- new_fmt.rs --
fn main() { y } //~ ERROR cannot find value
-- extra.rs --
fn main() {
    a(); //~ ERROR first
    b();
}
-- compiles.rs --
fn main() {} //~ ERROR never happens
-- unannotated.rs --
fn main() {}
-- ignored.rs --
// ignore-x86_64
fn main() {} //~ ERROR skipped
-- flags.rs --
// compile-flags: --cfg feature
//~^ ERROR --target=x86_64-unknown --cfg feature
-- nested/type_err.rs --
fn main() {}
`)
	cfg := compileFailConfig(t, bin, dir)

	var passed, skipped []string
	cfg.Progress = func(fixture string, skip bool, note string) {
		if skip {
			skipped = append(skipped, filepath.Base(fixture)+":"+note)
			return
		}
		passed = append(passed, filepath.Base(fixture))
	}
	cfg.Parallel = 1

	failures, err := (&CompileFail{}).RunFixtureMode(t.Context(), cfg)
	require.NoError(t, err)

	byName := map[string]Failure{}
	for _, f := range failures {
		require.Equal(t, "x86_64-unknown", f.Target)
		require.Equal(t, ModeCompileFail, f.Mode)
		byName[filepath.Base(f.Fixture)] = f
	}
	require.Len(t, byName, 3)
	require.Equal(t, "compile-fail test compiled successfully!", byName["compiles.rs"].Message)
	require.Contains(t, byName["unannotated.rs"].Message, "no expected errors")
	require.Contains(t, byName["extra.rs"].Details, "unexpected error: 3: second")

	require.ElementsMatch(t, []string{"type_err.rs", "new_fmt.rs", "flags.rs"}, passed)
	require.Equal(t, []string{"ignored.rs:ignore-x86_64"}, skipped)
}

func TestCompileFail_Timeout(t *testing.T) {
	bin := testenv.FakeCompiler(t, fakeRejecter)
	dir := t.TempDir()
	testenv.WriteTree(t, dir, `
-- hang.rs --
fn main() { loop {} } //~ ERROR never
`)
	cfg := compileFailConfig(t, bin, dir)
	cfg.Timeout = 200 * time.Millisecond

	failures, err := (&CompileFail{}).RunFixtureMode(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.True(t, strings.HasPrefix(failures[0].Message, "timed out after"))
}

func TestCompileFail_ChildHoldsStderr(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the output pipe delay")
	}
	bin := testenv.FakeCompiler(t, `(sleep 4) &
echo "$1:1:13: 1:14 error: unresolved name" >&2
case "$1" in
  *accepted*) exit 0 ;;
esac
exit 101`)
	dir := t.TempDir()
	testenv.WriteTree(t, dir, `
-- rejected.rs --
fn main() { x } //~ ERROR unresolved name
-- accepted.rs --
fn main() { x } //~ ERROR unresolved name
`)
	cfg := compileFailConfig(t, bin, dir)

	failures, err := (&CompileFail{}).RunFixtureMode(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Equal(t, "accepted.rs", filepath.Base(failures[0].Fixture))
	require.Equal(t, "compile-fail test compiled successfully!", failures[0].Message)
}

func TestCompileFail_LaunchError(t *testing.T) {
	testenv.RequireShell(t)
	dir := t.TempDir()
	testenv.WriteTree(t, dir, `
-- a.rs --
fn main() {} //~ ERROR x
`)
	cfg := compileFailConfig(t, filepath.Join(t.TempDir(), "missing"), dir)

	failures, err := (&CompileFail{}).RunFixtureMode(t.Context(), cfg)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.Contains(t, failures[0].Message, "launch")
}

func TestCompileFail_MissingDir(t *testing.T) {
	cfg := Config{Mode: ModeCompileFail, SrcBase: filepath.Join(t.TempDir(), "nope"), Target: "t"}
	_, err := (&CompileFail{}).RunFixtureMode(t.Context(), cfg)
	require.Error(t, err)
}
