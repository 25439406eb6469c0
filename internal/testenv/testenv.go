// Package testenv builds on-disk toolchain layouts, fixture trees and fake
// compiler binaries for tests.
package testenv

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
)

// WriteTree materializes a txtar archive under dir. Files whose name ends in
// "/" create an empty directory instead.
func WriteTree(t *testing.T, dir, archive string) {
	t.Helper()
	ar := txtar.Parse([]byte(archive))
	for _, f := range ar.Files {
		path := filepath.Join(dir, filepath.FromSlash(strings.TrimSuffix(f.Name, "/")))
		if strings.HasSuffix(f.Name, "/") {
			require.NoError(t, os.MkdirAll(path, 0o755))
			continue
		}
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
}

// Toolchain creates a sysroot containing the given target directories plus
// the reserved etc directory and a stray file, and returns its path.
func Toolchain(t *testing.T, targets ...string) string {
	t.Helper()
	root := t.TempDir()
	var b strings.Builder
	b.WriteString("-- lib/rustlib/etc/ --\n")
	b.WriteString("-- lib/rustlib/components --\nrustc\n")
	for _, target := range targets {
		b.WriteString("-- lib/rustlib/" + target + "/lib/ --\n")
	}
	WriteTree(t, root, b.String())
	return root
}

// RequireShell skips the test on platforms where fake binaries cannot be
// written as shell scripts.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler binaries are shell scripts")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
}

// FakeCompiler writes an executable shell script with the given body and
// returns its path. The script receives the fixture path as $1.
func FakeCompiler(t *testing.T, body string) string {
	t.Helper()
	RequireShell(t)
	path := filepath.Join(t.TempDir(), "fakec")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
