// Package sysroot locates the toolchain under test and the compilation
// targets it has installed.
package sysroot

import (
	"errors"
	"os"
	"path/filepath"
)

// Environment variables consulted when resolving the toolchain root.
// Each pair is checked in order; the first non-empty value wins.
const (
	EnvRustupHome         = "RUSTUP_HOME"
	EnvMultirustHome      = "MULTIRUST_HOME"
	EnvRustupToolchain    = "RUSTUP_TOOLCHAIN"
	EnvMultirustToolchain = "MULTIRUST_TOOLCHAIN"
	EnvSysroot            = "RUST_SYSROOT"

	// EnvErrorFormat switches the compiler to a diagnostic layout the
	// compile-fail comparison cannot parse.
	EnvErrorFormat = "RUST_NEW_ERROR_FORMAT"
)

// ErrNoSysroot is returned when no environment signal names a toolchain root.
var ErrNoSysroot = errors.New("need to specify " + EnvSysroot + " env var or use rustup or multirust")

// NormalizeEnv prepares the process environment for deterministic
// diagnostics. It must run before any compile-fail fixture is executed.
func NormalizeEnv() error {
	return os.Unsetenv(EnvErrorFormat)
}

// Resolve determines the toolchain root from getenv.
//
// A paired installation home and active toolchain name take priority and
// yield home/toolchains/name. Otherwise the explicit sysroot variable is
// used. If neither is available, ErrNoSysroot is returned.
func Resolve(getenv func(string) string) (string, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	home := firstSet(getenv, EnvRustupHome, EnvMultirustHome)
	toolchain := firstSet(getenv, EnvRustupToolchain, EnvMultirustToolchain)
	if home != "" && toolchain != "" {
		return filepath.Join(home, "toolchains", toolchain), nil
	}
	if root := getenv(EnvSysroot); root != "" {
		return root, nil
	}
	return "", ErrNoSysroot
}

func firstSet(getenv func(string) string, keys ...string) string {
	for _, key := range keys {
		if v := getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// LibDir returns the general library directory of the toolchain.
func LibDir(root string) string {
	return filepath.Join(root, "lib")
}

// RustlibDir returns the directory holding one subdirectory per target.
func RustlibDir(root string) string {
	return filepath.Join(root, "lib", "rustlib")
}
