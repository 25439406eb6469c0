package sysroot

import (
	"os"
	"runtime"
	"strings"
)

// DylibEnvVar returns the name of the dynamic library search path variable
// for the host platform.
func DylibEnvVar() string {
	switch runtime.GOOS {
	case "windows":
		return "PATH"
	case "darwin", "ios":
		return "DYLD_LIBRARY_PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

// SearchPath joins the toolchain's general library directory with the
// target's runtime library directory, followed by any existing entries.
func SearchPath(root string, target Target, existing string) string {
	parts := []string{LibDir(root), target.LibDir}
	if existing != "" {
		parts = append(parts, existing)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}

// Environ returns env with the dynamic library search path for target set.
// env is not modified.
func Environ(env []string, root string, target Target) []string {
	key := DylibEnvVar()
	out := make([]string, 0, len(env)+1)
	var existing string
	prefix := key + "="
	for _, e := range env {
		if hasEnvPrefix(e, prefix) {
			existing = e[len(prefix):]
			continue
		}
		out = append(out, e)
	}
	return append(out, prefix+SearchPath(root, target, existing))
}

func hasEnvPrefix(e, prefix string) bool {
	if runtime.GOOS == "windows" {
		return len(e) >= len(prefix) && strings.EqualFold(e[:len(prefix)], prefix)
	}
	return strings.HasPrefix(e, prefix)
}
