package sysroot

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// reservedEntry is the metadata directory under lib/rustlib that is not a target.
const reservedEntry = "etc"

// Target is one compilation target installed in the toolchain.
type Target struct {
	// Name is the target triple, e.g. x86_64-unknown-linux-gnu.
	Name string

	// LibDir is the target's runtime library directory.
	LibDir string
}

// Targets lists the targets installed under root/lib/rustlib.
//
// Non-directory entries and the reserved "etc" entry are skipped. The order
// follows the directory listing and must not be relied upon.
func Targets(root string) ([]Target, error) {
	dir := RustlibDir(root)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing targets in %s: %w", dir, err)
	}

	var targets []Target
	for _, entry := range entries {
		name := entry.Name()
		if name == reservedEntry {
			continue
		}
		isDir, err := isDirectory(dir, entry)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if !isDir {
			continue
		}
		targets = append(targets, Target{
			Name:   name,
			LibDir: filepath.Join(dir, name, "lib"),
		})
	}
	slog.Debug("enumerated targets", "root", root, "num", len(targets))
	return targets, nil
}

// isDirectory follows symlinks so a linked target directory still counts.
func isDirectory(dir string, entry os.DirEntry) (bool, error) {
	if entry.Type()&os.ModeSymlink == 0 {
		return entry.IsDir(), nil
	}
	info, err := os.Stat(filepath.Join(dir, entry.Name()))
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
