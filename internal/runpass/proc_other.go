//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package runpass

import "os/exec"

// ConfigureProcess keeps the default behavior of killing only the process.
func ConfigureProcess(*exec.Cmd) {}
