//go:build !linux

package supervisor

import "os/exec"

// applyPdeathsig is a no-op on platforms without Pdeathsig support.
func applyPdeathsig(cmd *exec.Cmd) {}
