//go:build linux

package supervisor

import (
	"os/exec"
	"syscall"
)

// applyPdeathsig ensures the plugin child is killed if the core process
// dies first, preventing orphaned children. This is process-lifecycle
// hygiene, not sandboxing: unlike the teacher's grpc/sandbox_linux.go, no
// namespace isolation or restricted environment is applied here, since
// spec.md §1 places capability restriction and resource limiting of
// plugins explicitly out of scope.
func applyPdeathsig(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGKILL,
	}
}
