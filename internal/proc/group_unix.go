//go:build unix

package proc

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in a new process group so Kill reaches its
// descendants too.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree kills the child's process group, then the child itself in case
// the group is already gone.
func killTree(p *os.Process) {
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
	// os.ErrProcessDone when the child beat us to it.
	_ = p.Kill()
}
