//go:build unix

package cmd

import (
	"os/exec"
	"syscall"
)

// detach starts c in its own session so it outlives the terminal.
func detach(c *exec.Cmd) {
	c.Stdin, c.Stdout, c.Stderr = nil, nil, nil
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
