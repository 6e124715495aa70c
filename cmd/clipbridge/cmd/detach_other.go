//go:build !unix

package cmd

import "os/exec"

func detach(c *exec.Cmd) {
	c.Stdin, c.Stdout, c.Stderr = nil, nil, nil
}
