// Package proc supervises clip_tool child processes.
//
// A Process owns the child's stdin and stdout. Exactly one goroutine reads
// stdout; it normalizes lines and delivers them on Lines(). Another reaps the
// child, and Done() closes once both have finished. On Unix the child leads
// its own process group and Kill signals the whole group. Kill and Release
// never fail, so they are safe on teardown paths.
package proc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	cberrors "github.com/Aman-CERP/clipbridge/internal/errors"
	"github.com/Aman-CERP/clipbridge/internal/protocol"
)

// lineBuffer is the number of stdout lines held before the reader waits for a consumer.
const lineBuffer = 256

// waitDelay bounds how long Wait keeps stdout open after the child exits.
const waitDelay = 2 * time.Second

// Spec describes a child process to start.
type Spec struct {
	// Path is the executable.
	Path string
	// Args excludes the executable itself.
	Args []string
	// Stdin requests a writable stdin pipe.
	Stdin bool
	// Stderr receives the child's stderr. Nil discards it.
	Stderr io.Writer
	// Env is appended to the current environment.
	Env []string
	// Dir is the working directory. Empty inherits ours.
	Dir string
}

// Process is a running child with captured streams.
type Process struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines chan string
	done  chan struct{}
	stop  chan struct{}

	writeMu  sync.Mutex
	killOnce sync.Once
	killed   atomic.Bool

	// exitErr is written by wait before read sees end of stream.
	exitErr error
}

// Start spawns the child described by spec. All streams are captured before
// the process starts; on any failure nothing is retained and the error carries
// ERR_301_SPAWN_FAILED.
//
// The child is not bound to ctx. Callers stop it with Kill.
func Start(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if spec.Path == "" {
		return nil, cberrors.New(cberrors.ErrCodeSpawnFailed, "executable path is empty", nil)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	}
	// Descendants may inherit stdout and keep it open after the child is gone.
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	p := &Process{
		cmd:   cmd,
		lines: make(chan string, lineBuffer),
		done:  make(chan struct{}),
		stop:  make(chan struct{}),
	}

	if spec.Stdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, spawnError(spec.Path, err)
		}
		p.stdin = stdin
	}
	// exec copies stdout into pw, so WaitDelay can cut the copy short.
	stdout, pw := io.Pipe()
	cmd.Stdout = pw

	// exec closes the stdin pipe when Start fails.
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, spawnError(spec.Path, err)
	}

	go p.wait(pw)
	go p.read(stdout)
	return p, nil
}

func spawnError(path string, err error) error {
	return cberrors.New(cberrors.ErrCodeSpawnFailed,
		fmt.Sprintf("failed to start %s: %v", path, err), err).
		WithDetail("path", path)
}

// wait is the only caller of cmd.Wait. Closing pw ends read.
func (p *Process) wait(pw *io.PipeWriter) {
	err := p.cmd.Wait()
	if errors.Is(err, exec.ErrWaitDelay) {
		// The child exited cleanly; a descendant still held stdout.
		err = nil
	}
	p.exitErr = err
	_ = pw.Close()
}

// read is the only reader of stdout. It closes done after wait returned.
func (p *Process) read(stdout *io.PipeReader) {
	defer close(p.done)

	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			select {
			case p.lines <- protocol.NormalizeLine(line):
			case <-p.stop:
			}
		}
		if err != nil {
			break
		}
	}
	close(p.lines)
}

// Lines delivers normalized stdout lines. It closes at end of stream.
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Done closes once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Stopped closes when Kill is called.
func (p *Process) Stopped() <-chan struct{} {
	return p.stop
}

// Exited reports whether the child has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitErr is the result of cmd.Wait. Only meaningful after Done closes.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}

// Success reports a zero exit status that was not caused by Kill.
func (p *Process) Success() bool {
	return p.Exited() && p.exitErr == nil && !p.killed.Load()
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	return p.killed.Load()
}

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// WriteLine writes s and a newline to stdin. The pipe is unbuffered, so a nil
// return means the bytes reached the OS.
func (p *Process) WriteLine(s string) error {
	if p.stdin == nil {
		return errors.New("process has no stdin")
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if _, err := io.WriteString(p.stdin, s+"\n"); err != nil {
		return fmt.Errorf("write to child stdin: %w", err)
	}
	return nil
}

// Kill terminates the child. Repeated calls and calls after the child already
// exited are no-ops. It never returns an error.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		p.killed.Store(true)
		close(p.stop)

		if p.stdin != nil {
			p.writeMu.Lock()
			_ = p.stdin.Close()
			p.writeMu.Unlock()
		}
		if p.cmd.Process != nil && !p.Exited() {
			killTree(p.cmd.Process)
		}
	})
}

// Release waits up to timeout for the child to be reaped and reports whether it was.
// The reader goroutine keeps reaping after the bound passes.
func (p *Process) Release(timeout time.Duration) bool {
	if timeout <= 0 {
		return p.Exited()
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return true
	case <-t.C:
		return false
	}
}

// Shutdown kills the child and waits up to timeout for it to be reaped.
func (p *Process) Shutdown(timeout time.Duration) bool {
	p.Kill()
	return p.Release(timeout)
}
