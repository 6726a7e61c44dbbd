package ptysession

import (
	"errors"
	"os"
	"os/exec"
	"sync"
)

// ErrProcessBusy is returned by Kill when another caller holds the process lock.
var ErrProcessBusy = errors.New("process handle is busy")

// Process owns the spawned child. A reaper goroutine blocks in Wait so the
// child never lingers as a zombie; Done closes once it has been reaped.
type Process struct {
	mu       sync.Mutex
	proc     *os.Process
	done     chan struct{}
	exitCode int
	waitErr  error
}

func newProcess(cmd *exec.Cmd) *Process {
	p := &Process{proc: cmd.Process, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitCode = exitCodeOf(err)
		p.waitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func (p *Process) Pid() int {
	if p == nil || p.proc == nil {
		return 0
	}
	return p.proc.Pid
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// TryWait reports the exit code without blocking.
func (p *Process) TryWait() (int, bool) {
	select {
	case <-p.done:
	default:
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, true
}

// Kill never blocks on the handle lock; a contended handle yields ErrProcessBusy.
func (p *Process) Kill() error {
	if p == nil || p.proc == nil {
		return nil
	}
	if !p.mu.TryLock() {
		return ErrProcessBusy
	}
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// exitCodeOf maps a Wait result to 0 on success, the exit status when it is
// positive and 1 for signals or wait failures.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}
