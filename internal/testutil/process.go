package testutil

import (
	"os/exec"
	"sync"
	"testing"
)

// Sleeper is a real child process standing in for a target application.
//
// The process is reaped by a background goroutine, so once it is killed it
// disappears from the process table instead of lingering as a zombie.
type Sleeper struct {
	cmd    *exec.Cmd
	exited chan struct{}
	once   sync.Once
}

// StartSleeper starts `sleep 60` and registers a cleanup that kills it.
func StartSleeper(t testing.TB) *Sleeper {
	t.Helper()

	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleeper: %v", err)
	}

	s := &Sleeper{cmd: cmd, exited: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(s.exited)
	}()
	t.Cleanup(s.Kill)
	return s
}

// PID returns the child's process id.
func (s *Sleeper) PID() int {
	return s.cmd.Process.Pid
}

// Kill terminates the child and waits until it has been reaped.
// Safe to call more than once.
func (s *Sleeper) Kill() {
	s.once.Do(func() {
		_ = s.cmd.Process.Kill()
	})
	<-s.exited
}

// Exited reports whether the child has been reaped.
func (s *Sleeper) Exited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}
