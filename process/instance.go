package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Instance is one running application process bound to a suite.
type Instance struct {
	SuiteID     string
	Port        int
	URL         string
	DatabaseURL string
	StartedAt   time.Time

	cmd        *exec.Cmd
	stderr     *ringBuffer
	recent     *ringBuffer
	exited     chan struct{}
	removeOnce sync.Once

	mu           sync.Mutex
	state        State
	crashedFrom  State
	exitCode     int
	exitSignal   string
	onTransition func(from, to State)
}

func newInstance(req StartRequest, url string, stderrLines int) *Instance {
	return &Instance{
		SuiteID:     req.SuiteID,
		Port:        req.Port,
		URL:         url,
		DatabaseURL: req.DatabaseURL,
		StartedAt:   time.Now(),
		stderr:      newRingBuffer(stderrLines),
		recent:      newRingBuffer(stderrLines),
		exited:      make(chan struct{}),
		state:       StateStarting,
		exitCode:    -1,
	}
}

// PID returns the process id, or 0 before the process was spawned.
func (i *Instance) PID() int {
	if i.cmd == nil || i.cmd.Process == nil {
		return 0
	}
	return i.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// CrashedFrom returns the state the instance was in when it crashed.
// ok is false if the instance has not crashed.
func (i *Instance) CrashedFrom() (from State, ok bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.crashedFrom, i.state == StateCrashed
}

// Exited is closed once the process has exited and its output is drained.
func (i *Instance) Exited() <-chan struct{} {
	return i.exited
}

// HasExited reports whether the process has exited.
func (i *Instance) HasExited() bool {
	select {
	case <-i.exited:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 if the process is running or was
// killed by a signal.
func (i *Instance) ExitCode() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitCode
}

// ExitSignal returns the signal that terminated the process, if any.
func (i *Instance) ExitSignal() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitSignal
}

// StderrTail returns the most recent stderr lines, oldest first.
func (i *Instance) StderrTail() []string {
	return i.stderr.Lines()
}

// RecentOutput returns the most recent lines from both streams, oldest first.
func (i *Instance) RecentOutput() []string {
	return i.recent.Lines()
}

func (i *Instance) exitStatus() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.exitSignal != "" {
		return "signal " + i.exitSignal
	}
	return fmt.Sprintf("exit code %d", i.exitCode)
}

// transition moves the instance to state to if the move is valid.
func (i *Instance) transition(to State) bool {
	i.mu.Lock()
	from, ok := i.transitionLocked(to)
	notify := i.onTransition
	i.mu.Unlock()

	if ok && notify != nil {
		notify(from, to)
	}
	return ok
}

// transitionLocked is transition with i.mu held.
func (i *Instance) transitionLocked(to State) (from State, ok bool) {
	from = i.state
	if !CanTransition(from, to) {
		return from, false
	}
	i.state = to
	if to == StateCrashed {
		i.crashedFrom = from
	}
	return from, true
}

// markExited records the exit status and moves to stopped or crashed. The
// target is chosen and applied under one lock so a concurrent stop cannot
// slip in between.
func (i *Instance) markExited(ps *os.ProcessState) (from, to State) {
	i.mu.Lock()
	if ps != nil {
		i.exitCode = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			i.exitSignal = ws.Signal().String()
		}
	}
	to = StateCrashed
	if i.state == StateStopping {
		to = StateStopped
	}
	from, ok := i.transitionLocked(to)
	if !ok {
		to = from
	}
	notify := i.onTransition
	i.mu.Unlock()

	if ok && notify != nil {
		notify(from, to)
	}
	close(i.exited)
	return from, to
}

// signal sends sig to the instance's process group.
func (i *Instance) signal(sig syscall.Signal) error {
	pid := i.PID()
	if pid == 0 || i.HasExited() {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}
