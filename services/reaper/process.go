package reaper

import "golang.org/x/sys/unix"

// ProcessController delivers signals to build processes on this builder host.
type ProcessController interface {
	// Terminate sends the graceful termination signal. An error means the
	// process does not exist.
	Terminate(pid int) error
	// Kill sends the forceful termination signal.
	Kill(pid int) error
	// Alive probes whether the process still exists.
	Alive(pid int) bool
}

// UnixProcesses is the ProcessController for the local host.
type UnixProcesses struct{}

func (UnixProcesses) Terminate(pid int) error { return unix.Kill(pid, unix.SIGTERM) }

func (UnixProcesses) Kill(pid int) error { return unix.Kill(pid, unix.SIGKILL) }

// Alive sends the null signal, which performs existence and permission checks
// without delivering anything.
func (UnixProcesses) Alive(pid int) bool { return unix.Kill(pid, 0) == nil }
