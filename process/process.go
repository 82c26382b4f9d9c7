// Package process wraps external backend processes (ffmpeg, ffplay) in a
// supervision-friendly primitive: start, observe exit through a channel,
// stop gracefully with escalation. Each handle is exclusively owned by
// one controller.
package process

import (
	"fmt"
	"io"
	"os/exec"
	"time"
)

// Spec describes an external process to launch.
type Spec struct {
	Name string
	Args []string

	// GracefulStdin, when non-empty, is written to the process stdin on
	// Stop before closing it. ffmpeg finalizes its output cleanly when it
	// reads "q".
	GracefulStdin []byte
}

// Handle is a running external process. Done delivers the exit result
// exactly once; a nil value means exit code zero.
type Handle interface {
	// Done reports process exit. The channel is closed after delivering
	// the result, so repeated receives are safe.
	Done() <-chan error

	// Stop requests a graceful shutdown and escalates to SIGKILL if the
	// process has not exited within the timeout. It is safe to call after
	// the process has already exited.
	Stop(timeout time.Duration) error

	// Kill terminates the process immediately.
	Kill() error
}

// Launcher starts external processes. The exec-backed implementation is
// used in production; tests substitute a mock.
type Launcher interface {
	Launch(spec Spec) (Handle, error)
}

// ExecLauncher launches real processes via os/exec.
type ExecLauncher struct{}

func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

func (l *ExecLauncher) Launch(spec Spec) (Handle, error) {
	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	var stdin io.WriteCloser
	if len(spec.GracefulStdin) > 0 {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open stdin pipe for %s: %w", spec.Name, err)
		}
		stdin = pipe
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Name, err)
	}

	h := &execHandle{
		cmd:           cmd,
		stdin:         stdin,
		gracefulStdin: spec.GracefulStdin,
		done:          make(chan error, 1),
	}

	go func() {
		h.done <- cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	cmd           *exec.Cmd
	stdin         io.WriteCloser
	gracefulStdin []byte
	done          chan error
}

func (h *execHandle) Done() <-chan error {
	return h.done
}

func (h *execHandle) Stop(timeout time.Duration) error {
	// Already exited?
	select {
	case <-h.done:
		return nil
	default:
	}

	if h.stdin != nil {
		// Ask the process to finish on its own terms first.
		h.stdin.Write(h.gracefulStdin)
		h.stdin.Close()
	} else if h.cmd.Process != nil {
		h.cmd.Process.Signal(stopSignal)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
	}

	// Escalate once via the termination signal for the stdin case, then
	// give it a short grace period before killing outright.
	if h.stdin != nil && h.cmd.Process != nil {
		h.cmd.Process.Signal(stopSignal)
		select {
		case <-h.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}

	if err := h.Kill(); err != nil {
		return err
	}
	<-h.done
	return nil
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if h.cmd.Process == nil {
		return nil
	}
	return h.cmd.Process.Kill()
}
