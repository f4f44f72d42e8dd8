package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"spool/internal/services"
)

// State is the lifecycle of an encoder process handle.
type State int32

const (
	StateLive State = iota
	StateTerminating
	StateGone
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "live"
	case StateTerminating:
		return "terminating"
	default:
		return "gone"
	}
}

const (
	maxLineBytes = 1 << 20
	// killWait bounds how long Terminate waits after SIGKILL.
	killWait = 5 * time.Second
)

// Launcher starts encoder processes.
type Launcher struct {
	Binary string
	Args   ArgBuilder
}

// Process is a running encoder. It is owned by exactly one job.
type Process struct {
	cmd   *exec.Cmd
	pid   int
	state atomic.Int32
	done  chan struct{}

	exitCode int
	waitErr  error
}

// Start launches the encoder for inv. onLine receives every non-empty output
// line from a single goroutine, in order; it must not block on this Process.
// A start failure is tagged with services.ErrSpawnFailure.
func (l Launcher) Start(inv Invocation, onLine func(string)) (*Process, error) {
	binary := strings.TrimSpace(l.Binary)
	if binary == "" {
		return nil, services.Wrap(services.ErrSpawnFailure, "engine", "start", "engine binary not configured", nil)
	}
	return startProcess(binary, l.Args.Build(inv), onLine)
}

// Run starts binary with args and waits for it, returning the combined output
// and exit code. It is used for short-lived calls such as preset listing. The
// process is terminated when ctx ends or timeout (if positive) elapses.
func Run(ctx context.Context, binary string, args []string, timeout time.Duration) (string, int, error) {
	var out strings.Builder
	proc, err := startProcess(binary, args, func(line string) {
		out.WriteString(line)
		out.WriteByte('\n')
	})
	if err != nil {
		return "", -1, err
	}
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-proc.Done():
	case <-expired:
		_ = proc.Terminate(time.Second)
		return "", -1, services.Wrap(services.ErrTimeout, "engine", "run", fmt.Sprintf("%s did not finish within %s", binary, timeout), nil)
	case <-ctx.Done():
		_ = proc.Terminate(time.Second)
		return "", -1, ctx.Err()
	}
	code, err := proc.Wait()
	return out.String(), code, err
}

func startProcess(binary string, args []string, onLine func(string)) (*Process, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, services.Wrap(services.ErrSpawnFailure, "engine", "start", "create output pipe", err)
	}
	cmd.Stdout = writer
	cmd.Stderr = writer

	if err := cmd.Start(); err != nil {
		_ = reader.Close()
		_ = writer.Close()
		return nil, services.Wrap(services.ErrSpawnFailure, "engine", "start", "launch "+binary, err)
	}
	// The child holds its own copy; closing ours lets the reader see EOF.
	_ = writer.Close()

	p := &Process{
		cmd:      cmd,
		pid:      cmd.Process.Pid,
		done:     make(chan struct{}),
		exitCode: -1,
	}
	go p.pump(reader, onLine)
	return p, nil
}

func (p *Process) pump(reader *os.File, onLine func(string)) {
	defer close(p.done)

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	scanner.Split(ScanLinesOrCR)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || onLine == nil {
			continue
		}
		onLine(line)
	}
	if scanner.Err() != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, reader)
	}
	_ = reader.Close()

	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = fmt.Errorf("wait for encoder: %w", err)
	}
	p.state.Store(int32(StateGone))
}

// PID returns the OS process id (also the process group id).
func (p *Process) PID() int {
	return p.pid
}

// State reports the current lifecycle state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done is closed once the process has exited and all output was delivered.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits and returns its exit code. The code is
// -1 when the process was killed by a signal. A non-zero exit is not an error.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.waitErr
}

// Terminate sends SIGTERM to the process group, waits up to grace for exit,
// then sends SIGKILL. It is safe to call more than once and from multiple
// goroutines; only the first call signals.
func (p *Process) Terminate(grace time.Duration) error {
	if !p.state.CompareAndSwap(int32(StateLive), int32(StateTerminating)) {
		select {
		case <-p.done:
			return nil
		case <-time.After(grace + killWait):
			return fmt.Errorf("encoder pid %d did not exit", p.pid)
		}
	}

	if err := signalGroup(p.pid, unix.SIGTERM); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	if err := signalGroup(p.pid, unix.SIGKILL); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("encoder pid %d did not exit after SIGKILL", p.pid)
	}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := unix.Kill(-pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// Fall back to the leader if the group is gone but the pid is not.
	if err := unix.Kill(pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal encoder pid %d: %w", pid, err)
	}
	return nil
}
