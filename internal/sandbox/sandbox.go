//go:build linux

// Package sandbox spawns the user and interactor programs with their
// stdio dup'd onto the pipe fabric's child-facing ends, applies resource
// limits post-spawn, and reaps each child to produce the post-mortem
// (exit status, CPU/wall time, peak memory) the verdict composer needs.
//
// Sandbox construction proper — seccomp/BPF policy, filesystem isolation —
// is an external collaborator this package only invokes through an
// already-prepared Executor; this package covers only the pipe-binding,
// rlimit-application and spawn/reap dance.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/log"

	"github.com/ocbridge/judge-core/internal/executor"
	"github.com/ocbridge/judge-core/internal/rlimit"
	"github.com/ocbridge/judge-core/internal/timeouts"
)

// ExitInfo is the post-mortem of a single sandboxed child: everything the
// verdict composer needs to classify the run.
type ExitInfo struct {
	ExitStatus   int
	Signaled     bool
	Signal       syscall.Signal
	RealTimeCost time.Duration
	UserCPUTime  time.Duration
	SysCPUTime   time.Duration
	MaxRSSBytes  int64

	// Err is set instead of the above when the child could not be waited
	// on at all, e.g. the process table entry disappeared from under us.
	Err error
}

// Sandbox wraps a single spawned child: the process itself and the channel
// its reaper goroutine delivers ExitInfo on. The optional cgroup v2 memory
// accountant is handed straight to the reaper rather than kept here.
type Sandbox struct {
	id   string
	cmd  *exec.Cmd
	done chan ExitInfo

	mu    sync.Mutex
	start time.Time
}

// New constructs a Sandbox for ex without spawning it. stdin/stdout are the
// child-facing pipe fabric ends (plain *os.File so the runtime can dup2
// them directly); limits are applied to the process immediately after
// Start via rlimit.Apply.
func New(id string, ex executor.Executor, stdin, stdout *os.File) *Sandbox {
	argv := ex.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	return &Sandbox{id: id, cmd: cmd, done: make(chan ExitInfo, 1)}
}

// Spawn starts the child, applies limits, starts best-effort cgroup memory
// tracking, and launches the reaper goroutine. The returned channel
// receives exactly one ExitInfo once the child has been waited on.
func (s *Sandbox) Spawn(ctx context.Context, limits rlimit.Config, trackMemory bool) (<-chan ExitInfo, error) {
	s.mu.Lock()
	s.start = nowOrZero()
	s.mu.Unlock()

	if err := s.cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawning %s: %w", s.id, err)
	}

	pid := s.cmd.Process.Pid
	if err := rlimit.Apply(pid, limits); err != nil {
		log.G(ctx).WithError(err).WithField("sandbox", s.id).Warn("failed to apply rlimits to sandbox child")
	}

	var acct *memoryAccountant
	if trackMemory {
		var err error
		acct, err = newMemoryAccountant(ctx, s.id, pid)
		if err != nil {
			log.G(ctx).WithError(err).WithField("sandbox", s.id).Debug("cgroup memory accounting unavailable")
		}
	}

	go s.reap(ctx, acct)

	return s.done, nil
}

// Pid returns the spawned child's process ID. Only valid after Spawn.
func (s *Sandbox) Pid() int {
	if s.cmd.Process == nil {
		return -1
	}
	return s.cmd.Process.Pid
}

// Kill sends sig to the child's process group (the whole session started
// by Setsid), so a forked grandchild can't outlive its parent's demise.
func (s *Sandbox) Kill(sig syscall.Signal) error {
	if s.cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-s.cmd.Process.Pid, sig)
}

// reap blocks in wait4 for the child, samples peak memory from acct while
// waiting, and delivers the resulting ExitInfo on s.done.
func (s *Sandbox) reap(ctx context.Context, acct *memoryAccountant) {
	defer acct.close(ctx)

	var peak int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	if acct != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(timeouts.CgroupSampleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					if b, ok := acct.peakBytes(); ok && b > peak {
						peak = b
					}
				}
			}
		}()
	}

	var rusage syscall.Rusage
	var wstatus syscall.WaitStatus
	pid := s.cmd.Process.Pid
	wpid, err := syscall.Wait4(pid, &wstatus, 0, &rusage)
	close(stop)
	wg.Wait()

	info := ExitInfo{RealTimeCost: time.Since(s.start)}
	if err != nil || wpid != pid {
		info.Err = fmt.Errorf("wait4(%d): %w", pid, err)
		s.done <- info
		return
	}

	// ExitStatus carries the raw wait(2) status word, not the POSIX-shell
	// masked 0-255 value: a clean exit(N) leaves the signal-number bits
	// zero and the exit code in bits 8-15 (raw value N*256), so ExitStatus
	// is zero if and only if the child exited with status 0 and was never
	// signaled. A signal death always leaves the low bits nonzero, which
	// is what lets callers tell "killed" apart from "exited 0" without a
	// separate check against Signaled.
	info.ExitStatus = int(wstatus)
	if wstatus.Signaled() {
		info.Signaled = true
		info.Signal = wstatus.Signal()
	}

	info.UserCPUTime = time.Duration(rusage.Utime.Nano())
	info.SysCPUTime = time.Duration(rusage.Stime.Nano())
	info.MaxRSSBytes = rusage.Maxrss * 1024
	if peak > info.MaxRSSBytes {
		info.MaxRSSBytes = peak
	}

	s.done <- info
}

func nowOrZero() time.Time {
	return time.Now()
}
