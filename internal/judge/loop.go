//go:build linux

package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"golang.org/x/sys/unix"

	"github.com/ocbridge/judge-core/internal/config"
	"github.com/ocbridge/judge-core/internal/executor"
	"github.com/ocbridge/judge-core/internal/listener"
	"github.com/ocbridge/judge-core/internal/paths"
	"github.com/ocbridge/judge-core/internal/pipefabric"
	"github.com/ocbridge/judge-core/internal/rlimit"
	"github.com/ocbridge/judge-core/internal/sandbox"
	"github.com/ocbridge/judge-core/internal/timeouts"
)

const (
	userExitID       = 41
	interactorExitID = 42
)

// RunInteractive is the core's single entry point: given a config, a
// ready-to-spawn interactor executor, and an output transcript path, it
// wires the pipe fabric, spawns both sandboxes, drives the event loop to
// completion, and composes the final verdict.
func RunInteractive(ctx context.Context, cfg *config.JudgeConfig, interactorExecutor executor.Executor, outputPath string) (*ResultInfo, error) {
	runID := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	fab, err := pipefabric.New(ctx, paths.RunScratchDir(runID))
	if err != nil {
		return nil, fmt.Errorf("building pipe fabric: %w: %w", errdefs.ErrUnknown, err)
	}
	defer fab.Close()

	transcript, err := createTranscript(outputPath)
	if err != nil {
		return nil, fmt.Errorf("creating transcript %s: %w: %w", outputPath, errdefs.ErrUnknown, err)
	}
	defer transcript.Close()

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("creating epoll instance: %w: %w", errdefs.ErrUnknown, err)
	}
	defer unix.Close(epfd)

	descriptors, err := newRegisteredDescriptors(epfd, fab)
	if err != nil {
		return nil, fmt.Errorf("registering descriptors with epoll: %w: %w", errdefs.ErrUnknown, err)
	}

	userListener := listener.New(userExitID, fab.UserExitWrite)
	interactorListener := listener.New(interactorExitID, fab.InteractorExitWrite)

	userSandbox := sandbox.New("user", cfg.Program.Executor, fab.UserStdin, fab.UserStdout)
	userDone, err := userSandbox.Spawn(ctx, cfg.Runtime.RlimitConfig, true)
	if err != nil {
		return nil, fmt.Errorf("spawning user sandbox: %w: %w", errdefs.ErrUnknown, err)
	}
	go reportExit(ctx, "user", userListener, userDone)

	interactArgs := []string{cfg.TestData.InputFilePath, cfg.Program.OutputFilePath, cfg.TestData.AnswerFilePath}
	interactorExecutor = interactorExecutor.WithAdditionalArgs(interactArgs...)
	interactorSandbox := sandbox.New("interactor", interactorExecutor, fab.InteractorStdin, fab.InteractorStdout)
	interactorDone, err := interactorSandbox.Spawn(ctx, rlimit.ScriptLimitProfile(), false)
	if err != nil {
		return nil, fmt.Errorf("spawning interactor sandbox: %w: %w", errdefs.ErrUnknown, err)
	}
	go reportExit(ctx, "interactor", interactorListener, interactorDone)

	var wallClockExpired atomic.Bool
	if cfg.WallClockTimeout > 0 {
		timer := time.AfterFunc(cfg.WallClockTimeout, func() {
			wallClockExpired.Store(true)
			log.G(ctx).Warn("wall clock timeout reached, force-killing both sandboxes")
			userSandbox.Kill(syscall.SIGTERM)
			interactorSandbox.Kill(syscall.SIGTERM)
			time.AfterFunc(timeouts.KillGracePeriod, func() {
				userSandbox.Kill(syscall.SIGKILL)
				interactorSandbox.Kill(syscall.SIGKILL)
			})
		})
		defer timer.Stop()
	}

	userResult, err := runEventLoop(ctx, epfd, fab, descriptors, transcript)
	if err != nil {
		log.G(ctx).WithError(err).Error("event loop failed")
		return &ResultInfo{Verdict: SystemError}, nil
	}

	// A wall-clock force-kill resolves the run as idleness, whatever the
	// killed user program's own post-mortem says.
	if wallClockExpired.Load() {
		return composeVerdictResult(ctx, cfg, nil)
	}

	return composeVerdictResult(ctx, cfg, userResult)
}

func reportExit(ctx context.Context, side string, l *listener.Listener, done <-chan sandbox.ExitInfo) {
	if err := l.Report(ctx, done); err != nil {
		log.G(ctx).WithError(err).WithField("side", side).Error("failed to write exit report")
	}
}

func composeVerdictResult(ctx context.Context, cfg *config.JudgeConfig, userResult *listener.RunResult) (*ResultInfo, error) {
	info, err := composeVerdict(ctx, cfg, userResult)
	if err != nil {
		log.G(ctx).WithError(err).Error("composing verdict")
		return &ResultInfo{Verdict: SystemError}, nil
	}
	return &info, nil
}

func createTranscript(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
}

// registeredDescriptors maps each monitored raw fd back to the os.File it
// was retrieved from, so an epoll event (carrying only the fd) can be
// dispatched to the right pump/drain handler.
type registeredDescriptors struct {
	proxyReadUser       int
	proxyReadInteractor int
	userExitRead        int
	interactorExitRead  int
}

func newRegisteredDescriptors(epfd int, fab *pipefabric.Fabric) (*registeredDescriptors, error) {
	d := &registeredDescriptors{}
	var err error
	if d.proxyReadUser, err = rawFd(fab.ProxyReadUser); err != nil {
		return nil, err
	}
	if d.proxyReadInteractor, err = rawFd(fab.ProxyReadInteractor); err != nil {
		return nil, err
	}
	if d.userExitRead, err = rawFd(fab.UserExitRead); err != nil {
		return nil, err
	}
	if d.interactorExitRead, err = rawFd(fab.InteractorExitRead); err != nil {
		return nil, err
	}

	for _, fd := range []int{d.proxyReadUser, d.proxyReadInteractor, d.userExitRead, d.interactorExitRead} {
		event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return nil, fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
		}
	}
	return d, nil
}

// rawFd recovers the integer file descriptor behind f without flipping it
// into blocking mode the way f.Fd() would: os.File.Fd() is documented to
// hand the descriptor back in blocking mode when the runtime poller had it
// registered non-blocking, which would break the manual non-blocking
// reads this loop depends on. SyscallConn's Control callback runs a raw
// syscall against the fd without touching that state.
func rawFd(f *os.File) (fd int, err error) {
	conn, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	ctrlErr := conn.Control(func(sysfd uintptr) {
		fd = int(sysfd)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// sysRead issues a raw, non-blocking read(2) against f's descriptor via
// SyscallConn, bypassing Go's internal/poll entirely so EAGAIN surfaces
// exactly as the event loop expects rather than being absorbed by the
// runtime's own (blocking-style) poller integration for pipes.
func sysRead(f *os.File, buf []byte) (n int, err error) {
	conn, connErr := f.SyscallConn()
	if connErr != nil {
		return 0, connErr
	}
	ctrlErr := conn.Control(func(sysfd uintptr) {
		n, err = unix.Read(int(sysfd), buf)
	})
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return n, err
}

func runEventLoop(ctx context.Context, epfd int, fab *pipefabric.Fabric, d *registeredDescriptors, transcript *os.File) (*listener.RunResult, error) {
	var userExited, interactorExited bool
	var userResult *listener.RunResult

	events := make([]unix.EpollEvent, 8)
	for !(userExited && interactorExited) {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case d.proxyReadUser:
				if err := pumpProxy(fab.ProxyReadUser, fab.ProxyWriteInteractor, transcript); err != nil {
					return nil, fmt.Errorf("pumping user->interactor: %w", err)
				}
			case d.proxyReadInteractor:
				if err := pumpProxy(fab.ProxyReadInteractor, fab.ProxyWriteUser, transcript); err != nil {
					return nil, fmt.Errorf("pumping interactor->user: %w", err)
				}
			case d.userExitRead:
				msg, err := drainExitMessage(fab.UserExitRead)
				if err != nil {
					return nil, fmt.Errorf("reading user exit report: %w", err)
				}
				userResult = msg.OptionRunResult
				userExited = true
				// The listener closed its write end after the one message, so
				// the level-triggered fd would keep reporting hang-up.
				if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
					return nil, fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
				}
			case d.interactorExitRead:
				if _, err := drainExitMessage(fab.InteractorExitRead); err != nil {
					return nil, fmt.Errorf("reading interactor exit report: %w", err)
				}
				interactorExited = true
				if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
					return nil, fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
				}
			}
		}
	}

	return userResult, nil
}

// pumpProxy drains from until it would block (or observes EOF, which is
// not distinguished from would-block here: the sending child closing its
// stdout before its exit message arrives must not terminate the loop),
// forwarding every byte read to both to and the transcript.
func pumpProxy(from *os.File, to io.Writer, transcript *os.File) error {
	buf := make([]byte, timeouts.PumpBufferSize)
	for {
		n, err := sysRead(from, buf)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := to.Write(buf[:n]); err != nil {
			return fmt.Errorf("forwarding %d bytes: %w", n, err)
		}
		if _, err := transcript.Write(buf[:n]); err != nil {
			return fmt.Errorf("writing %d bytes to transcript: %w", n, err)
		}
	}
}

// drainExitMessage accumulates bytes from an exit-report descriptor until
// it would block, then parses exactly one ProcessExitMessage. The message
// may arrive in multiple chunks.
func drainExitMessage(from *os.File) (*listener.ProcessExitMessage, error) {
	var buf []byte
	chunk := make([]byte, timeouts.PumpBufferSize)
	for {
		n, err := sysRead(from, chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}

	var msg listener.ProcessExitMessage
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("parsing exit report %q: %w: %w", buf, errdefs.ErrInvalidArgument, err)
	}
	return &msg, nil
}
