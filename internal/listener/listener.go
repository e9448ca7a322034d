//go:build linux

// Package listener implements the judge core's exit reporter: a
// per-child observer that, after its sandboxed child terminates,
// serializes a post-mortem and writes it as a single newline-terminated
// JSON line to an exit-report pipe, then closes the write end.
//
// The cyclic dependency a naive implementation would have — the listener
// needing the sandbox's result, the sandbox needing to call back into the
// listener — is avoided by message passing: the sandbox delivers its
// ExitInfo on a channel, and the listener's only job is turning that into
// bytes on a descriptor it owns. No shared mutable state between the two.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/fifo"
	"github.com/containerd/log"

	"github.com/ocbridge/judge-core/internal/sandbox"
)

// ResourceUsage is the resource-accounting portion of a post-mortem,
// matching the exit-report wire format's "resource_usage" object.
type ResourceUsage struct {
	UserTime   float64 `json:"user_time"`
	SystemTime float64 `json:"system_time"`
	MaxRSS     int64   `json:"max_rss"`
}

// RunResult is the wire representation of sandbox.ExitInfo carried inside
// a ProcessExitMessage's "option_run_result" field.
type RunResult struct {
	ExitStatus    int           `json:"exit_status"`
	Signaled      bool          `json:"signaled"`
	Signal        int           `json:"signal,omitempty"`
	RealTimeCost  float64       `json:"real_time_cost"`
	ResourceUsage ResourceUsage `json:"resource_usage"`
}

// ProcessExitMessage is the JSON envelope written to an exit-report pipe:
// an identifier byte plus an optional post-mortem. RunResult is nil when
// the sandbox could not reap the child (ExitInfo.Err set) — the identifier
// byte alone tells the event loop which side failed.
type ProcessExitMessage struct {
	ID              uint8      `json:"id"`
	OptionRunResult *RunResult `json:"option_run_result,omitempty"`
}

// Listener owns one exit-report pipe write end and an identifier byte.
// Preserved from the original design for multiplexed readers even though
// this core always gives each child its own exit-report pipe.
type Listener struct {
	id    uint8
	write *fifo.FIFO
}

// New wraps write as the exit-report channel for a child identified by id.
func New(id uint8, write *fifo.FIFO) *Listener {
	return &Listener{id: id, write: write}
}

// Report waits for exactly one ExitInfo on done (or ctx cancellation),
// serializes it into a ProcessExitMessage, writes it as a single
// newline-terminated JSON line, and closes the write end. This is the
// listener's entire lifecycle: one message, then done.
func (l *Listener) Report(ctx context.Context, done <-chan sandbox.ExitInfo) error {
	defer func() {
		if err := l.write.Close(); err != nil {
			log.G(ctx).WithError(err).WithField("listener", l.id).Debug("closing exit-report write end")
		}
	}()

	var info sandbox.ExitInfo
	select {
	case info = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	msg := ProcessExitMessage{ID: l.id}
	if info.Err == nil {
		msg.OptionRunResult = &RunResult{
			ExitStatus:   info.ExitStatus,
			Signaled:     info.Signaled,
			Signal:       int(info.Signal),
			RealTimeCost: info.RealTimeCost.Seconds(),
			ResourceUsage: ResourceUsage{
				UserTime:   info.UserCPUTime.Seconds(),
				SystemTime: info.SysCPUTime.Seconds(),
				MaxRSS:     info.MaxRSSBytes,
			},
		}
	}
	// info.Err != nil (the sandbox could not reap the child): OptionRunResult stays
	// nil, matching the wire format's "may be absent" case.

	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling exit report for listener %d: %w", l.id, err)
	}
	line = append(line, '\n')

	if _, err := l.write.Write(line); err != nil {
		return fmt.Errorf("writing exit report for listener %d: %w", l.id, err)
	}
	return nil
}

// ExitInfo recovers a sandbox.ExitInfo from a decoded RunResult for
// callers (the verdict composer) that want to reuse sandbox's duration
// helpers rather than work with raw float seconds.
func (r RunResult) ExitInfo() sandbox.ExitInfo {
	return sandbox.ExitInfo{
		ExitStatus:   r.ExitStatus,
		Signaled:     r.Signaled,
		Signal:       syscall.Signal(r.Signal),
		RealTimeCost: durationFromSeconds(r.RealTimeCost),
		UserCPUTime:  durationFromSeconds(r.ResourceUsage.UserTime),
		SysCPUTime:   durationFromSeconds(r.ResourceUsage.SystemTime),
		MaxRSSBytes:  r.ResourceUsage.MaxRSS,
	}
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
