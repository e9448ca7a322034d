//go:build linux

package sandbox

import (
	"context"
	"fmt"

	cgroupsv2 "github.com/containerd/cgroups/v3/cgroup2"
	"github.com/containerd/log"
	"github.com/moby/sys/userns"
)

// memoryAccountant tracks the peak memory usage of a single sandboxed
// child via a dedicated cgroup v2 leaf, created per sandbox run and torn
// down when the child exits, since there is no existing container
// runtime cgroup to load stats from here.
//
// This is strictly best-effort: wait4's rusage already gives a usable
// max_rss, so any failure here just means ExitInfo falls back to that
// rather than the sampled cgroup v2 memory usage.
type memoryAccountant struct {
	manager *cgroupsv2.Manager
	group   string
}

// newMemoryAccountant creates a fresh cgroup v2 leaf for pid. Returns
// (nil, nil) — not an error — when cgroup accounting isn't usable, e.g.
// under an unprivileged user namespace.
func newMemoryAccountant(ctx context.Context, id string, pid int) (*memoryAccountant, error) {
	if userns.RunningInUserNS() {
		log.G(ctx).Debug("running in a user namespace, skipping cgroup v2 memory accounting")
		return nil, nil
	}

	group := fmt.Sprintf("/judge-core/%s", id)
	mgr, err := cgroupsv2.NewManager("/sys/fs/cgroup", group, &cgroupsv2.Resources{})
	if err != nil {
		log.G(ctx).WithError(err).Warn("failed to create cgroup v2 leaf, falling back to rusage accounting")
		return nil, nil
	}

	if err := mgr.AddProc(uint64(pid)); err != nil {
		log.G(ctx).WithError(err).Warn("failed to add sandbox pid to cgroup, falling back to rusage accounting")
		_ = mgr.Delete()
		return nil, nil
	}

	return &memoryAccountant{manager: mgr, group: group}, nil
}

// peakBytes returns the current memory.current reading for the cgroup, or
// ok=false if unavailable. Callers sample this on an interval and keep the
// running maximum (see reap in sandbox.go) since cgroup v2 does not expose a
// single "peak since creation" field through this library's stats.
func (a *memoryAccountant) peakBytes() (int64, bool) {
	if a == nil || a.manager == nil {
		return 0, false
	}
	m, err := a.manager.Stat()
	if err != nil || m.Memory == nil {
		return 0, false
	}
	return int64(m.Memory.Usage), true
}

// close tears down the cgroup leaf. Safe to call on a nil accountant.
func (a *memoryAccountant) close(ctx context.Context) {
	if a == nil || a.manager == nil {
		return
	}
	if err := a.manager.Delete(); err != nil {
		log.G(ctx).WithError(err).WithField("group", a.group).Debug("failed to delete cgroup v2 leaf")
	}
}
