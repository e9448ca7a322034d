//go:build linux

package rlimit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Apply installs c onto the already-started process pid via prlimit(2).
//
// Go's os/exec offers no safe hook to run arbitrary code between fork and
// exec (the runtime's own fork/exec path must stay async-signal-safe), so
// rlimits can't be set in the traditional pre-exec child hook a C-based
// sandbox would use. prlimit(2) is the standard workaround: it can target
// any process the caller has permission over, including one that has just
// been spawned, and the kernel enforces the new limits against the
// process's in-flight resource usage from that point on. The small race
// between Start() and Apply() means a pathological child could consume an
// unbounded amount of CPU/memory in the first few instructions after
// exec — acceptable for this core, whose Non-goals explicitly place the
// deeper seccomp/rlimit sandbox-construction layer out of scope and
// which relies on the relaxed ScriptLimitProfile for any code that
// isn't the program under judgement.
//
// A resource whose soft and hard values are both zero counts as unset and
// is left at the limit the child inherited.
func Apply(pid int, c Config) error {
	limits := []struct {
		resource int
		cur, max uint64
	}{
		{unix.RLIMIT_STACK, c.StackBytes, c.StackBytes},
		{unix.RLIMIT_AS, c.AddressSpace, c.AddressSpace},
		{unix.RLIMIT_CPU, c.CPUSoftSeconds, c.CPUHardSeconds},
		{unix.RLIMIT_NPROC, c.MaxProcesses, c.MaxProcesses},
		{unix.RLIMIT_FSIZE, c.FileSizeBytes, c.FileSizeBytes},
	}

	for _, l := range limits {
		if l.cur == 0 && l.max == 0 {
			continue
		}
		rlim := unix.Rlimit{Cur: l.cur, Max: l.max}
		if err := unix.Prlimit(pid, l.resource, &rlim, nil); err != nil {
			return fmt.Errorf("prlimit(pid=%d, resource=%d): %w", pid, l.resource, err)
		}
	}
	return nil
}
