// Package timeouts defines coordinated timing constants used by the event
// loop and the optional wall-clock safety extension. Changing any of these
// values requires understanding the relationship between them.
//
// Timeout Hierarchy (from inner to outer):
//
//	Pump:
//	  PumpBufferSize = 1KiB          // per-read chunk size
//
//	Wall-clock extension (opt-in, JudgeConfig.WallClockTimeout):
//	  KillGracePeriod = 2s           // SIGTERM -> SIGKILL grace after a
//	                                 // wall-clock timeout force-kills a
//	                                 // sandbox process group
//
// The core relies on the sandbox's CPU rlimit
// for runaway detection by default and does not arm an independent
// wall-clock; KillGracePeriod only matters when a caller opts into the
// allowed wall-clock extension.
package timeouts

import "time"

const (
	// PumpBufferSize is the fixed per-Read buffer size the event loop's
	// pump uses when draining a proxy or exit-report descriptor.
	//
	// Used in: internal/judge (pump, exit-report drain)
	PumpBufferSize = 1024

	// KillGracePeriod is how long the optional wall-clock extension waits
	// after SIGTERM before escalating to SIGKILL on a sandbox's process
	// group.
	//
	// Used in: internal/judge (wall-clock force-kill path)
	KillGracePeriod = 2 * time.Second

	// CgroupSampleInterval is how often the best-effort cgroup v2 memory
	// accounting goroutine samples memory.current to track peak RSS.
	//
	// Used in: internal/sandbox (cgroup accounting)
	CgroupSampleInterval = 50 * time.Millisecond
)
