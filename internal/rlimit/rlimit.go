// Package rlimit models the resource caps applied to a sandboxed child
// applied to a sandboxed child and the relaxed profile used for trusted
// interactor/checker processes (the "script limit profile").
package rlimit

import "time"

// Config holds the resource caps applied to a sandboxed child: stack, address-space, CPU
// (soft+hard seconds), process-count, and file-size caps.
type Config struct {
	StackBytes      uint64 `json:"stack_bytes"`
	AddressSpace    uint64 `json:"address_space_bytes"`
	CPUSoftSeconds  uint64 `json:"cpu_soft_seconds"`
	CPUHardSeconds  uint64 `json:"cpu_hard_seconds"`
	MaxProcesses    uint64 `json:"max_processes"`
	FileSizeBytes   uint64 `json:"file_size_bytes"`
}

// CPULimitDuration returns the CPU soft limit as a time.Duration. This also
// functions as the wall-clock time-limit reference.
func (c Config) CPULimitDuration() time.Duration {
	return time.Duration(c.CPUSoftSeconds) * time.Second
}

// unrestricted is the sentinel rlimit value meaning "no cap" for counting
// resources such as file size and process count.
const unrestricted = ^uint64(0)

// ScriptLimitProfile returns the relaxed resource profile applied to the
// trusted interactor sandbox: large memory,
// long CPU budget, unrestricted file size — because the interactor is
// trusted code, not the program under judgement. The checker is run
// directly by internal/checker and gets no rlimits at all.
func ScriptLimitProfile() Config {
	return Config{
		StackBytes:     256 * 1024 * 1024,
		AddressSpace:   4 * 1024 * 1024 * 1024,
		CPUSoftSeconds: 60,
		CPUHardSeconds: 65,
		MaxProcesses:   64,
		FileSizeBytes:  unrestricted,
	}
}
