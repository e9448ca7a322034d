// Package paths defines the on-disk layout used by the judge core: where
// per-run pipe fabrics are rooted and where transcripts and state live
// between runs.
package paths

import (
	"os"
	"path/filepath"
)

const (
	// RunDir is the default parent directory for per-run scratch state
	// (pipe fabrics, temporary FIFOs).
	RunDir = "/var/run/judge-core"

	// StateDir is the default directory for persistent judge-core state.
	StateDir = "/var/lib/judge-core"

	// LogDir is the default directory for judge-core logs.
	LogDir = "/var/log/judge-core"
)

// GetRunDir returns the run directory, checking the environment first.
func GetRunDir() string {
	if dir := os.Getenv("JUDGE_CORE_RUN_DIR"); dir != "" {
		return dir
	}
	return RunDir
}

// GetStateDir returns the state directory, checking the environment first.
func GetStateDir() string {
	if dir := os.Getenv("JUDGE_CORE_STATE_DIR"); dir != "" {
		return dir
	}
	return StateDir
}

// GetLogDir returns the log directory, checking the environment first.
func GetLogDir() string {
	if dir := os.Getenv("JUDGE_CORE_LOG_DIR"); dir != "" {
		return dir
	}
	return LogDir
}

// RunScratchDir returns the scratch directory for a single judging run,
// identified by runID. The pipe fabric creates its FIFOs under this
// directory.
func RunScratchDir(runID string) string {
	return filepath.Join(GetRunDir(), runID)
}

// TranscriptPath returns the default transcript file path for a run when
// the caller did not supply an explicit output path.
func TranscriptPath(runID string) string {
	return filepath.Join(GetStateDir(), "transcripts", runID+".txt")
}
