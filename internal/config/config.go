// Package config loads and validates the JudgeConfig that drives a single
// interactive judging run. Compiling the user's program, constructing the
// language-specific Executor, and building the sandbox's seccomp/rlimit
// policy all remain external collaborators; this package only
// loads and sanity-checks the paths and limits that describe a run.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/ocbridge/judge-core/internal/executor"
	"github.com/ocbridge/judge-core/internal/rlimit"
)

// DefaultConfigPath is where judge-core looks for its JSON config when
// JUDGE_CORE_CONFIG is not set.
const DefaultConfigPath = "/etc/judge-core/config.json"

// ProgramConfig describes the already-compiled user program under judgement.
type ProgramConfig struct {
	Executor       executor.Executor `json:"executor"`
	OutputFilePath string            `json:"output_file_path"`
}

// TestDataConfig names the fixed files that feed a single run.
type TestDataConfig struct {
	InputFilePath  string `json:"input_file_path"`
	AnswerFilePath string `json:"answer_file_path"`
}

// CheckerConfig optionally names an external checker binary. A nil
// Executor means "no checker configured".
type CheckerConfig struct {
	Executor      *executor.Executor `json:"executor,omitempty"`
	CheckFilePath string              `json:"check_file_path"`
}

// RuntimeConfig bundles the resource limits applied to the user sandbox.
type RuntimeConfig struct {
	RlimitConfig rlimit.Config `json:"rlimit_config"`
}

// JudgeConfig is the immutable input to a single interactive judging run
// It is read, never mutated, by the core.
type JudgeConfig struct {
	Program    ProgramConfig  `json:"program"`
	TestData   TestDataConfig `json:"test_data"`
	Checker    CheckerConfig  `json:"checker"`
	Runtime    RuntimeConfig  `json:"runtime"`
	OutputPath string         `json:"output_path"`

	// WallClockTimeout is an optional safety extension: when
	// non-zero, a deadlocked pair is force-killed after this duration and the
	// run is resolved via the idleness-imputation path rather than relying
	// solely on the sandbox's CPU rlimit.
	WallClockTimeout time.Duration `json:"wall_clock_timeout,omitempty"`
}

// Get loads the config named by JUDGE_CORE_CONFIG, falling back to
// DefaultConfigPath.
func Get() (*JudgeConfig, error) {
	path := os.Getenv("JUDGE_CORE_CONFIG")
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(path)
}

// Load reads, parses, and validates a JudgeConfig from path.
func Load(path string) (*JudgeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, errdefs.ErrNotFound)
	}

	var cfg JudgeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w: %v", path, errdefs.ErrInvalidArgument, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.L.WithField("config", path).Debug("loaded judge-core configuration")
	return &cfg, nil
}

// Validate sanity-checks every path and limit named in the config. It
// canonicalizes paths before checking them so error messages (and any
// later logging) reflect the real, symlink-resolved location rather than a
// name an attacker-controlled config could use to mask a path-traversal
// attempt.
func (c *JudgeConfig) Validate() error {
	if err := validateExecutable(c.Program.Executor.Path, "program.executor.path"); err != nil {
		return err
	}
	if err := validateFileExists(c.TestData.InputFilePath, "test_data.input_file_path"); err != nil {
		return err
	}
	if err := validateFileExists(c.TestData.AnswerFilePath, "test_data.answer_file_path"); err != nil {
		return err
	}
	if err := ensureDirectoryWritable(filepath.Dir(c.Program.OutputFilePath), "program.output_file_path"); err != nil {
		return err
	}
	if err := ensureDirectoryWritable(filepath.Dir(c.OutputPath), "output_path"); err != nil {
		return err
	}
	if c.Checker.Executor != nil {
		if err := validateExecutable(c.Checker.Executor.Path, "checker.executor.path"); err != nil {
			return err
		}
	}
	if c.WallClockTimeout < 0 {
		return fmt.Errorf("wall_clock_timeout must not be negative: %w", errdefs.ErrInvalidArgument)
	}
	return nil
}

// canonicalizePath resolves path to an absolute, symlink-free form. It
// tolerates a path whose final component does not yet exist (the common
// case for an output file about to be created) by canonicalizing the
// deepest existing ancestor and re-appending the remaining components.
func canonicalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving absolute path for %s: %w", path, err)
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	// Walk up until we find an ancestor that exists, canonicalize it, and
	// re-append the missing suffix.
	var suffix []string
	dir := abs
	for {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the filesystem root without finding an existing
			// ancestor; fall back to the cleaned absolute path.
			return filepath.Clean(abs), nil
		}
		suffix = append(suffix, filepath.Base(dir))
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func validateFileExists(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !fileExists(canonical) {
		return fmt.Errorf("%s: %s does not exist: %w", field, canonical, errdefs.ErrNotFound)
	}
	return nil
}

func validateDirectoryExists(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !dirExists(canonical) {
		return fmt.Errorf("%s: %s is not a directory: %w", field, canonical, errdefs.ErrNotFound)
	}
	return nil
}

// ensureDirectoryWritable canonicalizes path and creates it (and any
// missing parents) if it does not already exist.
func ensureDirectoryWritable(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if dirExists(canonical) {
		return nil
	}
	if err := os.MkdirAll(canonical, 0o750); err != nil {
		return fmt.Errorf("%s: creating %s: %w", field, canonical, err)
	}
	return nil
}

func validateExecutable(path, field string) error {
	canonical, err := canonicalizePath(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	info, err := os.Stat(canonical)
	if err != nil {
		return fmt.Errorf("%s: %s: %w", field, canonical, errdefs.ErrNotFound)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: %s is a directory, not an executable: %w", field, canonical, errdefs.ErrInvalidArgument)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s: %s is not executable: %w", field, canonical, errdefs.ErrInvalidArgument)
	}
	return nil
}
