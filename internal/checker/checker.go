//go:build linux

// Package checker runs the external checker stage of the verdict composer
// and normalizes its exit status onto the judge core's closed verdict set.
//
// When a config declares no checker executable at all, Run returns
// a system error (the external checker is a required collaborator for that
// case). Default is a separate, pure-Go fallback comparator for callers
// that explicitly opt into "no external checker, compare the two files
// directly" rather than configuring one — not something the verdict
// composer reaches for silently.
package checker

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/containerd/errdefs"

	"github.com/ocbridge/judge-core/internal/config"
)

// NormalizedExitCode carries a checker's raw wait(2) status word, not the
// POSIX-shell-masked 0-255 "$?" value: a clean exit(N) produces raw status
// N*256, so a plain "exit 1" normalizes to 256 rather than 1. Collapsing
// through the shell's 8-bit view would make the 256 == WrongAnswer
// convention below unreachable for any checker that signals WA the usual
// way, via exit(1).
type NormalizedExitCode int

// Verdict classifies a checker's normalized exit code against the
// convention used throughout the pack's contest-judging tooling: 0 means
// the answer was accepted, 256 means it disagreed (wrong answer), and
// anything else means the checker itself malfunctioned.
func (c NormalizedExitCode) Verdict() (accepted, wrongAnswer bool, systemError bool) {
	switch int(c) {
	case 0:
		return true, false, false
	case 256:
		return false, true, false
	default:
		return false, false, true
	}
}

// Result is what Run reports back to the verdict composer.
type Result struct {
	NormalizedExitCode NormalizedExitCode
}

// Run spawns cfg.Checker.Executor with the interactor argv contract plus
// the check-file path, waits for it, and normalizes its exit status. It
// returns an errdefs.ErrFailedPrecondition-wrapped error if no checker
// executable is configured; callers that want the Default fallback must
// check cfg.Checker.Executor themselves before calling Run.
func Run(cfg *config.JudgeConfig, inputPath, userOutputPath, answerPath string) (Result, error) {
	if cfg.Checker.Executor == nil {
		return Result{}, fmt.Errorf("no checker executable configured: %w", errdefs.ErrFailedPrecondition)
	}

	ex := cfg.Checker.Executor.WithAdditionalArgs(inputPath, userOutputPath, answerPath, cfg.Checker.CheckFilePath)
	argv := ex.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Result{NormalizedExitCode: NormalizedExitCode(normalizeWaitStatus(exitErr))}, nil
		}
		return Result{}, fmt.Errorf("running checker %s: %w", ex.Path, err)
	}

	return Result{NormalizedExitCode: 0}, nil
}

func normalizeWaitStatus(exitErr *exec.ExitError) int {
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return -1
	}
	return int(ws)
}

// Default is a pure-Go fallback comparator used only when a config
// explicitly has no checker executable and the caller opts into this
// default rather than treating the run as a system error: a trimmed,
// line-by-line comparison of the user's output against the answer file.
func Default(userOutputPath, answerPath string) (bool, error) {
	got, err := openLineReader(userOutputPath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", userOutputPath, err)
	}
	defer got.file.Close()

	want, err := openLineReader(answerPath)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", answerPath, err)
	}
	defer want.file.Close()

	for {
		gotLine, gotOK := got.next()
		wantLine, wantOK := want.next()
		if !gotOK && !wantOK {
			return true, nil
		}
		if gotOK != wantOK {
			return false, nil
		}
		if strings.TrimRight(gotLine, " \t\r\n") != strings.TrimRight(wantLine, " \t\r\n") {
			return false, nil
		}
	}
}

type lineReader struct {
	file    *os.File
	scanner *bufio.Scanner
}

func openLineReader(path string) (*lineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &lineReader{file: f, scanner: bufio.NewScanner(f)}, nil
}

func (r *lineReader) next() (string, bool) {
	if r.scanner.Scan() {
		return r.scanner.Text(), true
	}
	return "", false
}
