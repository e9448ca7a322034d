//go:build linux

package judge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ocbridge/judge-core/internal/config"
	"github.com/ocbridge/judge-core/internal/executor"
)

// shExecutor builds an Executor that runs script under /bin/sh -c, with
// name occupying $0 so the interactor/checker argv contract (input,
// output, answer, ...) lands on $1, $2, $3, ... instead of being shifted
// into $0 the way a bare "sh -c script arg..." invocation would place it.
func shExecutor(script, name string) executor.Executor {
	return executor.Executor{Path: "/bin/sh", BaseArgs: []string{"-c", script, name}}
}

func baseJudgeConfig(t *testing.T, dir string) *config.JudgeConfig {
	t.Helper()
	t.Setenv("JUDGE_CORE_RUN_DIR", filepath.Join(dir, "run"))

	input := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(input, nil, 0o640); err != nil {
		t.Fatalf("writing input fixture: %v", err)
	}

	return &config.JudgeConfig{
		TestData: config.TestDataConfig{
			InputFilePath:  input,
			AnswerFilePath: filepath.Join(dir, "answer.txt"),
		},
		Program: config.ProgramConfig{
			OutputFilePath: filepath.Join(dir, "output.txt"),
		},
		WallClockTimeout: 5 * time.Second,
	}
}

const threeTurnUserScript = `
for i in 1 2 3; do
  read -r q || exit 1
  echo "ack:$q"
done
exit 0
`

// threeTurnInteractorScript sends three questions to the user program over
// its own stdout (proxied onto the user's stdin) and records each ack into
// the output file named by $2.
const threeTurnInteractorScript = `
output="$2"
: > "$output"
for i in 1 2 3; do
  echo "q$i"
  read -r ack || exit 1
  echo "$ack" >> "$output"
done
exit 0
`

const exactMatchCheckerScript = `
if diff -q "$2" "$3" >/dev/null 2>&1; then
  exit 0
else
  exit 1
fi
`

func TestRunInteractive_HappyPathIsAccepted(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor(threeTurnUserScript, "user")
	cfg.Checker.Executor = ptrExecutor(shExecutor(exactMatchCheckerScript, "checker"))

	want := "ack:q1\nack:q2\nack:q3\n"
	if err := os.WriteFile(cfg.TestData.AnswerFilePath, []byte(want), 0o640); err != nil {
		t.Fatalf("writing answer fixture: %v", err)
	}

	interactor := shExecutor(threeTurnInteractorScript, "interactor")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := RunInteractive(ctx, cfg, interactor, filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	if result.Verdict != Accepted {
		t.Fatalf("Verdict = %v, want Accepted (exit_status=%d, checker_exit_status=%d)", result.Verdict, result.ExitStatus, result.CheckerExitStatus)
	}

	got, err := os.ReadFile(cfg.Program.OutputFilePath)
	if err != nil {
		t.Fatalf("reading output file: %v", err)
	}
	if string(got) != want {
		t.Errorf("output file = %q, want %q", got, want)
	}
}

func TestRunInteractive_TranscriptRecordsBothDirections(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor(threeTurnUserScript, "user")
	cfg.Checker.Executor = ptrExecutor(shExecutor(exactMatchCheckerScript, "checker"))
	if err := os.WriteFile(cfg.TestData.AnswerFilePath, []byte("ack:q1\nack:q2\nack:q3\n"), 0o640); err != nil {
		t.Fatalf("writing answer fixture: %v", err)
	}

	interactor := shExecutor(threeTurnInteractorScript, "interactor")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	transcriptPath := filepath.Join(dir, "transcript.txt")
	if _, err := RunInteractive(ctx, cfg, interactor, transcriptPath); err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}

	transcript, err := os.ReadFile(transcriptPath)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	text := string(transcript)
	for _, want := range []string{"q1", "q2", "q3", "ack:q1", "ack:q2", "ack:q3"} {
		if !strings.Contains(text, want) {
			t.Errorf("transcript missing %q, got %q", want, text)
		}
	}
}

func TestRunInteractive_UserRuntimeErrorShortCircuitsChecker(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor("exit 7", "user")
	// No checker configured: if composeVerdict reached the checker stage
	// this would surface as an error, so a clean RuntimeError result here
	// proves preliminaryVerdict short-circuited before the checker ran.
	interactor := shExecutor("exit 0", "interactor")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := RunInteractive(ctx, cfg, interactor, filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	if result.Verdict != RuntimeError {
		t.Fatalf("Verdict = %v, want RuntimeError", result.Verdict)
	}
	// ExitStatus is the raw wait(2) status word: exit(7) lands at 7*256.
	if result.ExitStatus != 7*256 {
		t.Errorf("ExitStatus = %d, want %d", result.ExitStatus, 7*256)
	}
}

func TestRunInteractive_CheckerMismatchYieldsWrongAnswer(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor(threeTurnUserScript, "user")
	cfg.Checker.Executor = ptrExecutor(shExecutor(exactMatchCheckerScript, "checker"))
	// Answer deliberately disagrees with what threeTurnUserScript produces.
	if err := os.WriteFile(cfg.TestData.AnswerFilePath, []byte("nope\n"), 0o640); err != nil {
		t.Fatalf("writing answer fixture: %v", err)
	}

	interactor := shExecutor(threeTurnInteractorScript, "interactor")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := RunInteractive(ctx, cfg, interactor, filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	// exactMatchCheckerScript reports a mismatch via "exit 1", whose raw
	// wait(2) status (256) maps to WrongAnswer; see checker.Verdict.
	if result.Verdict != WrongAnswer {
		t.Fatalf("Verdict = %v, want WrongAnswer", result.Verdict)
	}
}

func TestRunInteractive_CheckerMalfunctionYieldsSystemError(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor(threeTurnUserScript, "user")
	cfg.Checker.Executor = ptrExecutor(shExecutor("exit 2", "checker"))
	if err := os.WriteFile(cfg.TestData.AnswerFilePath, []byte("ack:q1\nack:q2\nack:q3\n"), 0o640); err != nil {
		t.Fatalf("writing answer fixture: %v", err)
	}

	interactor := shExecutor(threeTurnInteractorScript, "interactor")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := RunInteractive(ctx, cfg, interactor, filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	// "exit 2" normalizes to raw status 512, neither 0 nor 256, so it lands
	// on the system-error branch.
	if result.Verdict != SystemError {
		t.Fatalf("Verdict = %v, want SystemError", result.Verdict)
	}
}

func ptrExecutor(e executor.Executor) *executor.Executor {
	return &e
}

// oneMiBEchoUserScript forwards exactly 1MiB of stdin straight back to
// stdout, one 1KiB block at a time (iflag=fullblock makes dd wait for a
// whole block instead of counting a short pipe read as one). Reading a
// fixed byte count rather than to EOF matters here: the proxy write end
// feeding this script's stdin is held open by the orchestrator until
// Fabric.Close(), well after this process exits, so an EOF-driven read
// would never terminate.
const oneMiBEchoUserScript = `dd bs=1024 count=1024 iflag=fullblock 2>/dev/null`

// oneMiBRoundTripInteractorScript sends a deterministic 1MiB payload to the
// user program in 1KiB chunks, reading each chunk's echo back before
// sending the next, and records whether everything sent matched everything
// echoed byte-for-byte.
const oneMiBRoundTripInteractorScript = `
output="$2"
chunk="$output.chunk"
sent="$output.sent"
head -c 1024 /dev/zero | tr '\0' 'A' > "$chunk"
: > "$sent"
: > "$output.echoed"
i=0
while [ "$i" -lt 1024 ]; do
  cat "$chunk"
  cat "$chunk" >> "$sent"
  dd bs=1024 count=1 iflag=fullblock >> "$output.echoed" 2>/dev/null
  i=$((i + 1))
done
if cmp -s "$sent" "$output.echoed"; then
  echo MATCH > "$output"
else
  echo MISMATCH > "$output"
fi
`

func TestRunInteractive_LargeBidirectionalTranscriptIsByteFaithful(t *testing.T) {
	dir := t.TempDir()
	cfg := baseJudgeConfig(t, dir)
	cfg.Program.Executor = shExecutor(oneMiBEchoUserScript, "user")
	cfg.Checker.Executor = ptrExecutor(shExecutor(exactMatchCheckerScript, "checker"))
	cfg.WallClockTimeout = 20 * time.Second
	if err := os.WriteFile(cfg.TestData.AnswerFilePath, []byte("MATCH\n"), 0o640); err != nil {
		t.Fatalf("writing answer fixture: %v", err)
	}

	interactor := shExecutor(oneMiBRoundTripInteractorScript, "interactor")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transcriptPath := filepath.Join(dir, "transcript.txt")
	result, err := RunInteractive(ctx, cfg, interactor, transcriptPath)
	if err != nil {
		t.Fatalf("RunInteractive() error = %v", err)
	}
	if result.Verdict != Accepted {
		t.Fatalf("Verdict = %v, want Accepted (exit_status=%d, checker_exit_status=%d)", result.Verdict, result.ExitStatus, result.CheckerExitStatus)
	}

	info, err := os.Stat(transcriptPath)
	if err != nil {
		t.Fatalf("stat transcript: %v", err)
	}
	// Both directions carry the full 1MiB payload, so the transcript (which
	// records every byte crossing the proxy in either direction) should be
	// at least 2MiB.
	if info.Size() < 2*1048576 {
		t.Errorf("transcript size = %d, want at least %d", info.Size(), 2*1048576)
	}
}
