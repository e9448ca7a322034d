package judge

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"

	"github.com/ocbridge/judge-core/internal/checker"
	"github.com/ocbridge/judge-core/internal/config"
	"github.com/ocbridge/judge-core/internal/listener"
)

// preliminaryVerdict inspects the user's post-mortem before any checker
// runs: a CPU-time overrun always wins over a nonzero exit status, since a
// program can be killed for running too long and still report a
// misleading exit code.
func preliminaryVerdict(ctx context.Context, cfg *config.JudgeConfig, result listener.RunResult) (JudgeVerdict, bool) {
	if limit := cfg.Runtime.RlimitConfig.CPULimitDuration(); limit > 0 {
		info := result.ExitInfo()
		runTime := info.UserCPUTime + info.SysCPUTime
		if runTime > limit {
			log.G(ctx).WithField("run_time", runTime).WithField("limit", limit).Debug("user program exceeded cpu limit")
			return TimeLimitExceeded, true
		}
	}
	if result.ExitStatus != 0 {
		return RuntimeError, true
	}
	return 0, false
}

// composeVerdict is the verdict composer (component E): it turns the
// user's post-mortem into a final ResultInfo. The event loop always waits
// for both exit reports, so userResult is nil only when the user's report
// carried no option_run_result (the sandbox could not reap the child) or
// when RunInteractive passes nil after a wall-clock force-kill.
// userResult == nil means idleness is imputed.
func composeVerdict(ctx context.Context, cfg *config.JudgeConfig, userResult *listener.RunResult) (ResultInfo, error) {
	if userResult == nil {
		return ResultInfo{Verdict: IdlenessLimitExceeded}, nil
	}

	info := userResult.ExitInfo()
	if verdict, ok := preliminaryVerdict(ctx, cfg, *userResult); ok {
		return ResultInfo{
			Verdict:          verdict,
			TimeUsage:        info.RealTimeCost,
			MemoryUsageBytes: info.MaxRSSBytes,
			ExitStatus:       info.ExitStatus,
		}, nil
	}

	if cfg.Checker.Executor == nil {
		return ResultInfo{}, fmt.Errorf("composing verdict: %w", errdefs.ErrFailedPrecondition)
	}

	checkerResult, err := checker.Run(cfg, cfg.TestData.InputFilePath, cfg.Program.OutputFilePath, cfg.TestData.AnswerFilePath)
	if err != nil {
		return ResultInfo{}, fmt.Errorf("running checker: %w", err)
	}

	accepted, wrongAnswer, systemError := checkerResult.NormalizedExitCode.Verdict()
	verdict := SystemError
	switch {
	case accepted:
		verdict = Accepted
	case wrongAnswer:
		verdict = WrongAnswer
	case systemError:
		verdict = SystemError
	}

	return ResultInfo{
		Verdict:           verdict,
		TimeUsage:         info.RealTimeCost,
		MemoryUsageBytes:  info.MaxRSSBytes,
		ExitStatus:        info.ExitStatus,
		CheckerExitStatus: int(checkerResult.NormalizedExitCode),
	}, nil
}
