// Package judge implements the interactive judging core: the event loop
// that bridges a user sandbox and an interactor sandbox through the pipe
// fabric, and the verdict composer that turns the user's post-mortem (plus
// an optional checker stage) into a final JudgeResultInfo.
package judge

import (
	"fmt"
	"time"
)

// JudgeVerdict is the closed set of outcomes a judging run can produce.
type JudgeVerdict int

const (
	Accepted JudgeVerdict = iota
	WrongAnswer
	TimeLimitExceeded
	IdlenessLimitExceeded
	RuntimeError
	PartialScore
	SystemError
)

func (v JudgeVerdict) String() string {
	switch v {
	case Accepted:
		return "Accepted"
	case WrongAnswer:
		return "WrongAnswer"
	case TimeLimitExceeded:
		return "TimeLimitExceeded"
	case IdlenessLimitExceeded:
		return "IdlenessLimitExceeded"
	case RuntimeError:
		return "RuntimeError"
	case PartialScore:
		return "PartialScore"
	case SystemError:
		return "SystemError"
	default:
		return fmt.Sprintf("JudgeVerdict(%d)", int(v))
	}
}

// ResultInfo is the final record a judging run produces.
type ResultInfo struct {
	Verdict           JudgeVerdict  `json:"verdict"`
	TimeUsage         time.Duration `json:"time_usage"`
	MemoryUsageBytes  int64         `json:"memory_usage_bytes"`
	ExitStatus        int           `json:"exit_status"`
	CheckerExitStatus int           `json:"checker_exit_status"`
}
