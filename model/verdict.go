package model

import (
	"fmt"
	"time"
)

type Status int8

const (
	Passed Status = iota
	Failed
	BuildError
	RunError
	InternalError
)

var statusNames = [...]string{
	Passed:        "passed",
	Failed:        "failed",
	BuildError:    "build_error",
	RunError:      "run_error",
	InternalError: "internal_error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int8(s))
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown status %d", int8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Verdict is the single terminal outcome of one task.
type Verdict struct {
	TaskID      string        `json:"task_id,omitempty"`
	Environment string        `json:"environment"`
	Status      Status        `json:"status"`
	Detail      string        `json:"detail,omitempty"`
	Omitted     int64         `json:"omitted,omitempty"`
	Duration    time.Duration `json:"duration"`
	// Usage is set once the build failed or the run finished.
	Usage *Usage `json:"usage,omitempty"`
}

// Usage is what the sandbox measured for the last command of a task.
type Usage struct {
	Time     time.Duration `json:"time"`
	WallTime time.Duration `json:"wall_time"`
	Memory   int64         `json:"memory"`
	ExitCode int           `json:"exit_code"`
	// Status is the sandbox's short status code (RE, SG, TO, ...), empty on success.
	Status string `json:"sandbox_status,omitempty"`
}

// Completed reports whether the pipeline itself ran to a judgement.
func (v Verdict) Completed() bool {
	return v.Status != InternalError
}
