// Package sandbox wraps one isolated execution context behind a small state
// machine. The isolation mechanism itself is a Driver.
package sandbox

import (
	"context"
	"errors"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/model"
)

var (
	ErrSandboxInit   = errors.New("sandbox init failed")
	ErrStage         = errors.New("stage source failed")
	ErrExecution     = errors.New("sandbox execution failed")
	ErrOutputMissing = errors.New("output missing")
	ErrHandleClosed  = errors.New("sandbox handle closed")
	ErrNotReady      = errors.New("sandbox handle not ready")
)

// Mode selects the privilege policy of a command. Build commands get the full
// environment, the network and unrestricted processes; run commands get none
// of them.
type Mode int

const (
	ModeBuild Mode = iota
	ModeRun
)

func (m Mode) String() string {
	if m == ModeBuild {
		return "build"
	}
	return "run"
}

// Command is one program execution inside the box. Redirect targets are
// relative to the box directory; empty means discarded.
type Command struct {
	Args           []string
	Mode           Mode
	Limits         model.Limitation
	Stdout         string
	Stderr         string
	StderrToStdout bool
}

// Result of a command that ran to completion, successfully or not.
type Result struct {
	Failed   bool
	ExitCode int
	// Status is the driver's short status code, e.g. RE, SG or TO.
	Status   string
	Message  string
	Time     time.Duration
	WallTime time.Duration
	Memory   int64
	// Output is the box-relative path of the captured stdout.
	Output string
}

// Driver is the capability a concrete isolation mechanism provides for one
// slot. Init resets the slot and returns the sandbox root; the box directory
// is <root>/box. Run returns an error only when the mechanism itself failed.
type Driver interface {
	SlotID() string
	Init(ctx context.Context) (string, error)
	Run(ctx context.Context, cmd Command) (Result, error)
	Cleanup(ctx context.Context) error
}
