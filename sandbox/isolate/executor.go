package isolate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// Executor runs the isolate binary. A nonzero exit status is reported through
// exitCode, not err.
type Executor interface {
	Execute(ctx context.Context, args []string) (stdout, stderr []byte, exitCode int, err error)
}

type execExecutor struct {
	bin string
}

func (e execExecutor) Execute(ctx context.Context, args []string) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, e.bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}
