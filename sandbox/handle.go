package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/model"
)

type State int

const (
	Uninitialized State = iota
	Ready
	Executing
	TornDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Executing:
		return "executing"
	case TornDown:
		return "torn down"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handle is one task's use of a slot.
type Handle struct {
	mu     sync.Mutex
	slot   *Slot
	state  State
	boxDir string
}

// SlotID names the isolation instance the handle is bound to.
func (h *Handle) SlotID() string {
	return h.slot.ID()
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// BoxDir is the host path of the box directory, valid while Ready.
func (h *Handle) BoxDir() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boxDir
}

// Init resets the slot to a fresh box. Calling it on a Ready handle cleans
// the previous box up first.
func (h *Handle) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case TornDown:
		return ErrHandleClosed
	case Executing:
		return fmt.Errorf("%w: %s", ErrNotReady, h.state)
	case Ready:
		h.state = Uninitialized
		h.boxDir = ""
		if err := h.slot.driver.Cleanup(ctx); err != nil {
			return fmt.Errorf("%w: reset: %w", ErrSandboxInit, err)
		}
	}
	root, err := h.slot.driver.Init(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSandboxInit, err)
	}
	h.boxDir = filepath.Join(root, config.BoxDirName)
	h.state = Ready
	return nil
}

// StageSource writes content into the box as fileName.
func (h *Handle) StageSource(fileName, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ready(); err != nil {
		return err
	}
	p, err := h.boxPath(fileName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStage, err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: %w", ErrStage, err)
	}
	return nil
}

// Execute runs args in the box under the policy of mode. Run mode captures
// stdout in config.OutputFileName and stderr in config.RunErrFileName; build
// mode captures both in config.BuildLogFileName.
func (h *Handle) Execute(ctx context.Context, args []string, mode Mode, limits model.Limitation) (Result, error) {
	h.mu.Lock()
	if err := h.ready(); err != nil {
		h.mu.Unlock()
		return Result{}, err
	}
	if len(args) == 0 {
		h.mu.Unlock()
		return Result{}, fmt.Errorf("%w: empty command", ErrExecution)
	}
	h.state = Executing
	h.mu.Unlock()

	cmd := Command{Args: args, Mode: mode, Limits: limits}
	if mode == ModeRun {
		cmd.Stdout = config.OutputFileName
		cmd.Stderr = config.RunErrFileName
	} else {
		cmd.Stdout = config.BuildLogFileName
		cmd.StderrToStdout = true
	}
	result, err := h.slot.driver.Run(ctx, cmd)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Executing {
		h.state = Ready
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	result.Output = cmd.Stdout
	return result, nil
}

// ReadOutput reads at most limit bytes of a regular file from the box and
// reports how many bytes past limit were left unread. Anything else the
// sandboxed program may have left under that name, such as a symlink, is
// refused.
func (h *Handle) ReadOutput(path string, limit int64) ([]byte, int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.ready(); err != nil {
		return nil, 0, err
	}
	p, err := h.boxPath(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrOutputMissing, err)
	}
	f, err := os.OpenFile(p, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_NONBLOCK, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, fmt.Errorf("%w: %s", ErrOutputMissing, path)
	}
	if errors.Is(err, syscall.ELOOP) {
		return nil, 0, fmt.Errorf("%w: %s is a symlink", ErrOutputMissing, path)
	}
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	if !fi.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", ErrOutputMissing, path)
	}
	b, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, 0, err
	}
	omitted := fi.Size() - int64(len(b))
	if omitted < 0 {
		omitted = 0
	}
	return b, omitted, nil
}

// Teardown cleans the slot up and releases it. Only the first call does
// anything; the handle is unusable afterwards.
func (h *Handle) Teardown(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == TornDown {
		return nil
	}
	err := h.slot.driver.Cleanup(ctx)
	h.state = TornDown
	h.boxDir = ""
	h.slot.release()
	if err != nil {
		return fmt.Errorf("cleanup slot %s: %w", h.slot.ID(), err)
	}
	return nil
}

func (h *Handle) ready() error {
	switch h.state {
	case Ready:
		return nil
	case TornDown:
		return ErrHandleClosed
	}
	return fmt.Errorf("%w: %s", ErrNotReady, h.state)
}

func (h *Handle) boxPath(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%q is outside the box", name)
	}
	return filepath.Join(h.boxDir, name), nil
}
