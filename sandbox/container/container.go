// Package container runs sandboxed commands in runc libcontainer containers
// sharing one prepared rootfs. Each slot owns a directory on the host, outside
// the rootfs, and only its box is bind-mounted into the container.
package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
	"github.com/HeRaNO/sandbox-judge-worker/util"
	"github.com/google/uuid"
	"github.com/opencontainers/runc/libcontainer"
	"go.uber.org/zap"
)

// NewFactory creates the libcontainer factory. The binary must handle the
// "init" argument by calling StartInitialization.
func NewFactory(stateDir string) (libcontainer.Factory, error) {
	return libcontainer.New(stateDir, libcontainer.InitArgs(os.Args[0], initArg))
}

type Options struct {
	Factory    libcontainer.Factory
	RootfsPath string
	// SlotsDir holds the per-slot directories on the host.
	SlotsDir string
	// WorkDir is where the box is mounted inside the container.
	WorkDir  string
	WorkUser string
	BoxID    int
	Logger   *zap.Logger
}

type Driver struct {
	opts     Options
	slotName string
}

func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Driver{opts: opts, slotName: "slot-" + strconv.Itoa(opts.BoxID)}
}

func (d *Driver) SlotID() string {
	return d.slotName
}

// hostRoot is the sandbox root as seen from the host.
func (d *Driver) hostRoot() string {
	return filepath.Join(d.opts.SlotsDir, d.slotName)
}

func (d *Driver) hostBox() string {
	return filepath.Join(d.hostRoot(), config.BoxDirName)
}

// boxInContainer is the mount point of the box inside the container.
func (d *Driver) boxInContainer() string {
	return filepath.Join("/", d.opts.WorkDir)
}

func (d *Driver) Init(ctx context.Context) (string, error) {
	root := d.hostRoot()
	if err := os.RemoveAll(root); err != nil {
		return "", err
	}
	box := d.hostBox()
	if err := os.MkdirAll(box, 0755); err != nil {
		return "", err
	}
	// The work user has to be able to write build artifacts.
	if err := os.Chmod(box, 0777); err != nil {
		return "", err
	}
	return root, nil
}

func (d *Driver) Run(ctx context.Context, cmd sandbox.Command) (sandbox.Result, error) {
	id := uuid.NewString()
	conf := containerConfig(id, d.opts.RootfsPath, boxMount{host: d.hostBox(), target: d.boxInContainer()}, cmd.Mode, cmd.Limits)
	container, err := d.opts.Factory.Create(id, conf)
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		if err := container.Destroy(); err != nil {
			util.ErrorLog(d.opts.Logger, err, "container.Destroy()", zap.String("container", id))
		}
	}()

	box := d.hostBox()
	stdout, err := openRedirect(box, cmd.Stdout)
	if err != nil {
		return sandbox.Result{}, err
	}
	if stdout != nil {
		defer stdout.Close()
	}
	stderr := stdout
	if !cmd.StderrToStdout {
		if stderr, err = openRedirect(box, cmd.Stderr); err != nil {
			return sandbox.Result{}, err
		}
		if stderr != nil {
			defer stderr.Close()
		}
	}

	noNewPriv := true
	process := &libcontainer.Process{
		Args:            cmd.Args,
		Env:             config.DefaultEnv,
		User:            d.opts.WorkUser,
		Cwd:             d.boxInContainer(),
		NoNewPrivileges: &noNewPriv,
		Init:            true,
	}
	// Assigning a nil *os.File would leave a non-nil interface behind.
	if stdout != nil {
		process.Stdout = stdout
	}
	if stderr != nil {
		process.Stderr = stderr
	}

	wallLimit := cmd.Limits.WallTime
	if wallLimit <= 0 {
		wallLimit = cmd.Limits.Time
	}
	wallLimit += cmd.Limits.ExtraTime
	state, err := executeSingle(ctx, container, process, util.GetWallTimeLimit(int64(wallLimit)))
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("run container: %w", err)
	}
	return processToResult(state), nil
}

func (d *Driver) Cleanup(ctx context.Context) error {
	return os.RemoveAll(d.hostRoot())
}

func openRedirect(box, name string) (*os.File, error) {
	if name == "" {
		return nil, nil
	}
	return os.OpenFile(filepath.Join(box, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
}

func processToResult(state *processResult) sandbox.Result {
	ps := state.ProcessState
	res := sandbox.Result{
		ExitCode: ps.ExitCode(),
		Time:     ps.UserTime() + ps.SystemTime(),
	}
	if rusage, ok := ps.SysUsage().(*syscall.Rusage); ok {
		res.Memory = rusage.Maxrss * 1024
	}
	switch {
	case errors.Is(state.Err, config.ErrTLE):
		res.Failed, res.Status, res.Message = true, "TO", state.Err.Error()
	case errors.Is(state.Err, config.ErrOOM):
		res.Failed, res.Status, res.Message = true, "ML", state.Err.Error()
	case state.Err != nil:
		res.Failed, res.Status, res.Message = true, "XX", state.Err.Error()
	case !ps.Success():
		res.Failed = true
		if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			res.Status, res.Message = "SG", "caught fatal signal "+status.Signal().String()
		} else {
			res.Status, res.Message = "RE", "exited with error status "+strconv.Itoa(ps.ExitCode())
		}
	}
	return res
}

var _ sandbox.Driver = (*Driver)(nil)
