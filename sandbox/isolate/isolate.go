// Package isolate drives the isolate(1) sandbox as a sandbox.Driver.
package isolate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
	"go.uber.org/zap"
)

type Options struct {
	Bin     string
	BoxID   int
	Cgroups bool
	// MetaDir holds the meta file of the box; empty means os.TempDir().
	MetaDir  string
	Executor Executor
	Logger   *zap.Logger
}

type Driver struct {
	opts     Options
	metaFile string
}

func New(opts Options) *Driver {
	if opts.Bin == "" {
		opts.Bin = "isolate"
	}
	if opts.MetaDir == "" {
		opts.MetaDir = os.TempDir()
	}
	if opts.Executor == nil {
		opts.Executor = execExecutor{bin: opts.Bin}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Driver{
		opts:     opts,
		metaFile: filepath.Join(opts.MetaDir, fmt.Sprintf("isolate-box-%d.meta", opts.BoxID)),
	}
}

func (d *Driver) SlotID() string {
	return strconv.Itoa(d.opts.BoxID)
}

func (d *Driver) baseArgs() []string {
	args := []string{"--box-id=" + strconv.Itoa(d.opts.BoxID)}
	if d.opts.Cgroups {
		args = append(args, "--cg")
	}
	return args
}

// Init cleans up whatever a previous owner of the box left behind and
// initializes it again. isolate prints the sandbox root on success.
func (d *Driver) Init(ctx context.Context) (string, error) {
	if err := d.cleanup(ctx); err != nil {
		d.opts.Logger.Debug("cleanup before init", zap.String("box", d.SlotID()), zap.Error(err))
	}
	stdout, stderr, code, err := d.opts.Executor.Execute(ctx, append(d.baseArgs(), "--init"))
	if err != nil {
		return "", fmt.Errorf("isolate --init: %w", err)
	}
	if code != 0 {
		return "", fmt.Errorf("isolate --init exited with %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	root := strings.TrimSpace(string(stdout))
	if root == "" {
		return "", errors.New("isolate --init printed no sandbox root")
	}
	if err := os.MkdirAll(d.opts.MetaDir, 0755); err != nil {
		return "", err
	}
	return root, nil
}

func (d *Driver) Run(ctx context.Context, cmd sandbox.Command) (sandbox.Result, error) {
	if err := os.Remove(d.metaFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return sandbox.Result{}, err
	}
	args := d.runArgs(cmd)
	d.opts.Logger.Debug("isolate run", zap.Strings("args", args))
	_, stderr, code, err := d.opts.Executor.Execute(ctx, args)
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("isolate --run: %w", err)
	}
	if code != 0 && code != 1 {
		return sandbox.Result{}, fmt.Errorf("isolate --run exited with %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	meta, err := readMeta(d.metaFile)
	if err != nil {
		return sandbox.Result{}, fmt.Errorf("read meta file: %w", err)
	}
	if meta.Status == StatusInternalError {
		return sandbox.Result{}, fmt.Errorf("isolate internal error: %s", meta.Message)
	}
	return sandbox.Result{
		Failed:   code == 1,
		ExitCode: meta.ExitCode,
		Status:   meta.Status,
		Message:  meta.Message,
		Time:     meta.Time,
		WallTime: meta.WallTime,
		Memory:   meta.memory(),
	}, nil
}

func (d *Driver) Cleanup(ctx context.Context) error {
	err := d.cleanup(ctx)
	if rmErr := os.Remove(d.metaFile); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

func (d *Driver) cleanup(ctx context.Context) error {
	_, stderr, code, err := d.opts.Executor.Execute(ctx, append(d.baseArgs(), "--cleanup"))
	if err != nil {
		return fmt.Errorf("isolate --cleanup: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("isolate --cleanup exited with %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	return nil
}

func (d *Driver) runArgs(cmd sandbox.Command) []string {
	args := append(d.baseArgs(), "--meta="+d.metaFile)
	l := cmd.Limits
	if l.Time > 0 {
		args = append(args, "--time="+seconds(l.Time))
	}
	if l.WallTime > 0 {
		args = append(args, "--wall-time="+seconds(l.WallTime))
	}
	if l.ExtraTime > 0 {
		args = append(args, "--extra-time="+seconds(l.ExtraTime))
	}
	if l.Memory > 0 {
		if d.opts.Cgroups {
			args = append(args, "--cg-mem="+kib(l.Memory))
		} else {
			args = append(args, "--mem="+kib(l.Memory))
		}
	}
	if stack := l.StackLimit(); stack > 0 {
		args = append(args, "--stack="+kib(stack))
	}
	if l.FileSize > 0 {
		args = append(args, "--fsize="+kib(l.FileSize))
	}
	if l.HasQuota() {
		args = append(args, fmt.Sprintf("--quota=%d,%d", l.DiskBlocks, l.DiskInodes))
	}
	if cmd.Mode == sandbox.ModeBuild {
		// a shared network needs the host's /etc to resolve names
		args = append(args, "--full-env", "--share-net", "--dir=/etc")
		if l.Processes > 0 {
			args = append(args, "--processes="+strconv.Itoa(l.Processes))
		} else {
			args = append(args, "--processes")
		}
	} else {
		for _, env := range config.DefaultEnv {
			args = append(args, "--env="+env)
		}
		if l.Processes > 0 {
			args = append(args, "--processes="+strconv.Itoa(l.Processes))
		}
	}
	args = append(args, "--stdin=/dev/null")
	if cmd.Stdout != "" {
		args = append(args, "--stdout="+cmd.Stdout)
	}
	if cmd.StderrToStdout {
		args = append(args, "--stderr-to-stdout")
	} else if cmd.Stderr != "" {
		args = append(args, "--stderr="+cmd.Stderr)
	}
	args = append(args, "--run", "--")
	return append(args, cmd.Args...)
}

func seconds(ms int32) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

func kib(b int64) string {
	return strconv.FormatInt((b+1023)/1024, 10)
}
