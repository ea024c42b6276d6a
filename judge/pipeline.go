// Package judge drives one task through the sandbox: stage the source, build,
// run, compare the output, and always tear the sandbox down.
package judge

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/environment"
	"github.com/HeRaNO/sandbox-judge-worker/metrics"
	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
	"github.com/HeRaNO/sandbox-judge-worker/util"
	"go.uber.org/zap"
)

type Options struct {
	Store       environment.Store
	Slot        *sandbox.Slot
	BuildLimits model.Limitation
	RunLimits   model.Limitation
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

type Pipeline struct {
	store       environment.Store
	slot        *sandbox.Slot
	buildLimits model.Limitation
	runLimits   model.Limitation
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Pipeline{
		store:       opts.Store,
		slot:        opts.Slot,
		buildLimits: opts.BuildLimits,
		runLimits:   opts.RunLimits,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// Judge never fails: every error becomes a verdict. The sandbox slot is
// released before Judge returns.
func (p *Pipeline) Judge(ctx context.Context, task model.Task) (verdict model.Verdict) {
	start := time.Now()
	logger := p.logger.With(
		zap.String("task", task.ID),
		zap.String("environment", task.Environment),
	)
	defer func() {
		verdict.TaskID = task.ID
		verdict.Environment = task.Environment
		verdict.Duration = time.Since(start)
		p.metrics.ObserveVerdict(verdict)
		logger.Info("task judged",
			zap.Stringer("status", verdict.Status),
			zap.Duration("duration", verdict.Duration))
	}()

	h, err := p.slot.Open(ctx)
	if err != nil {
		return failure(model.InternalError, "sandbox slot unavailable: "+err.Error())
	}
	logger = logger.With(zap.String("slot", h.SlotID()))
	defer func() {
		if err := h.Teardown(context.WithoutCancel(ctx)); err != nil {
			util.ErrorLog(logger, err, "sandbox teardown")
			p.metrics.TeardownError()
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("judge panicked", zap.Any("panic", r), zap.Stack("stack"))
			verdict = failure(model.InternalError, fmt.Sprintf("internal panic: %v", r))
		}
	}()
	return p.judge(ctx, h, task, logger)
}

func (p *Pipeline) judge(ctx context.Context, h *sandbox.Handle, task model.Task, logger *zap.Logger) model.Verdict {
	def, err := p.store.Load(ctx, task.Environment)
	if err != nil {
		util.ErrorLog(logger, err, "load definition")
		return failure(model.InternalError, err.Error())
	}
	if err := h.Init(ctx); err != nil {
		util.ErrorLog(logger, err, "sandbox init")
		return failure(model.InternalError, err.Error())
	}
	if err := h.StageSource(def.SourceFileName, task.Source); err != nil {
		util.ErrorLog(logger, err, "stage source")
		return failure(model.InternalError, err.Error())
	}

	if def.HasBuild() {
		res, err := h.Execute(ctx, def.BuildCommand, sandbox.ModeBuild, def.BuildLimits.Merge(p.buildLimits))
		if err != nil {
			util.ErrorLog(logger, err, "build")
			return failure(model.InternalError, err.Error())
		}
		logger.Debug("build finished", zap.Bool("failed", res.Failed), zap.Duration("time", res.Time))
		if res.Failed {
			v := withLog(model.BuildError, describe(res), h, res.Output)
			v.Usage = usage(res)
			return v
		}
	}
	if !def.HasRun() {
		if !def.HasBuild() {
			logger.Warn("environment defines neither build nor run, passing vacuously")
		}
		return model.Verdict{Status: model.Passed}
	}

	res, err := h.Execute(ctx, def.RunCommand, sandbox.ModeRun, def.RunLimits.Merge(p.runLimits))
	if err != nil {
		util.ErrorLog(logger, err, "run")
		return failure(model.InternalError, err.Error())
	}
	logger.Debug("run finished",
		zap.Bool("failed", res.Failed),
		zap.Duration("time", res.Time),
		zap.Int64("memory", res.Memory))
	v := p.verify(h, def, res, logger)
	if v.Status != model.InternalError {
		v.Usage = usage(res)
	}
	return v
}

func (p *Pipeline) verify(h *sandbox.Handle, def environment.Definition, res sandbox.Result, logger *zap.Logger) model.Verdict {
	if res.Failed {
		return withLog(model.RunError, describe(res), h, config.RunErrFileName)
	}
	expected := strings.TrimSpace(def.ExpectedOutput)
	// Output this far past the expected length is a mismatch; the rest stays unread.
	out, unread, err := h.ReadOutput(res.Output, int64(len(expected))+config.OmitStringLen+1)
	if err != nil {
		util.ErrorLog(logger, err, "read output")
		return failure(model.InternalError, err.Error())
	}
	actual := strings.TrimSpace(string(out))
	if unread == 0 && actual == expected {
		return model.Verdict{Status: model.Passed}
	}
	v := failure(model.Failed, actual)
	v.Omitted += unread
	return v
}

func usage(res sandbox.Result) *model.Usage {
	return &model.Usage{
		Time:     res.Time,
		WallTime: res.WallTime,
		Memory:   res.Memory,
		ExitCode: res.ExitCode,
		Status:   res.Status,
	}
}

func failure(status model.Status, detail string) model.Verdict {
	s, omitted := util.LimitBytes([]byte(detail))
	return model.Verdict{Status: status, Detail: s, Omitted: omitted}
}

func describe(res sandbox.Result) string {
	if res.Message != "" {
		return fmt.Sprintf("%s (exit code %d)", res.Message, res.ExitCode)
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

// withLog appends the head of logFile, if the program wrote anything there.
func withLog(status model.Status, summary string, h *sandbox.Handle, logFile string) model.Verdict {
	b, unread, err := h.ReadOutput(logFile, config.OmitStringLen)
	if err != nil || len(bytes.TrimSpace(b)) == 0 {
		return failure(status, summary)
	}
	v := failure(status, summary+"\n"+string(b))
	v.Omitted += unread
	return v
}
