package container

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/util"
	"github.com/opencontainers/runc/libcontainer"
)

type processResult struct {
	ProcessState *os.ProcessState
	// Err is why the watchdog killed the process, if it did.
	Err error
}

func executeSingle(ctx context.Context, container libcontainer.Container, process *libcontainer.Process, wallLimit time.Duration) (*processResult, error) {
	oneErr := util.OneError{}

	if err := container.Run(process); err != nil {
		return nil, err
	}
	chOOM, err := container.NotifyOOM()
	if err != nil {
		process.Signal(os.Kill)
		process.Wait()
		return nil, err
	}
	daemonCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(daemonCtx, process, wallLimit, chOOM, &oneErr)
	}()

	p, err := process.Wait()
	cancel()
	<-done

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && p == nil {
		p = exitErr.ProcessState
	}
	if p == nil {
		if err == nil {
			err = errors.New("process exited without state")
		}
		return nil, err
	}
	return &processResult{
		ProcessState: p,
		Err:          oneErr.Get(),
	}, nil
}
