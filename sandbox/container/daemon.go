package container

import (
	"context"
	"os"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/util"
	"github.com/opencontainers/runc/libcontainer"
)

func stopProcess(process *libcontainer.Process) error {
	return process.Signal(os.Kill)
}

// runDaemon kills process once it runs past wallLimit or its cgroup hits the
// memory limit, recording why in oneErr.
func runDaemon(ctx context.Context, process *libcontainer.Process, wallLimit time.Duration, chOOM <-chan struct{}, oneErr *util.OneError) {
	timer := time.NewTimer(wallLimit)
	defer timer.Stop()
	select {
	case <-chOOM:
		oneErr.Add(config.ErrOOM)
	case <-timer.C:
		oneErr.Add(config.ErrTLE)
	case <-ctx.Done():
		return
	}
	if err := stopProcess(process); err != nil {
		oneErr.Add(err)
	}
}
