package config

import "errors"

var ErrTLE = errors.New("time limit exceeded")
var ErrOOM = errors.New("out of memory")

const OmitStringLen = int64(4096)

// Files inside the sandbox box directory.
const (
	BoxDirName       = "box"
	OutputFileName   = "data.out"
	RunErrFileName   = "run.err"
	BuildLogFileName = "build.log"
)

var DefaultEnv = []string{"PATH=/usr/local/bin:/usr/bin:/bin", "HOME=/tmp"}

const (
	DriverIsolate   = "isolate"
	DriverContainer = "container"

	BackendFile  = "file"
	BackendRedis = "redis"
)
