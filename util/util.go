package util

import (
	"bytes"
	"sync"
	"time"

	"github.com/HeRaNO/sandbox-judge-worker/config"
)

// GetWallTimeLimit converts a limit in ms to a deadline with some redundancy.
func GetWallTimeLimit(limit int64) time.Duration {
	timeWithRedundancy := limit + 100
	return time.Duration(timeWithRedundancy) * time.Millisecond
}

// LimitBytes trims b and keeps at most config.OmitStringLen bytes of it. The
// second value is the number of bytes dropped.
func LimitBytes(b []byte) (string, int64) {
	b = bytes.TrimSpace(b)
	allSize := int64(len(b))
	if allSize <= config.OmitStringLen {
		return string(b), 0
	}
	return string(b[:config.OmitStringLen]), allSize - config.OmitStringLen
}

// OneError keeps the first error added to it.
type OneError struct {
	mu  sync.Mutex
	Err error
}

func (o *OneError) Add(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err == nil {
		o.Err = err
	}
}

func (o *OneError) Get() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Err
}
