package isolate

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Meta is the content of an isolate --meta file.
type Meta struct {
	Time     time.Duration
	WallTime time.Duration
	MaxRSS   int64 // KiB
	CgMem    int64 // KiB
	ExitCode int
	ExitSig  int
	Killed   bool
	Status   string
	Message  string
}

// Status codes written by isolate.
const (
	StatusRuntimeError  = "RE"
	StatusSignaled      = "SG"
	StatusTimeout       = "TO"
	StatusInternalError = "XX"
)

func readMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer f.Close()
	return parseMeta(f)
}

func parseMeta(r io.Reader) (Meta, error) {
	m := Meta{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "time":
			m.Time, err = parseSeconds(value)
		case "time-wall":
			m.WallTime, err = parseSeconds(value)
		case "max-rss":
			m.MaxRSS, err = strconv.ParseInt(value, 10, 64)
		case "cg-mem":
			m.CgMem, err = strconv.ParseInt(value, 10, 64)
		case "exitcode":
			m.ExitCode, err = strconv.Atoi(value)
		case "exitsig":
			m.ExitSig, err = strconv.Atoi(value)
		case "killed":
			m.Killed = true
		case "status":
			m.Status = value
		case "message":
			m.Message = value
		}
		if err != nil {
			return Meta{}, fmt.Errorf("meta %s: %w", key, err)
		}
	}
	return m, scanner.Err()
}

func parseSeconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(f * float64(time.Second)), nil
}

// memory returns the peak memory in bytes, preferring cgroup accounting.
func (m Meta) memory() int64 {
	if m.CgMem > 0 {
		return m.CgMem * 1024
	}
	return m.MaxRSS * 1024
}
