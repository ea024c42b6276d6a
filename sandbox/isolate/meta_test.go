package isolate

import (
	"strings"
	"testing"
	"time"
)

func TestParseMeta(t *testing.T) {
	m, err := parseMeta(strings.NewReader(`time:1.250
time-wall:1.400
max-rss:1000
cg-mem:3000
csw-voluntary:4
exitsig:9
killed:1
status:SG
message:Caught fatal signal 9
`))
	if err != nil {
		t.Fatal(err)
	}
	if m.Time != 1250*time.Millisecond || m.WallTime != 1400*time.Millisecond {
		t.Fatalf("unexpected times %+v", m)
	}
	if m.ExitSig != 9 || !m.Killed || m.Status != StatusSignaled || m.Message != "Caught fatal signal 9" {
		t.Fatalf("unexpected meta %+v", m)
	}
	if m.memory() != 3000*1024 {
		t.Fatalf("cgroup memory should win, got %d", m.memory())
	}
}

func TestParseMetaInvalid(t *testing.T) {
	if _, err := parseMeta(strings.NewReader("exitcode:abc\n")); err == nil {
		t.Fatal("expected error")
	}
}
