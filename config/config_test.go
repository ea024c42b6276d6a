package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/HeRaNO/sandbox-judge-worker/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	conf, err := config.Load(writeConfig(t, "environments: [python]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if conf.MQ.Exchange != "tasks" || conf.MQ.Port != 5672 || !conf.MQ.RejectInternalError {
		t.Fatalf("unexpected mq config %+v", conf.MQ)
	}
	if conf.Sandbox.Driver != config.DriverIsolate || conf.Sandbox.Isolate.Bin != "isolate" {
		t.Fatalf("unexpected sandbox config %+v", conf.Sandbox)
	}
	if conf.Sandbox.Run.ExtraTime != 500 || conf.Sandbox.Run.FileSize != 64<<20 {
		t.Fatalf("unexpected output limits %+v", conf.Sandbox.Run)
	}
	if conf.Sandbox.Run.Time != 1000 || conf.Sandbox.Build.Processes != 64 {
		t.Fatalf("unexpected limits %+v %+v", conf.Sandbox.Run, conf.Sandbox.Build)
	}
	if len(conf.Environments) != 1 || conf.Environments[0] != "python" {
		t.Fatalf("unexpected environments %v", conf.Environments)
	}
}

func TestLoadOverrides(t *testing.T) {
	p := writeConfig(t, `
mq:
  ip: rabbit
  rejectInternalError: false
sandbox:
  boxId: 3
  run:
    time: 2500
definitions:
  backend: redis
`)
	t.Setenv("JUDGE_MQ_PORT", "5673")
	conf, err := config.Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if conf.MQ.IP != "rabbit" || conf.MQ.RejectInternalError {
		t.Fatalf("unexpected mq config %+v", conf.MQ)
	}
	if conf.MQ.Port != 5673 {
		t.Fatalf("environment override ignored: %d", conf.MQ.Port)
	}
	if conf.Sandbox.BoxID != 3 || conf.Sandbox.Run.Time != 2500 {
		t.Fatalf("unexpected sandbox config %+v", conf.Sandbox)
	}
	if conf.Definitions.Backend != config.BackendRedis {
		t.Fatal(conf.Definitions.Backend)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	p := writeConfig(t, "sandbox:\n  driver: vm\n")
	if _, err := config.Load(p); err == nil {
		t.Fatal("expected error")
	}
}

func TestLimitation(t *testing.T) {
	l := config.LimitConfig{Time: 1, Memory: 10, Stack: 5}.Limitation()
	if l.Stack == nil || *l.Stack != 5 || l.StackLimit() != 5 {
		t.Fatalf("unexpected stack %+v", l)
	}
	if got := (config.LimitConfig{Memory: 10}).Limitation().StackLimit(); got != 10 {
		t.Fatal(got)
	}
}

func TestLoadRejectsSlotsInsideRootfs(t *testing.T) {
	p := writeConfig(t, `
sandbox:
  driver: container
  rootfs:
    rootfsPath: /srv/rootfs
    slotsDir: /srv/rootfs/judge
`)
	if _, err := config.Load(p); err == nil {
		t.Fatal("expected error")
	}
	ok := writeConfig(t, `
sandbox:
  driver: container
  rootfs:
    rootfsPath: /srv/rootfs
`)
	conf, err := config.Load(ok)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Sandbox.Rootfs.SlotsDir != "/var/lib/judge-worker/slots" || conf.Sandbox.Rootfs.WorkDir != "/box" {
		t.Fatalf("unexpected rootfs config %+v", conf.Sandbox.Rootfs)
	}
}
