package container

import (
	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
	"github.com/opencontainers/runc/libcontainer/configs"
	"github.com/opencontainers/runc/libcontainer/devices"
	"github.com/opencontainers/runc/libcontainer/specconv"
	"golang.org/x/sys/unix"
)

const defaultMountFlags = unix.MS_NOEXEC | unix.MS_NOSUID | unix.MS_NODEV

const cgroupParent = "judge-worker"

// pidsOverhead leaves room for the runc init stages joining the cgroup.
const pidsOverhead = 4

var buildCapabilities = []string{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FOWNER",
	"CAP_SETGID",
	"CAP_SETUID",
}

func defaultDeviceRules() []*devices.Rule {
	rules := make([]*devices.Rule, 0, len(specconv.AllowedDevices))
	for _, d := range specconv.AllowedDevices {
		rules = append(rules, &d.Rule)
	}
	return rules
}

func defaultMounts() []*configs.Mount {
	return []*configs.Mount{
		{Source: "proc", Destination: "/proc", Device: "proc", Flags: defaultMountFlags},
		{Source: "tmpfs", Destination: "/dev", Device: "tmpfs", Flags: unix.MS_NOSUID | unix.MS_STRICTATIME, Data: "mode=755"},
		{Source: "devpts", Destination: "/dev/pts", Device: "devpts", Flags: unix.MS_NOSUID | unix.MS_NOEXEC, Data: "newinstance,ptmxmode=0666,mode=0620,gid=5"},
		{Source: "shm", Destination: "/dev/shm", Device: "tmpfs", Flags: defaultMountFlags, Data: "mode=1777,size=65536k"},
		{Source: "mqueue", Destination: "/dev/mqueue", Device: "mqueue", Flags: defaultMountFlags},
		{Source: "sysfs", Destination: "/sys", Device: "sysfs", Flags: defaultMountFlags | unix.MS_RDONLY},
		{Source: "tmpfs", Destination: "/tmp", Device: "tmpfs", Flags: unix.MS_NOSUID | unix.MS_NODEV, Data: "mode=1777,size=65536k"},
	}
}

// boxMount binds one slot's box, and nothing else from the host, into the
// container.
type boxMount struct {
	host   string
	target string
}

func (b boxMount) mount(mode sandbox.Mode) *configs.Mount {
	flags := unix.MS_BIND | unix.MS_NOSUID | unix.MS_NODEV
	if mode == sandbox.ModeRun {
		flags |= unix.MS_RDONLY
	}
	return &configs.Mount{
		Source:           b.host,
		Destination:      b.target,
		Device:           "bind",
		Flags:            flags,
		PropagationFlags: []int{unix.MS_PRIVATE},
	}
}

// containerConfig describes one container for cmd. Run mode gets its own
// network namespace, a read-only rootfs and box, and no capabilities.
func containerConfig(id, rootfs string, box boxMount, mode sandbox.Mode, limits model.Limitation) *configs.Config {
	namespaces := configs.Namespaces{
		{Type: configs.NEWNS},
		{Type: configs.NEWUTS},
		{Type: configs.NEWIPC},
		{Type: configs.NEWPID},
	}
	caps := buildCapabilities
	if mode == sandbox.ModeRun {
		namespaces = append(namespaces, configs.Namespace{Type: configs.NEWNET})
		caps = []string{}
	}
	conf := &configs.Config{
		Rootfs:   rootfs,
		Hostname: "sandbox",
		Capabilities: &configs.Capabilities{
			Bounding:    caps,
			Effective:   caps,
			Permitted:   caps,
			Inheritable: caps,
		},
		Namespaces: namespaces,
		Cgroups: &configs.Cgroup{
			Name:   id,
			Parent: cgroupParent,
			Resources: &configs.Resources{
				Devices:           defaultDeviceRules(),
				Memory:            limits.Memory,
				MemoryReservation: limits.Memory,
				MemorySwap:        limits.Memory,
				PidsLimit:         pidsLimit(limits.Processes),
			},
		},
		MaskPaths: []string{
			"/proc/kcore",
			"/proc/sched_debug",
			"/sys/firmware",
		},
		ReadonlyPaths: []string{
			"/proc/sys", "/proc/sysrq-trigger", "/proc/irq", "/proc/bus",
		},
		Devices:      specconv.AllowedDevices,
		Mounts:       append(defaultMounts(), box.mount(mode)),
		NoNewKeyring: true,
		Rlimits: []configs.Rlimit{
			{Type: unix.RLIMIT_NOFILE, Hard: 256, Soft: 256},
		},
	}
	if mode == sandbox.ModeRun {
		conf.ReadonlyPaths = append(conf.ReadonlyPaths, "/")
	}
	if stack := limits.StackLimit(); stack > 0 {
		conf.Rlimits = append(conf.Rlimits, configs.Rlimit{
			Type: unix.RLIMIT_STACK,
			Hard: uint64(stack),
			Soft: uint64(stack),
		})
	}
	if limits.FileSize > 0 {
		conf.Rlimits = append(conf.Rlimits, configs.Rlimit{
			Type: unix.RLIMIT_FSIZE,
			Hard: uint64(limits.FileSize),
			Soft: uint64(limits.FileSize),
		})
	}
	return conf
}

func pidsLimit(processes int) int64 {
	if processes <= 0 {
		return 0
	}
	return int64(processes) + pidsOverhead
}
