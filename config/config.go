package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/koding/multiconfig"
)

type Configure struct {
	MQ           MQConfig         `yaml:"mq"`
	Environments []string         `yaml:"environments"`
	Definitions  DefinitionConfig `yaml:"definitions"`
	Sandbox      SandboxConfig    `yaml:"sandbox"`
	Log          LogConfig        `yaml:"log"`
	Metrics      MetricsConfig    `yaml:"metrics"`
}

type MQConfig struct {
	IP                  string `yaml:"ip" default:"localhost" required:"true"`
	Port                int    `yaml:"port" default:"5672"`
	UserName            string `yaml:"userName" default:"guest"`
	Password            string `yaml:"password" default:"guest"`
	VHost               string `yaml:"vhost"`
	Exchange            string `yaml:"exchange" default:"tasks"`
	DeadLetterExchange  string `yaml:"deadLetterExchange"`
	RejectInternalError bool   `yaml:"rejectInternalError" default:"true"`
}

func (c MQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s", c.UserName, c.Password, c.IP, c.Port, c.VHost)
}

type DefinitionConfig struct {
	Backend string      `yaml:"backend" default:"file"`
	Dir     string      `yaml:"dir" default:"./environments"`
	Cache   bool        `yaml:"cache"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"judge:env:"`
}

type SandboxConfig struct {
	Driver  string        `yaml:"driver" default:"isolate"`
	BoxID   int           `yaml:"boxId"`
	Isolate IsolateConfig `yaml:"isolate"`
	Rootfs  RootfsConfig  `yaml:"rootfs"`
	Build   LimitConfig   `yaml:"build"`
	Run     LimitConfig   `yaml:"run"`
}

type IsolateConfig struct {
	Bin     string `yaml:"bin" default:"isolate"`
	Cgroups bool   `yaml:"cgroups"`
	// MetaDir holds per-slot meta files; empty means the OS temp dir.
	MetaDir string `yaml:"metaDir"`
}

type RootfsConfig struct {
	RootfsPath string `yaml:"rootfsPath"`
	SlotsDir   string `yaml:"slotsDir" default:"/var/lib/judge-worker/slots"`
	WorkDir    string `yaml:"workDir" default:"/box"`
	WorkUser   string `yaml:"workUser" default:"65534:65534"`
	StateDir   string `yaml:"stateDir" default:"/run/judge-worker"`
}

type LimitConfig struct {
	Time      int32 `yaml:"time"`
	WallTime  int32 `yaml:"wallTime"`
	Memory    int64 `yaml:"memory"`
	Stack     int64 `yaml:"stack"`
	Processes int   `yaml:"processes"`
	ExtraTime int32 `yaml:"extraTime"`
	FileSize  int64 `yaml:"fileSize"`
	// DiskBlocks and DiskInodes enable an isolate disk quota when both are set.
	DiskBlocks int64 `yaml:"diskBlocks"`
	DiskInodes int64 `yaml:"diskInodes"`
}

func (c LimitConfig) Limitation() model.Limitation {
	l := model.Limitation{
		Time:       c.Time,
		WallTime:   c.WallTime,
		Memory:     c.Memory,
		Processes:  c.Processes,
		ExtraTime:  c.ExtraTime,
		FileSize:   c.FileSize,
		DiskBlocks: c.DiskBlocks,
		DiskInodes: c.DiskInodes,
	}
	if c.Stack > 0 {
		stack := c.Stack
		l.Stack = &stack
	}
	return l
}

type LogConfig struct {
	Release bool `yaml:"release"`
	Debug   bool `yaml:"debug"`
	Silent  bool `yaml:"silent"`
}

type MetricsConfig struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr" default:":9090"`
}

var defaultBuildLimits = LimitConfig{Time: 10000, WallTime: 20000, Memory: 512 << 20, Processes: 64, ExtraTime: 1000, FileSize: 256 << 20}
var defaultRunLimits = LimitConfig{Time: 1000, WallTime: 3000, Memory: 256 << 20, Processes: 1, ExtraTime: 500, FileSize: 64 << 20}

// Load reads defaults, then the YAML file at filePath (skipped when empty),
// then JUDGE_* environment variables.
func Load(filePath string) (*Configure, error) {
	conf := &Configure{}
	conf.Sandbox.Build = defaultBuildLimits
	conf.Sandbox.Run = defaultRunLimits

	loaders := []multiconfig.Loader{&multiconfig.TagLoader{}}
	if filePath != "" {
		loaders = append(loaders, &multiconfig.YAMLLoader{Path: filePath})
	}
	loaders = append(loaders, &multiconfig.EnvironmentLoader{Prefix: "JUDGE", CamelCase: true})
	if err := multiconfig.MultiLoader(loaders...).Load(conf); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := (&multiconfig.RequiredValidator{}).Validate(conf); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Configure) validate() error {
	switch c.Sandbox.Driver {
	case DriverIsolate, DriverContainer:
	default:
		return fmt.Errorf("unknown sandbox driver %q", c.Sandbox.Driver)
	}
	switch c.Definitions.Backend {
	case BackendFile, BackendRedis:
	default:
		return fmt.Errorf("unknown definition backend %q", c.Definitions.Backend)
	}
	if c.Sandbox.BoxID < 0 {
		return errors.New("sandbox boxId must not be negative")
	}
	if c.Sandbox.Driver == DriverContainer && c.Sandbox.Rootfs.RootfsPath == "" {
		return errors.New("container driver requires sandbox.rootfs.rootfsPath")
	}
	if c.Sandbox.Driver == DriverContainer && isWithin(c.Sandbox.Rootfs.SlotsDir, c.Sandbox.Rootfs.RootfsPath) {
		return errors.New("sandbox.rootfs.slotsDir must be outside the shared rootfs")
	}
	return nil
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	return err == nil && filepath.IsLocal(rel)
}
