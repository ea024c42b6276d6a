package model

// Limitation bounds a single sandboxed command. Zero fields mean "use the
// configured default".
type Limitation struct {
	Time      int32  `json:"time" yaml:"time"`           // CPU time, ms
	WallTime  int32  `json:"wall_time" yaml:"wall_time"` // ms
	Memory    int64  `json:"mem" yaml:"memory"`          // bytes
	Stack     *int64 `json:"stack,omitempty" yaml:"stack"`
	Processes int    `json:"processes" yaml:"processes"`
	// ExtraTime is how long a program past its time limit may keep running
	// before it is killed, ms.
	ExtraTime int32 `json:"extra_time" yaml:"extra_time"`
	// FileSize caps every file the program writes, bytes.
	FileSize int64 `json:"file_size" yaml:"file_size"`
	// DiskBlocks and DiskInodes form a disk quota; both must be set.
	DiskBlocks int64 `json:"disk_blocks" yaml:"disk_blocks"`
	DiskInodes int64 `json:"disk_inodes" yaml:"disk_inodes"`
}

// Merge returns l with its unset fields taken from defaults.
func (l Limitation) Merge(defaults Limitation) Limitation {
	if l.Time <= 0 {
		l.Time = defaults.Time
	}
	if l.WallTime <= 0 {
		l.WallTime = defaults.WallTime
	}
	if l.Memory <= 0 {
		l.Memory = defaults.Memory
	}
	if l.Stack == nil {
		l.Stack = defaults.Stack
	}
	if l.Processes <= 0 {
		l.Processes = defaults.Processes
	}
	if l.ExtraTime <= 0 {
		l.ExtraTime = defaults.ExtraTime
	}
	if l.FileSize <= 0 {
		l.FileSize = defaults.FileSize
	}
	if l.DiskBlocks <= 0 {
		l.DiskBlocks = defaults.DiskBlocks
	}
	if l.DiskInodes <= 0 {
		l.DiskInodes = defaults.DiskInodes
	}
	return l
}

// StackLimit returns the stack limit, which defaults to the memory limit.
func (l Limitation) StackLimit() int64 {
	if l.Stack != nil {
		return *l.Stack
	}
	return l.Memory
}

// HasQuota reports whether both halves of the disk quota are set.
func (l Limitation) HasQuota() bool {
	return l.DiskBlocks > 0 && l.DiskInodes > 0
}
