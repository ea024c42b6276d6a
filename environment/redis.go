package environment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/redis/go-redis/v9"
)

// RedisStore reads definitions from hashes named <prefix><name>. Limits are
// flattened into fields such as build_time or run_memory.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, name string) (Definition, error) {
	if !validName(name) {
		return Definition{}, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	fields, err := s.client.HGetAll(ctx, s.prefix+name).Result()
	if err != nil {
		return Definition{}, fmt.Errorf("read definition %s: %w", name, err)
	}
	if len(fields) == 0 {
		return Definition{}, fmt.Errorf("%w: %q", ErrDefinitionNotFound, name)
	}
	doc, err := hashDocument(name, fields)
	if err != nil {
		return Definition{}, err
	}
	return doc.definition(name)
}

func hashDocument(name string, fields map[string]string) (*document, error) {
	doc := &document{ExpectedOutput: fields["expected_output"]}
	if v, ok := fields["source_name"]; ok {
		doc.SourceName = &v
	}
	if v, ok := fields["build"]; ok {
		doc.Build = &v
	}
	if v, ok := fields["run"]; ok {
		doc.Run = &v
	}
	var err error
	if doc.BuildLimits, err = hashLimits(name, "build", fields); err != nil {
		return nil, err
	}
	if doc.RunLimits, err = hashLimits(name, "run", fields); err != nil {
		return nil, err
	}
	return doc, nil
}

func hashLimits(name, phase string, fields map[string]string) (model.Limitation, error) {
	l := model.Limitation{}
	setters := []struct {
		key  string
		bits int
		set  func(int64)
	}{
		{"time", 32, func(n int64) { l.Time = int32(n) }},
		{"wall_time", 32, func(n int64) { l.WallTime = int32(n) }},
		{"extra_time", 32, func(n int64) { l.ExtraTime = int32(n) }},
		{"memory", 64, func(n int64) { l.Memory = n }},
		{"stack", 64, func(n int64) { l.Stack = &n }},
		{"processes", 32, func(n int64) { l.Processes = int(n) }},
		{"file_size", 64, func(n int64) { l.FileSize = n }},
		{"disk_blocks", 64, func(n int64) { l.DiskBlocks = n }},
		{"disk_inodes", 64, func(n int64) { l.DiskInodes = n }},
	}
	for _, s := range setters {
		v, ok := fields[phase+"_"+s.key]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, s.bits)
		if err != nil {
			return model.Limitation{}, fmt.Errorf("%w: %s: %s_%s: %v", ErrDefinitionMalformed, name, phase, s.key, err)
		}
		s.set(n)
	}
	return l, nil
}
