package environment_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HeRaNO/sandbox-judge-worker/environment"
)

type countingStore struct {
	loads int
	defs  map[string]environment.Definition
}

func (s *countingStore) Load(ctx context.Context, name string) (environment.Definition, error) {
	s.loads++
	def, ok := s.defs[name]
	if !ok {
		return environment.Definition{}, environment.ErrDefinitionNotFound
	}
	return def, nil
}

func TestCached(t *testing.T) {
	inner := &countingStore{defs: map[string]environment.Definition{
		"python": {Name: "python", SourceFileName: "sol.py"},
	}}
	store := environment.NewCached(inner)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := store.Load(ctx, "python"); err != nil {
			t.Fatal(err)
		}
	}
	if inner.loads != 1 {
		t.Fatalf("expected 1 load, got %d", inner.loads)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.Load(ctx, "go"); !errors.Is(err, environment.ErrDefinitionNotFound) {
			t.Fatal(err)
		}
	}
	if inner.loads != 3 {
		t.Fatalf("failures must not be cached, got %d loads", inner.loads)
	}
}
