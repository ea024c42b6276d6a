// Package environment loads named judging environments from an external
// store.
package environment

import (
	"context"
	"errors"

	"github.com/HeRaNO/sandbox-judge-worker/model"
)

var (
	ErrDefinitionNotFound  = errors.New("definition not found")
	ErrDefinitionMalformed = errors.New("definition malformed")
)

// Definition describes how submissions of one environment are built, run and
// verified. It is validated once by the store and never mutated afterwards.
type Definition struct {
	Name           string
	SourceFileName string
	BuildCommand   []string
	RunCommand     []string
	ExpectedOutput string
	BuildLimits    model.Limitation
	RunLimits      model.Limitation
}

func (d Definition) HasBuild() bool { return len(d.BuildCommand) > 0 }

func (d Definition) HasRun() bool { return len(d.RunCommand) > 0 }

// Store resolves an environment name to its definition.
type Store interface {
	Load(ctx context.Context, name string) (Definition, error)
}
