package environment

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/HeRaNO/sandbox-judge-worker/model"
	"github.com/google/shlex"
)

// document is the stored shape of a definition. Pointer fields distinguish an
// absent key from an empty value.
type document struct {
	SourceName     *string          `yaml:"source_name"`
	Build          *string          `yaml:"build"`
	Run            *string          `yaml:"run"`
	ExpectedOutput string           `yaml:"expected_output"`
	BuildLimits    model.Limitation `yaml:"build_limits"`
	RunLimits      model.Limitation `yaml:"run_limits"`
}

func (doc *document) definition(name string) (Definition, error) {
	if doc.SourceName == nil || strings.TrimSpace(*doc.SourceName) == "" {
		return Definition{}, fmt.Errorf("%w: %s: source_name is required", ErrDefinitionMalformed, name)
	}
	sourceName := strings.TrimSpace(*doc.SourceName)
	if !filepath.IsLocal(sourceName) || filepath.Base(sourceName) != sourceName {
		return Definition{}, fmt.Errorf("%w: %s: source_name %q is not a plain file name", ErrDefinitionMalformed, name, sourceName)
	}
	def := Definition{
		Name:           name,
		SourceFileName: sourceName,
		ExpectedOutput: doc.ExpectedOutput,
		BuildLimits:    doc.BuildLimits,
		RunLimits:      doc.RunLimits,
	}
	var err error
	if def.BuildCommand, err = splitCommand(name, "build", doc.Build); err != nil {
		return Definition{}, err
	}
	if def.RunCommand, err = splitCommand(name, "run", doc.Run); err != nil {
		return Definition{}, err
	}
	if err := checkLimits(name, "build_limits", def.BuildLimits); err != nil {
		return Definition{}, err
	}
	if err := checkLimits(name, "run_limits", def.RunLimits); err != nil {
		return Definition{}, err
	}
	return def, nil
}

func splitCommand(name, key string, cmd *string) ([]string, error) {
	if cmd == nil {
		return nil, nil
	}
	args, err := shlex.Split(*cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse %s: %v", ErrDefinitionMalformed, name, key, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: %s: %s is empty", ErrDefinitionMalformed, name, key)
	}
	return args, nil
}

func checkLimits(name, key string, l model.Limitation) error {
	if l.Time < 0 || l.WallTime < 0 || l.Memory < 0 || l.Processes < 0 || (l.Stack != nil && *l.Stack < 0) ||
		l.ExtraTime < 0 || l.FileSize < 0 || l.DiskBlocks < 0 || l.DiskInodes < 0 {
		return fmt.Errorf("%w: %s: %s must not be negative", ErrDefinitionMalformed, name, key)
	}
	return nil
}

// validName rejects names that could escape the store's namespace.
func validName(name string) bool {
	return name != "" && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}
