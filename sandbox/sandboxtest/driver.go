// Package sandboxtest provides an in-process sandbox.Driver for tests. It
// executes nothing; a Handler decides what each command does to the box.
package sandboxtest

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/HeRaNO/sandbox-judge-worker/config"
	"github.com/HeRaNO/sandbox-judge-worker/sandbox"
)

// Handler simulates one command. box is the host path of the box directory.
type Handler func(box string, cmd sandbox.Command) (sandbox.Result, error)

type Driver struct {
	Root       string
	InitErr    error
	CleanupErr error
	Handler    Handler

	mu       sync.Mutex
	inits    int
	cleanups int
	commands []sandbox.Command
}

// New returns a driver whose sandbox root lives under dir.
func New(dir string, handler Handler) *Driver {
	return &Driver{Root: dir, Handler: handler}
}

func (d *Driver) SlotID() string { return "fake" }

func (d *Driver) Box() string {
	return filepath.Join(d.Root, config.BoxDirName)
}

func (d *Driver) Init(ctx context.Context) (string, error) {
	d.mu.Lock()
	d.inits++
	d.mu.Unlock()
	if d.InitErr != nil {
		return "", d.InitErr
	}
	if err := os.RemoveAll(d.Box()); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.Box(), 0755); err != nil {
		return "", err
	}
	return d.Root, nil
}

func (d *Driver) Run(ctx context.Context, cmd sandbox.Command) (sandbox.Result, error) {
	d.mu.Lock()
	d.commands = append(d.commands, cmd)
	d.mu.Unlock()
	if d.Handler == nil {
		return sandbox.Result{}, nil
	}
	return d.Handler(d.Box(), cmd)
}

func (d *Driver) Cleanup(ctx context.Context) error {
	d.mu.Lock()
	d.cleanups++
	d.mu.Unlock()
	if err := os.RemoveAll(d.Box()); err != nil {
		return err
	}
	return d.CleanupErr
}

func (d *Driver) Inits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inits
}

func (d *Driver) Cleanups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleanups
}

func (d *Driver) Commands() []sandbox.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sandbox.Command(nil), d.commands...)
}

// WriteFile writes a file into the box on behalf of a simulated program.
func WriteFile(box, name, content string) error {
	if name == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(box, name), []byte(content), 0644)
}
