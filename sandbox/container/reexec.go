package container

import (
	"log"
	"os"
	"runtime"

	"github.com/opencontainers/runc/libcontainer"
	_ "github.com/opencontainers/runc/libcontainer/nsenter"
)

const initArg = "init"

// Reexec turns the process into a container init when it was started as
// "<self> init" by the factory. It never returns in that case, so call it
// from an init function of package main.
func Reexec() {
	if len(os.Args) < 2 || os.Args[1] != initArg {
		return
	}
	runtime.GOMAXPROCS(1)
	runtime.LockOSThread()
	factory, _ := libcontainer.New("")
	if err := factory.StartInitialization(); err != nil {
		log.Fatal(err)
	}
	panic("container init returned")
}
