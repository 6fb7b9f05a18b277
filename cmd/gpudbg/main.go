package main

import (
	"github.com/tebeka/atexit"

	"github.com/softgpu/gpudbg/cmd/gpudbg/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		atexit.Exit(1)
	}
	atexit.Exit(0)
}
