package main

import (
	"fmt"
	"os"

	ctlcmd "github.com/telekom/tenant-control-plane/pkg/ctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := ctlcmd.NewRootCommand(ctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
