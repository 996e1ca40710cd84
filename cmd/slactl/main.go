package main

import (
	"os"

	slactlcmd "github.com/telekom/sla-escalation/pkg/slactl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := slactlcmd.NewRootCommand(slactlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
