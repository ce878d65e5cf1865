package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mailctlcmd "github.com/telekom/mailcompose/pkg/mailctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := mailctlcmd.NewRootCommand(mailctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := mailctlcmd.Execute(ctx, root); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
