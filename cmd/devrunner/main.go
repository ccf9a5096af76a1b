package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"devrunner/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "devrunner: panic: %v\n", r)
			os.Exit(cli.ExitInternalError)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
