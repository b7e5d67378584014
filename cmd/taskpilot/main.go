package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imkarma/taskpilot/internal/cli"
)

func main() {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	// The first SIGINT pauses the run and SIGTERM stops it. After that the
	// default handlers are back, so a second signal kills the process.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		signal.Stop(sigs)
		cancel(cli.SignalCause(sig))
	}()

	err := cli.Execute(ctx)
	signal.Stop(sigs)
	cancel(nil)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return cli.ExitOK
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		if exit.Msg != "" {
			fmt.Fprintln(os.Stderr, "Error:", exit.Msg)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return cli.ExitFailure
}
