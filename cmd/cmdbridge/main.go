package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cmdbridge/internal/console"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := executeCLI(ctx, os.Args[1:])
	stop()
	if err == nil {
		return
	}
	if !console.Silent(err) {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	code := 1
	var coder console.ExitCoder
	if errors.As(err, &coder) {
		code = coder.ExitCode()
	}
	os.Exit(code)
}
