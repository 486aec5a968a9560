package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := NewRunner().Run(ctx, os.Args[1:])
	cancel()
	os.Exit(code)
}
