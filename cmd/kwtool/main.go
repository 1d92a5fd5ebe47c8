package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spacetelescope/stdatamodels-go/internal/kwtoolapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := kwtoolapp.RunContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}
