package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spacetelescope/stdatamodels-go/internal/stdmapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := stdmapp.RunContext(ctx, os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}
