package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fleetd/fleetd/internal/cli/fleetctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	options := fleetctl.Options{
		BaseURL: strings.TrimSpace(os.Getenv("FLEETD_STATUS_URL")),
		Token:   strings.TrimSpace(os.Getenv("FLEETD_STATUS_TOKEN")),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	code := fleetctl.Run(ctx, os.Args[1:], options)
	stop()
	os.Exit(code)
}
