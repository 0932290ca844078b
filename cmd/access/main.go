// Package main starts the access service and handles termination.
//
// The process resolves effective roles, tracks presence, and serves the
// live status feed; authentication and session issuance live upstream.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	accesscmd "github.com/louisbranch/gathering.space/internal/cmd/access"
)

func main() {
	cfg, err := accesscmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[ACCESS] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := accesscmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
