// Package main runs one recruitment command against the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	recruitmentcmd "github.com/gwtt/dagachi/internal/cmd/recruitment"
	"github.com/gwtt/dagachi/internal/platform/config"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <command> [command flags]\n", os.Args[0])
		flag.PrintDefaults()
	}
	cfg, err := recruitmentcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		if errors.Is(err, recruitmentcmd.ErrUsage) {
			flag.Usage()
		}
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[RECRUITMENT] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := recruitmentcmd.Run(ctx, cfg, os.Stdout); err != nil {
		stop()
		config.Exitf("%s", recruitmentcmd.FormatError(err, cfg.Locale))
	}
}
