package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hitchwiki/nostrhitch/internal/daemon"
	"github.com/Hitchwiki/nostrhitch/pkg/systemd"
)

func main() {
	var (
		cfgPath string
		once    bool
		dryRun  bool
		debug   bool
		noDedup bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.BoolVar(&once, "once", false, "run one pass over all sources and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "build and log notes without publishing")
	flag.BoolVar(&debug, "debug", false, "debug logging and debug http server")
	flag.BoolVar(&noDedup, "disable-duplicate-check", false, "publish even already-posted items")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.NewApp(daemon.Options{
		ConfigPath:            cfgPath,
		RunOnce:               once,
		DryRun:                dryRun,
		Debug:                 debug,
		DisableDuplicateCheck: noDedup,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if !once {
		systemd.NotifyReady()
		go systemd.RunWatchdog(ctx)
	}

	runErr := app.Run(ctx)

	systemd.NotifyStopping()
	_ = app.Close()
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "fatal:", runErr)
		os.Exit(1)
	}
}
