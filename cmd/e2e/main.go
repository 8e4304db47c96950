package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/config"
	"github.com/astarte-platform/device-e2e/internal/fixtures"
	"github.com/astarte-platform/device-e2e/internal/runner"
	"github.com/astarte-platform/device-e2e/internal/shell"
)

type Flags struct {
	ConfigPath string
	Retries    int
	Lenient    bool
	Verbose    bool
}

func main() {
	flags, deviceCmd := parseFlags()
	log := newLogger(flags.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, flags, deviceCmd); err != nil {
		log.Error("End to end test failed", "error", err)
		os.Exit(1)
	}
	log.Info("End to end test passed")
}

func run(ctx context.Context, log *slog.Logger, flags *Flags, deviceCmd []string) error {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading device config: %w", err)
	}

	cloud, err := appengine.New(log, appengine.Config{
		BaseURL:    cfg.AppEngineURL,
		Realm:      cfg.Realm,
		DeviceID:   cfg.DeviceID,
		Token:      cfg.AppEngineToken,
		CACertPath: cfg.AppEngineCert,
	})
	if err != nil {
		return fmt.Errorf("creating appengine client: %w", err)
	}

	clock := clockwork.NewRealClock()
	device, stopDevice, err := shell.Launch(ctx, log, clock, deviceCmd[0], deviceCmd[1:])
	if err != nil {
		return fmt.Errorf("launching device: %w", err)
	}
	defer func() {
		if err := stopDevice(); err != nil {
			log.Error("Device did not stop cleanly", "error", err)
		}
	}()

	r, err := runner.New(runner.Config{
		Log:         log,
		Clock:       clock,
		Device:      device,
		Cloud:       cloud,
		Data:        fixtures.List(time.Now()),
		RetryBudget: flags.Retries,
		Lenient:     flags.Lenient,
	})
	if err != nil {
		return err
	}

	_, err = r.Run(ctx)
	return err
}

func parseFlags() (*Flags, []string) {
	flags := &Flags{}
	flag.StringVar(&flags.ConfigPath, "config", "build/zephyr/.config", "Path to the build-generated device configuration")
	flag.IntVar(&flags.Retries, "retries", 0, "Verification retry budget per element (0 for the default)")
	flag.BoolVar(&flags.Lenient, "lenient", false, "Log failed device-owned verifications instead of aborting")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.Parse()

	deviceCmd := flag.Args()
	if len(deviceCmd) == 0 {
		fmt.Fprintln(os.Stderr, "usage: e2e [flags] <device command> [args...]")
		flag.PrintDefaults()
		os.Exit(2)
	}
	return flags, deviceCmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}
