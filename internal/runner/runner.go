// Package runner executes the ordered scenario list against one launched
// device session and reports a per-interface verdict.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"log/slog"

	"github.com/astarte-platform/device-e2e/internal/idata"
	"github.com/astarte-platform/device-e2e/internal/poll"
	"github.com/astarte-platform/device-e2e/internal/shell"
	"github.com/jonboulle/clockwork"
	"github.com/olekukonko/tablewriter"
)

const (
	defaultReadyTimeout      = 15 * time.Second
	defaultConnectTimeout    = 30 * time.Second
	defaultDisconnectTimeout = 10 * time.Second

	connectPollInterval = time.Second

	disconnectCommand = "disconnect"
)

var (
	readyBanner      = regexp.MustCompile("Device shell ready$")
	disconnectBanner = regexp.MustCompile(`Disconnected, closing shell\.\.\.`)
)

// Cloud extends the variants' API slice with the device status query used
// before the scenario starts.
type Cloud interface {
	idata.Cloud
	DeviceConnected(ctx context.Context) (bool, error)
}

type Config struct {
	Log    *slog.Logger
	Clock  clockwork.Clock
	Device shell.Device
	Cloud  Cloud
	Data   []idata.InterfaceData

	ReadyTimeout      time.Duration
	ConnectTimeout    time.Duration
	DisconnectTimeout time.Duration

	// Protocol policies, forwarded into the per-variant session.
	Settle        time.Duration
	RetryInterval time.Duration
	RetryBudget   int
	VerifyTimeout time.Duration
	Lenient       bool

	// Out receives the end-of-run summary table. Defaults to stdout.
	Out io.Writer
}

func (c *Config) Validate() error {
	if c.Log == nil {
		return errors.New("logger is required")
	}
	if c.Clock == nil {
		return errors.New("clock is required")
	}
	if c.Device == nil {
		return errors.New("device is required")
	}
	if c.Cloud == nil {
		return errors.New("cloud client is required")
	}
	if len(c.Data) == 0 {
		return errors.New("scenario data is required")
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = defaultReadyTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = defaultDisconnectTimeout
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
	return nil
}

// Result is the verdict for one scenario variant.
type Result struct {
	Interface string
	Ownership idata.Ownership
	Duration  time.Duration
	// Err is nil when the variant passed. Skipped variants carry
	// ErrSkipped.
	Err error
}

// ErrSkipped marks variants not reached because an earlier one aborted the
// scenario.
var ErrSkipped = errors.New("skipped: earlier variant aborted the scenario")

type Runner struct {
	cfg Config
}

func New(cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid runner config: %w", err)
	}
	return &Runner{cfg: cfg}, nil
}

// Run waits for the device's ready banner, drives every variant in list
// order, then disconnects. Later variants assume earlier ones completed, so
// the first failure aborts the scenario; the device is still disconnected
// cleanly.
func (r *Runner) Run(ctx context.Context) ([]Result, error) {
	cfg := r.cfg
	log := cfg.Log

	log.Info("Waiting for the device shell", "timeout", cfg.ReadyTimeout)
	if err := cfg.Device.ReadLinesUntil(ctx, readyBanner, cfg.ReadyTimeout); err != nil {
		return nil, fmt.Errorf("device never became ready: %w", err)
	}

	log.Info("Waiting for the device to connect", "timeout", cfg.ConnectTimeout)
	err := poll.Until(ctx, cfg.Clock, func() (bool, error) {
		return cfg.Cloud.DeviceConnected(ctx)
	}, cfg.ConnectTimeout, connectPollInterval)
	if err != nil {
		return nil, fmt.Errorf("device never connected to the platform: %w", err)
	}

	session := &idata.Session{
		Log:           log,
		Clock:         cfg.Clock,
		Device:        cfg.Device,
		Cloud:         cfg.Cloud,
		Settle:        cfg.Settle,
		RetryInterval: cfg.RetryInterval,
		RetryBudget:   cfg.RetryBudget,
		VerifyTimeout: cfg.VerifyTimeout,
		Lenient:       cfg.Lenient,
	}

	results := make([]Result, 0, len(cfg.Data))
	var failed error
	for _, data := range cfg.Data {
		d := data.Descriptor()
		if failed != nil {
			results = append(results, Result{Interface: d.Interface, Ownership: d.Ownership, Err: ErrSkipped})
			continue
		}

		log.Info("Testing interface", "interface", d.Interface, "ownership", d.Ownership.String())
		start := cfg.Clock.Now()
		err := data.Run(ctx, session)
		elapsed := cfg.Clock.Since(start)

		if err != nil {
			log.Error("Interface test failed", "interface", d.Interface, "error", err)
			failed = err
		}
		results = append(results, Result{Interface: d.Interface, Ownership: d.Ownership, Duration: elapsed, Err: err})
	}

	if err := r.disconnect(ctx); err != nil {
		if failed == nil {
			failed = err
		}
		log.Error("Disconnect failed", "error", err)
	}

	r.printSummary(results)
	if failed != nil {
		return results, fmt.Errorf("scenario failed: %w", failed)
	}
	return results, nil
}

func (r *Runner) disconnect(ctx context.Context) error {
	cfg := r.cfg
	cfg.Log.Info("Disconnecting the device")
	if err := cfg.Device.SendLine(ctx, disconnectCommand); err != nil {
		return fmt.Errorf("sending disconnect: %w", err)
	}
	if err := cfg.Device.ReadLinesUntil(ctx, disconnectBanner, cfg.DisconnectTimeout); err != nil {
		return fmt.Errorf("no disconnect acknowledgement: %w", err)
	}
	return nil
}

func (r *Runner) printSummary(results []Result) {
	table := tablewriter.NewWriter(r.cfg.Out)
	table.SetHeader([]string{"Interface", "Ownership", "Duration", "Status"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetBorder(true)

	for _, res := range results {
		status := "PASS"
		switch {
		case errors.Is(res.Err, ErrSkipped):
			status = "SKIP"
		case res.Err != nil:
			status = "FAIL"
		}
		table.Append([]string{
			res.Interface,
			res.Ownership.String(),
			res.Duration.Round(time.Millisecond).String(),
			status,
		})
	}
	table.Render()
}
