package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/jonboulle/clockwork"
)

type processIO struct {
	io.Reader
	io.Writer
}

// Launch starts a simulated device binary (e.g. a native_sim build) with
// piped stdio and returns a LineDevice attached to it. The returned stop
// function terminates the process and reaps it.
func Launch(ctx context.Context, log *slog.Logger, clock clockwork.Clock, name string, args []string, opts ...DeviceOption) (*LineDevice, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening device stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("opening device stdout: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("launching device %s: %w", name, err)
	}
	log.Info("Launched device process", "binary", name, "pid", cmd.Process.Pid)

	device := NewLineDevice(log, clock, processIO{Reader: stdout, Writer: stdin}, opts...)

	stop := func() error {
		_ = stdin.Close()
		if cmd.ProcessState == nil {
			_ = cmd.Process.Kill()
		}
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			log.Debug("Device process exited", "error", err)
		}
		return nil
	}
	return device, stop, nil
}
