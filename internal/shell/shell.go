// Package shell drives the device under test over its line-oriented shell:
// writing command lines, waiting for the prompt, and matching banner lines
// emitted by the firmware.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// defaultPrompt is the Zephyr shell prompt printed when the device is
	// ready for the next command.
	defaultPrompt        = "uart:~$ "
	defaultPromptTimeout = 15 * time.Second

	// lineBuffer bounds how many unread lines are kept; the firmware can be
	// chatty between commands.
	lineBuffer = 4096
)

// Device is the transport contract consumed by the scenario protocol.
type Device interface {
	// SendLine writes one command line without waiting for the prompt.
	SendLine(ctx context.Context, command string) error
	// ExecCommand clears buffered output, writes the command and waits for
	// an available prompt.
	ExecCommand(ctx context.Context, command string) error
	// ReadLinesUntil consumes device output until a line matches re or the
	// timeout elapses.
	ReadLinesUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error
	// ClearBuffer discards any output read so far.
	ClearBuffer()
}

// LineDevice implements Device on top of any line transport: a serial port,
// a pty, or the piped stdio of a simulated device process.
type LineDevice struct {
	log           *slog.Logger
	clock         clockwork.Clock
	w             io.Writer
	prompt        string
	promptTimeout time.Duration

	lines   chan string
	prompts chan struct{}
}

type DeviceOption func(*LineDevice)

func WithPrompt(prompt string) DeviceOption {
	return func(d *LineDevice) {
		d.prompt = prompt
	}
}

func WithPromptTimeout(timeout time.Duration) DeviceOption {
	return func(d *LineDevice) {
		d.promptTimeout = timeout
	}
}

// NewLineDevice wraps rw and starts reading from it immediately.
func NewLineDevice(log *slog.Logger, clock clockwork.Clock, rw io.ReadWriter, opts ...DeviceOption) *LineDevice {
	d := &LineDevice{
		log:           log,
		clock:         clock,
		w:             rw,
		prompt:        defaultPrompt,
		promptTimeout: defaultPromptTimeout,
		lines:         make(chan string, lineBuffer),
		prompts:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.readLoop(rw)
	return d
}

func (d *LineDevice) readLoop(r io.Reader) {
	br := bufio.NewReader(r)
	var partial strings.Builder

	for {
		b, err := br.ReadByte()
		if err != nil {
			if err != io.EOF {
				d.log.Debug("Device read loop stopped", "error", err)
			}
			return
		}

		if b == '\n' {
			line := strings.TrimRight(partial.String(), "\r")
			partial.Reset()
			select {
			case d.lines <- line:
			default:
				// Buffer full, oldest output is the least interesting.
				select {
				case <-d.lines:
				default:
				}
				d.lines <- line
			}
			continue
		}

		partial.WriteByte(b)
		if strings.HasSuffix(partial.String(), d.prompt) {
			partial.Reset()
			select {
			case d.prompts <- struct{}{}:
			default:
			}
		}
	}
}

func (d *LineDevice) SendLine(ctx context.Context, command string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.log.Info("Executing command on device shell", "command", command)
	// The trailing blank line forces the shell to reprint its prompt.
	if _, err := io.WriteString(d.w, command+"\n\n"); err != nil {
		return fmt.Errorf("writing shell command: %w", err)
	}
	return nil
}

func (d *LineDevice) ExecCommand(ctx context.Context, command string) error {
	d.ClearBuffer()
	d.drainPrompt()

	if err := d.SendLine(ctx, command); err != nil {
		return err
	}

	select {
	case <-d.prompts:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.promptTimeout):
		return fmt.Errorf("no shell prompt within %s after %q", d.promptTimeout, command)
	}
}

func (d *LineDevice) ReadLinesUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error {
	deadline := d.clock.After(timeout)
	for {
		select {
		case line := <-d.lines:
			d.log.Debug("Device output", "line", line)
			if re.MatchString(line) {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no line matching %q within %s", re, timeout)
		}
	}
}

func (d *LineDevice) ClearBuffer() {
	for {
		select {
		case <-d.lines:
		default:
			return
		}
	}
}

func (d *LineDevice) drainPrompt() {
	select {
	case <-d.prompts:
	default:
	}
}
