package idata

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

const (
	sendVerb   = "send"
	expectVerb = "expect"

	// expectVerifyCommand asks the device to compare everything its armed
	// watchers received against what they expected.
	expectVerifyCommand = "expect verify"
)

var expectVerifiedBanner = regexp.MustCompile("All expected data received$")

// variant is the uniform per-element contract implemented by the four
// interface data kinds.
type variant[E any] interface {
	Descriptor() Descriptor
	// SingleSendElements decomposes the payload into the units that are
	// sent and verified one at a time.
	SingleSendElements() []E
	// DeviceShellCommand renders exactly one shell command line for the
	// element.
	DeviceShellCommand(baseVerb string, el E) (string, error)
	// SendServerData pushes the element to the cloud API (server-owned
	// interfaces only).
	SendServerData(ctx context.Context, s *Session, el E) error
	// CheckServerReceivedData queries the cloud and compares the relevant
	// field against the element. False with a nil error means "not there
	// yet"; errors are transport failures.
	CheckServerReceivedData(ctx context.Context, s *Session, el E) (bool, error)
	// ElementPath names the element in logs and errors.
	ElementPath(el E) string
}

// runVariant drives one variant through its test protocol.
//
// Server-owned: each element arms an expect watcher on the device before the
// cloud push; afterwards a single "expect verify" asks the device to confirm
// everything arrived.
//
// Device-owned: each element is transmitted by the device, then the cloud is
// polled until the value shows up or the retry budget runs out.
func runVariant[E any](ctx context.Context, s *Session, v variant[E]) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	d := v.Descriptor()
	log := s.Log.With("interface", d.Interface, "ownership", d.Ownership.String())

	switch d.Ownership {
	case OwnershipServer:
		return runServerOwned(ctx, s, v, log)
	case OwnershipDevice:
		return runDeviceOwned(ctx, s, v, log)
	default:
		return fmt.Errorf("interface %s has invalid ownership %d", d.Interface, d.Ownership)
	}
}

func runServerOwned[E any](ctx context.Context, s *Session, v variant[E], log *slog.Logger) error {
	for _, el := range v.SingleSendElements() {
		cmd, err := v.DeviceShellCommand(expectVerb, el)
		if err != nil {
			return fmt.Errorf("rendering expect command for %s: %w", v.ElementPath(el), err)
		}
		if err := s.Device.ExecCommand(ctx, cmd); err != nil {
			return fmt.Errorf("arming expect watcher for %s: %w", v.ElementPath(el), err)
		}
		if err := s.settle(ctx); err != nil {
			return err
		}
		if err := v.SendServerData(ctx, s, el); err != nil {
			return fmt.Errorf("sending server data for %s: %w", v.ElementPath(el), err)
		}
	}

	if err := s.settle(ctx); err != nil {
		return err
	}
	if err := s.Device.ExecCommand(ctx, expectVerifyCommand); err != nil {
		return fmt.Errorf("requesting expect verification: %w", err)
	}
	if err := s.Device.ReadLinesUntil(ctx, expectVerifiedBanner, s.VerifyTimeout); err != nil {
		return fmt.Errorf("device did not confirm expected data: %w", err)
	}
	log.Info("Device confirmed all expected data")
	return nil
}

func runDeviceOwned[E any](ctx context.Context, s *Session, v variant[E], log *slog.Logger) error {
	d := v.Descriptor()
	for _, el := range v.SingleSendElements() {
		cmd, err := v.DeviceShellCommand(sendVerb, el)
		if err != nil {
			return fmt.Errorf("rendering send command for %s: %w", v.ElementPath(el), err)
		}
		if err := s.Device.ExecCommand(ctx, cmd); err != nil {
			return fmt.Errorf("sending %s from device: %w", v.ElementPath(el), err)
		}
		if err := s.settle(ctx); err != nil {
			return err
		}

		verdict := verifyReceived(ctx, s, v, el)
		switch {
		case verdict.Err != nil:
			return fmt.Errorf("verifying %s: %w", v.ElementPath(el), verdict.Err)
		case verdict.Verified:
			log.Debug("Element verified", "path", v.ElementPath(el), "attempts", verdict.Attempts)
		case s.Lenient:
			log.Error("Element not verified, continuing (lenient mode)",
				"path", v.ElementPath(el), "attempts", verdict.Attempts)
		default:
			return &VerificationError{
				Interface: d.Interface,
				Path:      v.ElementPath(el),
				Attempts:  verdict.Attempts,
			}
		}
	}
	return nil
}

// Verdict is the outcome of polling the cloud for a device-owned element.
type Verdict struct {
	Verified bool
	Attempts int
	// Err is set on transport failures; Verified false with a nil Err means
	// the retry budget ran out without a match.
	Err error
}

func verifyReceived[E any](ctx context.Context, s *Session, v variant[E], el E) Verdict {
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.RetryInterval), uint64(s.RetryBudget-1))
	bo.Reset()

	attempts := 0
	for {
		attempts++
		ok, err := v.CheckServerReceivedData(ctx, s, el)
		if err != nil {
			return Verdict{Attempts: attempts, Err: err}
		}
		if ok {
			return Verdict{Verified: true, Attempts: attempts}
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return Verdict{Attempts: attempts}
		}
		select {
		case <-ctx.Done():
			return Verdict{Attempts: attempts, Err: ctx.Err()}
		case <-s.Clock.After(wait):
		}
	}
}

// parameter returns the first path segment, naming the grouping parameter
// used for aggregate and property parent lookups.
func parameter(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 1 {
		return parts[1]
	}
	return ""
}

// endpoint returns the terminal path segment identifying the field, which
// drives the codec's name-keyed conversions.
func endpoint(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}
