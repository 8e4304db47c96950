// Package idata defines the interface data variants exercised by the e2e
// scenario: properties, property unsets, aggregates and individual
// datastreams. Each variant knows how to render itself as device shell
// commands, push itself to the cloud when server-owned, and verify its
// arrival on the other side.
package idata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/shell"
	"github.com/jonboulle/clockwork"
)

// Ownership says which side originates an interface's data.
type Ownership int

const (
	OwnershipDevice Ownership = iota + 1
	OwnershipServer
)

func (o Ownership) String() string {
	switch o {
	case OwnershipDevice:
		return "device"
	case OwnershipServer:
		return "server"
	default:
		return "unknown"
	}
}

// Descriptor identifies a named interface schema on the cloud platform and
// its ownership.
type Descriptor struct {
	Interface string
	Ownership Ownership
}

// Cloud is the slice of the AppEngine API the variants need.
type Cloud interface {
	GetInterfaceData(ctx context.Context, iface string, opts appengine.GetOptions) (any, error)
	SendInterfaceData(ctx context.Context, iface, path string, data any) error
	UnsetProperty(ctx context.Context, iface, path string) error
}

const (
	defaultSettle        = 2 * time.Second
	defaultRetryInterval = time.Second
	defaultRetryBudget   = 10
	defaultVerifyTimeout = 10 * time.Second
)

// Session bundles the collaborators and policies shared by every variant's
// test protocol. It is read-only for the duration of a run.
type Session struct {
	Log    *slog.Logger
	Clock  clockwork.Clock
	Device shell.Device
	Cloud  Cloud

	// Settle is how long to let the device or cloud side catch up after a
	// command before reading back.
	Settle time.Duration
	// RetryInterval and RetryBudget bound the verification polling of
	// device-owned data.
	RetryInterval time.Duration
	RetryBudget   int
	// VerifyTimeout bounds the wait for the device's expect confirmation
	// banner.
	VerifyTimeout time.Duration
	// Lenient restores the historical behavior of logging a device-owned
	// verification mismatch without failing the run.
	Lenient bool
}

func (s *Session) Validate() error {
	if s.Log == nil {
		return errors.New("logger is required")
	}
	if s.Clock == nil {
		return errors.New("clock is required")
	}
	if s.Device == nil {
		return errors.New("device is required")
	}
	if s.Cloud == nil {
		return errors.New("cloud client is required")
	}
	if s.Settle == 0 {
		s.Settle = defaultSettle
	}
	if s.RetryInterval == 0 {
		s.RetryInterval = defaultRetryInterval
	}
	if s.RetryBudget == 0 {
		s.RetryBudget = defaultRetryBudget
	}
	if s.VerifyTimeout == 0 {
		s.VerifyTimeout = defaultVerifyTimeout
	}
	return nil
}

func (s *Session) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Clock.After(s.Settle):
		return nil
	}
}

// InterfaceData is the closed set of payload variants: PropertySet,
// PropertyUnset, Aggregate and Datastream.
type InterfaceData interface {
	Descriptor() Descriptor
	// Run executes the variant's full send/verify protocol.
	Run(ctx context.Context, s *Session) error

	sealedInterfaceData()
}

var (
	_ InterfaceData = (*PropertySet)(nil)
	_ InterfaceData = (*PropertyUnset)(nil)
	_ InterfaceData = (*Aggregate)(nil)
	_ InterfaceData = (*Datastream)(nil)
)

// VerificationError reports a device-owned element whose value never showed
// up correctly on the cloud side within the retry budget.
type VerificationError struct {
	Interface string
	Path      string
	Attempts  int
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("value at %s%s not verified after %d attempts", e.Interface, e.Path, e.Attempts)
}
