package idata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/astarte"
)

// Aggregate is an object interface: all entries under a single path are
// transmitted and verified atomically as one document.
type Aggregate struct {
	Interface string
	Ownership Ownership
	Path      string
	Entries   []astarte.ObjectField
	// Timestamp, when set, is sent explicitly with the object.
	Timestamp *time.Time
}

func (a *Aggregate) sealedInterfaceData() {}

func (a *Aggregate) Descriptor() Descriptor {
	return Descriptor{Interface: a.Interface, Ownership: a.Ownership}
}

func (a *Aggregate) Run(ctx context.Context, s *Session) error {
	return runVariant(ctx, s, a)
}

// SingleSendElements yields a single element: the whole object.
func (a *Aggregate) SingleSendElements() [][]astarte.ObjectField {
	return [][]astarte.ObjectField{a.Entries}
}

func (a *Aggregate) DeviceShellCommand(baseVerb string, el []astarte.ObjectField) (string, error) {
	payload, err := astarte.EncodeShellObject(el)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("%s object %s %s %s", baseVerb, a.Interface, a.Path, payload)
	if a.Timestamp != nil {
		cmd += " " + strconv.FormatInt(a.Timestamp.UnixMilli(), 10)
	}
	return cmd, nil
}

func (a *Aggregate) SendServerData(ctx context.Context, s *Session, el []astarte.ObjectField) error {
	formatted := make(map[string]any, len(el))
	for _, f := range el {
		v, err := astarte.PrepareTransmit(f.Name, f.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		formatted[f.Name] = v
	}
	return s.Cloud.SendInterfaceData(ctx, a.Interface, a.Path, formatted)
}

// CheckServerReceivedData fetches the latest sample of the object and
// compares every entry. Missing keys mean the object has not arrived yet.
func (a *Aggregate) CheckServerReceivedData(ctx context.Context, s *Session, el []astarte.ObjectField) (bool, error) {
	received, err := s.Cloud.GetInterfaceData(ctx, a.Interface, appengine.GetOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	s.Log.Debug("Server aggregate data", "interface", a.Interface, "data", received)

	obj, ok := received.(map[string]any)
	if !ok {
		return false, nil
	}
	samples, ok := obj[parameter(a.Path)].([]any)
	if !ok || len(samples) == 0 {
		return false, nil
	}
	latest, ok := samples[0].(map[string]any)
	if !ok {
		return false, nil
	}

	for _, f := range el {
		raw, ok := latest[f.Name]
		if !ok {
			return false, nil
		}
		got, err := astarte.DecodeCloudValue(raw, f.Name)
		if err != nil {
			return false, err
		}
		s.Log.Debug("Aggregate endpoint", "endpoint", f.Name, "expected", f.Value, "got", got)
		if !astarte.Equal(got, f.Value) {
			return false, nil
		}
	}
	return true, nil
}

func (a *Aggregate) ElementPath([]astarte.ObjectField) string {
	return a.Path
}
