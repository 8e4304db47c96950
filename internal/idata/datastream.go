package idata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/astarte"
)

// DatastreamMapping is one individually transmitted data point.
type DatastreamMapping struct {
	Path  string
	Value astarte.Value
	// Timestamp, when set, is sent explicitly with the data point.
	Timestamp *time.Time
}

// Datastream is an individual-aggregation interface: every mapping travels
// as its own data point.
type Datastream struct {
	Interface string
	Ownership Ownership
	Mappings  []DatastreamMapping
}

func (d *Datastream) sealedInterfaceData() {}

func (d *Datastream) Descriptor() Descriptor {
	return Descriptor{Interface: d.Interface, Ownership: d.Ownership}
}

func (d *Datastream) Run(ctx context.Context, s *Session) error {
	return runVariant(ctx, s, d)
}

func (d *Datastream) SingleSendElements() []DatastreamMapping {
	return d.Mappings
}

func (d *Datastream) DeviceShellCommand(baseVerb string, el DatastreamMapping) (string, error) {
	payload, err := astarte.EncodeShellPayload(el.Value)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("%s individual %s %s %s", baseVerb, d.Interface, el.Path, payload)
	if el.Timestamp != nil {
		cmd += " " + strconv.FormatInt(el.Timestamp.UnixMilli(), 10)
	}
	return cmd, nil
}

func (d *Datastream) SendServerData(ctx context.Context, s *Session, el DatastreamMapping) error {
	data, err := astarte.PrepareTransmit(endpoint(el.Path), el.Value)
	if err != nil {
		return err
	}
	return s.Cloud.SendInterfaceData(ctx, d.Interface, el.Path, data)
}

// CheckServerReceivedData fetches the latest sample of the endpoint and
// compares its value.
func (d *Datastream) CheckServerReceivedData(ctx context.Context, s *Session, el DatastreamMapping) (bool, error) {
	received, err := s.Cloud.GetInterfaceData(ctx, d.Interface, appengine.GetOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	s.Log.Debug("Server individual data", "interface", d.Interface, "data", received)

	field := endpoint(el.Path)
	obj, ok := received.(map[string]any)
	if !ok {
		return false, nil
	}
	sample, ok := obj[field].(map[string]any)
	if !ok {
		return false, nil
	}
	raw, ok := sample["value"]
	if !ok {
		return false, nil
	}

	got, err := astarte.DecodeCloudValue(raw, field)
	if err != nil {
		return false, err
	}
	s.Log.Debug("Datastream endpoint", "endpoint", d.Interface+el.Path, "expected", el.Value, "got", got)
	return astarte.Equal(got, el.Value), nil
}

func (d *Datastream) ElementPath(el DatastreamMapping) string {
	return el.Path
}

// interface compliance with the generic protocol contract
var (
	_ variant[Property]              = (*PropertySet)(nil)
	_ variant[string]                = (*PropertyUnset)(nil)
	_ variant[[]astarte.ObjectField] = (*Aggregate)(nil)
	_ variant[DatastreamMapping]     = (*Datastream)(nil)
)
