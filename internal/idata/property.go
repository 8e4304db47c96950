package idata

import (
	"context"
	"fmt"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/astarte"
)

// Property is one persistent key/value entry of a properties interface.
type Property struct {
	Path  string
	Value astarte.Value
}

// PropertySet sets a list of properties and verifies they stick.
type PropertySet struct {
	Interface  string
	Ownership  Ownership
	Properties []Property
}

func (p *PropertySet) sealedInterfaceData() {}

func (p *PropertySet) Descriptor() Descriptor {
	return Descriptor{Interface: p.Interface, Ownership: p.Ownership}
}

func (p *PropertySet) Run(ctx context.Context, s *Session) error {
	return runVariant(ctx, s, p)
}

func (p *PropertySet) SingleSendElements() []Property {
	return p.Properties
}

func (p *PropertySet) DeviceShellCommand(baseVerb string, el Property) (string, error) {
	payload, err := astarte.EncodeShellPayload(el.Value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s property set %s %s %s", baseVerb, p.Interface, el.Path, payload), nil
}

func (p *PropertySet) SendServerData(ctx context.Context, s *Session, el Property) error {
	data, err := astarte.PrepareTransmit(endpoint(el.Path), el.Value)
	if err != nil {
		return err
	}
	return s.Cloud.SendInterfaceData(ctx, p.Interface, el.Path, data)
}

func (p *PropertySet) CheckServerReceivedData(ctx context.Context, s *Session, el Property) (bool, error) {
	received, err := s.Cloud.GetInterfaceData(ctx, p.Interface, appengine.GetOptions{})
	if err != nil {
		return false, err
	}
	s.Log.Debug("Server property data", "interface", p.Interface, "data", received)

	field := endpoint(el.Path)
	raw, ok := lookup(received, parameter(el.Path), field)
	if !ok {
		return false, nil
	}

	got, err := astarte.DecodeCloudValue(raw, field)
	if err != nil {
		return false, err
	}
	if !astarte.Equal(got, el.Value) {
		s.Log.Debug("Property mismatch", "endpoint", field, "expected", el.Value, "got", got)
		return false, nil
	}
	return true, nil
}

func (p *PropertySet) ElementPath(el Property) string {
	return el.Path
}

// PropertyUnset clears previously set properties and verifies the stored
// values are gone.
type PropertyUnset struct {
	Interface string
	Ownership Ownership
	Unset     []string
}

func (p *PropertyUnset) sealedInterfaceData() {}

func (p *PropertyUnset) Descriptor() Descriptor {
	return Descriptor{Interface: p.Interface, Ownership: p.Ownership}
}

func (p *PropertyUnset) Run(ctx context.Context, s *Session) error {
	return runVariant(ctx, s, p)
}

func (p *PropertyUnset) SingleSendElements() []string {
	return p.Unset
}

// DeviceShellCommand for an unset carries no payload at all.
func (p *PropertyUnset) DeviceShellCommand(baseVerb string, path string) (string, error) {
	return fmt.Sprintf("%s property unset %s %s", baseVerb, p.Interface, path), nil
}

func (p *PropertyUnset) SendServerData(ctx context.Context, s *Session, path string) error {
	return s.Cloud.UnsetProperty(ctx, p.Interface, path)
}

// CheckServerReceivedData treats a missing parameter or endpoint as
// successfully unset: a completely unset interface returns nothing at all.
func (p *PropertyUnset) CheckServerReceivedData(ctx context.Context, s *Session, path string) (bool, error) {
	received, err := s.Cloud.GetInterfaceData(ctx, p.Interface, appengine.GetOptions{})
	if err != nil {
		return false, err
	}
	s.Log.Debug("Server property unset data", "interface", p.Interface, "data", received)

	// A null value is how the cloud reports an unset array endpoint.
	raw, ok := lookup(received, parameter(path), endpoint(path))
	return !ok || raw == nil, nil
}

func (p *PropertyUnset) ElementPath(path string) string {
	return path
}

// lookup digs the parameter object and then the endpoint key out of a
// decoded interface query response.
func lookup(received any, parameter, endpoint string) (any, bool) {
	obj, ok := received.(map[string]any)
	if !ok {
		return nil, false
	}
	param, ok := obj[parameter]
	if !ok {
		return nil, false
	}
	inner, ok := param.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := inner[endpoint]
	return raw, ok
}
