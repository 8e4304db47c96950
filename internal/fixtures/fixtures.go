// Package fixtures holds the static scenario data: one interface per
// variant/ownership combination, covering every wire type as both scalar and
// array. The list order matters: the unset variants run last to clear the
// properties set earlier in the run.
package fixtures

import (
	"time"

	"github.com/astarte-platform/device-e2e/internal/astarte"
	"github.com/astarte-platform/device-e2e/internal/idata"
)

const (
	ifaceDeviceProperty   = "org.astarte-platform.zephyr.e2etest.DeviceProperty"
	ifaceServerProperty   = "org.astarte-platform.zephyr.e2etest.ServerProperty"
	ifaceDeviceAggregate  = "org.astarte-platform.zephyr.e2etest.DeviceAggregate"
	ifaceServerAggregate  = "org.astarte-platform.zephyr.e2etest.ServerAggregate"
	ifaceDeviceDatastream = "org.astarte-platform.zephyr.e2etest.DeviceDatastream"
	ifaceServerDatastream = "org.astarte-platform.zephyr.e2etest.ServerDatastream"
)

var (
	fixedInstant  = time.Unix(1710940988, 0).UTC()
	futureInstant = time.Unix(17109409814, 0).UTC()
)

// endpointValues enumerates every mapping of the e2e test interfaces with a
// representative value.
func endpointValues() []astarte.ObjectField {
	return []astarte.ObjectField{
		{Name: "binaryblob_endpoint", Value: astarte.Blob([]byte("SGVsbG8="))},
		{Name: "binaryblobarray_endpoint", Value: astarte.BlobArray([][]byte{[]byte("SGVsbG8="), []byte("dDk5Yg==")})},
		{Name: "boolean_endpoint", Value: astarte.Bool(true)},
		{Name: "booleanarray_endpoint", Value: astarte.BoolArray([]bool{true, false, true})},
		{Name: "datetime_endpoint", Value: astarte.Timestamp(fixedInstant)},
		{Name: "datetimearray_endpoint", Value: astarte.TimestampArray([]time.Time{fixedInstant, futureInstant})},
		{Name: "double_endpoint", Value: astarte.Double(15.42)},
		{Name: "doublearray_endpoint", Value: astarte.DoubleArray([]float64{1542.25, 88852.6})},
		{Name: "integer_endpoint", Value: astarte.Integer(42)},
		{Name: "integerarray_endpoint", Value: astarte.IntegerArray([]int64{4525, 0, 11})},
		{Name: "longinteger_endpoint", Value: astarte.Integer(8589934592)},
		{Name: "longintegerarray_endpoint", Value: astarte.IntegerArray([]int64{8589930067, 42, 8589934592})},
		{Name: "string_endpoint", Value: astarte.String("Hello world!")},
		{Name: "stringarray_endpoint", Value: astarte.StringArray([]string{"Hello ", "world!"})},
	}
}

func properties(parameter string) []idata.Property {
	fields := endpointValues()
	props := make([]idata.Property, len(fields))
	for i, f := range fields {
		props[i] = idata.Property{Path: "/" + parameter + "/" + f.Name, Value: f.Value}
	}
	return props
}

func unsetPaths(parameter string) []string {
	fields := endpointValues()
	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = "/" + parameter + "/" + f.Name
	}
	return paths
}

func datastreamMappings(now time.Time) []idata.DatastreamMapping {
	fields := endpointValues()
	mappings := make([]idata.DatastreamMapping, len(fields))
	for i, f := range fields {
		ts := now
		mappings[i] = idata.DatastreamMapping{Path: "/" + f.Name, Value: f.Value, Timestamp: &ts}
	}
	return mappings
}

// List builds the full ordered scenario. now is used for the explicit
// datastream and aggregate timestamps.
func List(now time.Time) []idata.InterfaceData {
	serverAggregateTS := now
	return []idata.InterfaceData{
		&idata.PropertySet{
			Interface:  ifaceDeviceProperty,
			Ownership:  idata.OwnershipDevice,
			Properties: properties("sensor36"),
		},
		&idata.PropertySet{
			Interface:  ifaceServerProperty,
			Ownership:  idata.OwnershipServer,
			Properties: properties("path84"),
		},
		&idata.Aggregate{
			Interface: ifaceDeviceAggregate,
			Ownership: idata.OwnershipDevice,
			Path:      "/sensor42",
			Entries:   endpointValues(),
		},
		&idata.Aggregate{
			Interface: ifaceServerAggregate,
			Ownership: idata.OwnershipServer,
			Path:      "/path37",
			Entries:   endpointValues(),
			Timestamp: &serverAggregateTS,
		},
		&idata.Datastream{
			Interface: ifaceDeviceDatastream,
			Ownership: idata.OwnershipDevice,
			Mappings:  datastreamMappings(now),
		},
		&idata.Datastream{
			Interface: ifaceServerDatastream,
			Ownership: idata.OwnershipServer,
			Mappings:  datastreamMappings(now),
		},
		&idata.PropertyUnset{
			Interface: ifaceDeviceProperty,
			Ownership: idata.OwnershipDevice,
			Unset:     unsetPaths("sensor36"),
		},
		&idata.PropertyUnset{
			Interface: ifaceServerProperty,
			Ownership: idata.OwnershipServer,
			Unset:     unsetPaths("path84"),
		},
	}
}
