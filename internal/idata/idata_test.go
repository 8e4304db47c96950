package idata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/astarte-platform/device-e2e/internal/appengine"
	"github.com/astarte-platform/device-e2e/internal/astarte"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	commands  []string
	banners   []string
	execErr   error
	bannerErr error
}

func (d *fakeDevice) SendLine(ctx context.Context, command string) error {
	d.commands = append(d.commands, command)
	return d.execErr
}

func (d *fakeDevice) ExecCommand(ctx context.Context, command string) error {
	d.commands = append(d.commands, command)
	return d.execErr
}

func (d *fakeDevice) ReadLinesUntil(ctx context.Context, re *regexp.Regexp, timeout time.Duration) error {
	d.banners = append(d.banners, re.String())
	return d.bannerErr
}

func (d *fakeDevice) ClearBuffer() {}

type postCall struct {
	iface, path string
	data        any
}

type fakeCloud struct {
	getFunc func(iface string, opts appengine.GetOptions) (any, error)
	posts   []postCall
	postErr error
	deletes []string
}

func (c *fakeCloud) GetInterfaceData(ctx context.Context, iface string, opts appengine.GetOptions) (any, error) {
	if c.getFunc == nil {
		return map[string]any{}, nil
	}
	return c.getFunc(iface, opts)
}

func (c *fakeCloud) SendInterfaceData(ctx context.Context, iface, path string, data any) error {
	c.posts = append(c.posts, postCall{iface: iface, path: path, data: data})
	return c.postErr
}

func (c *fakeCloud) UnsetProperty(ctx context.Context, iface, path string) error {
	c.deletes = append(c.deletes, iface+path)
	return nil
}

func newTestSession(device *fakeDevice, cloud *fakeCloud) *Session {
	return &Session{
		Log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:         clockwork.NewRealClock(),
		Device:        device,
		Cloud:         cloud,
		Settle:        time.Millisecond,
		RetryInterval: time.Millisecond,
		RetryBudget:   3,
		VerifyTimeout: 100 * time.Millisecond,
	}
}

func TestDeviceShellCommand_Grammar(t *testing.T) {
	t.Parallel()

	ts := time.UnixMilli(1710940988000).UTC()
	ds := &Datastream{Interface: "org.example.Iface", Ownership: OwnershipDevice}

	t.Run("individual without timestamp", func(t *testing.T) {
		t.Parallel()

		cmd, err := ds.DeviceShellCommand(sendVerb, DatastreamMapping{
			Path:  "/integer_endpoint",
			Value: astarte.Integer(42),
		})
		require.NoError(t, err)

		tokens := strings.Split(cmd, " ")
		require.Len(t, tokens, 5)
		require.Equal(t, []string{"send", "individual", "org.example.Iface", "/integer_endpoint"}, tokens[:4])

		decoded, err := astarte.DecodeShellPayload(tokens[4])
		require.NoError(t, err)
		require.True(t, astarte.Equal(decoded, astarte.Integer(42)))
	})

	t.Run("individual with timestamp", func(t *testing.T) {
		t.Parallel()

		cmd, err := ds.DeviceShellCommand(sendVerb, DatastreamMapping{
			Path:      "/integer_endpoint",
			Value:     astarte.Integer(42),
			Timestamp: &ts,
		})
		require.NoError(t, err)

		tokens := strings.Split(cmd, " ")
		require.Len(t, tokens, 6)
		require.Equal(t, "1710940988000", tokens[5])
	})

	t.Run("object", func(t *testing.T) {
		t.Parallel()

		agg := &Aggregate{
			Interface: "org.example.Object",
			Ownership: OwnershipDevice,
			Path:      "/sensor42",
			Entries: []astarte.ObjectField{
				{Name: "boolean_endpoint", Value: astarte.Bool(true)},
			},
		}
		cmd, err := agg.DeviceShellCommand(expectVerb, agg.Entries)
		require.NoError(t, err)

		tokens := strings.Split(cmd, " ")
		require.Len(t, tokens, 5)
		require.Equal(t, []string{"expect", "object", "org.example.Object", "/sensor42"}, tokens[:4])

		fields, err := astarte.DecodeShellObject(tokens[4])
		require.NoError(t, err)
		require.Len(t, fields, 1)
		require.Equal(t, "boolean_endpoint", fields[0].Name)
	})

	t.Run("object with timestamp", func(t *testing.T) {
		t.Parallel()

		agg := &Aggregate{
			Interface: "org.example.Object",
			Ownership: OwnershipServer,
			Path:      "/path37",
			Entries:   []astarte.ObjectField{{Name: "double_endpoint", Value: astarte.Double(15.42)}},
			Timestamp: &ts,
		}
		cmd, err := agg.DeviceShellCommand(sendVerb, agg.Entries)
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(cmd, " 1710940988000"))
	})

	t.Run("property set", func(t *testing.T) {
		t.Parallel()

		ps := &PropertySet{Interface: "org.example.Props", Ownership: OwnershipDevice}
		cmd, err := ps.DeviceShellCommand(sendVerb, Property{
			Path:  "/sensor36/string_endpoint",
			Value: astarte.String("Hello world!"),
		})
		require.NoError(t, err)

		tokens := strings.Split(cmd, " ")
		require.Len(t, tokens, 6)
		require.Equal(t, []string{"send", "property", "set", "org.example.Props", "/sensor36/string_endpoint"}, tokens[:5])
	})

	t.Run("property unset has no payload", func(t *testing.T) {
		t.Parallel()

		pu := &PropertyUnset{Interface: "org.example.Props", Ownership: OwnershipDevice}
		cmd, err := pu.DeviceShellCommand(sendVerb, "/sensor36/string_endpoint")
		require.NoError(t, err)
		require.Equal(t, "send property unset org.example.Props /sensor36/string_endpoint", cmd)
	})
}

func TestRun_ServerOwnedProtocol(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	cloud := &fakeCloud{}
	s := newTestSession(device, cloud)

	ps := &PropertySet{
		Interface: "org.example.ServerProps",
		Ownership: OwnershipServer,
		Properties: []Property{
			{Path: "/path84/integer_endpoint", Value: astarte.Integer(42)},
			{Path: "/path84/binaryblob_endpoint", Value: astarte.Blob([]byte("Hello"))},
		},
	}

	require.NoError(t, ps.Run(context.Background(), s))

	// One expect command per property, then the verify request.
	require.Len(t, device.commands, 3)
	require.True(t, strings.HasPrefix(device.commands[0], "expect property set org.example.ServerProps /path84/integer_endpoint "))
	require.True(t, strings.HasPrefix(device.commands[1], "expect property set org.example.ServerProps /path84/binaryblob_endpoint "))
	require.Equal(t, "expect verify", device.commands[2])
	require.Equal(t, []string{"All expected data received$"}, device.banners)

	// Cloud pushes carry the transmit encoding: blobs as base64 strings.
	require.Len(t, cloud.posts, 2)
	require.Equal(t, int64(42), cloud.posts[0].data)
	require.Equal(t, "SGVsbG8=", cloud.posts[1].data)
}

func TestRun_ServerOwnedUnsetDeletesProperties(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	cloud := &fakeCloud{}
	s := newTestSession(device, cloud)

	pu := &PropertyUnset{
		Interface: "org.example.ServerProps",
		Ownership: OwnershipServer,
		Unset:     []string{"/path84/integer_endpoint", "/path84/string_endpoint"},
	}

	require.NoError(t, pu.Run(context.Background(), s))
	require.Equal(t, []string{
		"org.example.ServerProps/path84/integer_endpoint",
		"org.example.ServerProps/path84/string_endpoint",
	}, cloud.deletes)
	require.Empty(t, cloud.posts)
}

func TestRun_ServerOwnedFailsWithoutConfirmationBanner(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{bannerErr: errors.New("no line matching")}
	s := newTestSession(device, &fakeCloud{})

	ds := &Datastream{
		Interface: "org.example.ServerData",
		Ownership: OwnershipServer,
		Mappings:  []DatastreamMapping{{Path: "/boolean_endpoint", Value: astarte.Bool(true)}},
	}

	err := ds.Run(context.Background(), s)
	require.ErrorContains(t, err, "did not confirm expected data")
}

func TestRun_DeviceOwnedVerifiesAfterRetries(t *testing.T) {
	t.Parallel()

	device := &fakeDevice{}
	attempts := 0
	cloud := &fakeCloud{
		getFunc: func(iface string, opts appengine.GetOptions) (any, error) {
			attempts++
			if attempts < 3 {
				return map[string]any{}, nil
			}
			return map[string]any{
				"sensor36": map[string]any{"integer_endpoint": int64(42)},
			}, nil
		},
	}
	s := newTestSession(device, cloud)

	ps := &PropertySet{
		Interface:  "org.example.DeviceProps",
		Ownership:  OwnershipDevice,
		Properties: []Property{{Path: "/sensor36/integer_endpoint", Value: astarte.Integer(42)}},
	}

	require.NoError(t, ps.Run(context.Background(), s))
	require.Equal(t, 3, attempts)
	require.Len(t, device.commands, 1)
	require.True(t, strings.HasPrefix(device.commands[0], "send property set "))
	require.Empty(t, cloud.posts, "device-owned data must not be pushed from the server side")
}

func TestRun_DeviceOwnedRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	attempts := 0
	cloud := &fakeCloud{
		getFunc: func(iface string, opts appengine.GetOptions) (any, error) {
			attempts++
			return map[string]any{}, nil
		},
	}
	s := newTestSession(&fakeDevice{}, cloud)

	ds := &Datastream{
		Interface: "org.example.DeviceData",
		Ownership: OwnershipDevice,
		Mappings:  []DatastreamMapping{{Path: "/integer_endpoint", Value: astarte.Integer(42)}},
	}

	err := ds.Run(context.Background(), s)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, s.RetryBudget, verr.Attempts)
	require.Equal(t, s.RetryBudget, attempts)
	require.Equal(t, "/integer_endpoint", verr.Path)
}

func TestRun_DeviceOwnedLenientModeContinues(t *testing.T) {
	t.Parallel()

	cloud := &fakeCloud{
		getFunc: func(iface string, opts appengine.GetOptions) (any, error) {
			return map[string]any{}, nil
		},
	}
	s := newTestSession(&fakeDevice{}, cloud)
	s.Lenient = true

	ds := &Datastream{
		Interface: "org.example.DeviceData",
		Ownership: OwnershipDevice,
		Mappings:  []DatastreamMapping{{Path: "/integer_endpoint", Value: astarte.Integer(42)}},
	}

	require.NoError(t, ds.Run(context.Background(), s))
}

func TestRun_DeviceOwnedTransportErrorAborts(t *testing.T) {
	t.Parallel()

	boom := errors.New("GET failed: status=500")
	attempts := 0
	cloud := &fakeCloud{
		getFunc: func(iface string, opts appengine.GetOptions) (any, error) {
			attempts++
			return nil, boom
		},
	}
	s := newTestSession(&fakeDevice{}, cloud)

	ds := &Datastream{
		Interface: "org.example.DeviceData",
		Ownership: OwnershipDevice,
		Mappings:  []DatastreamMapping{{Path: "/integer_endpoint", Value: astarte.Integer(42)}},
	}

	err := ds.Run(context.Background(), s)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts, "transport errors must not be retried as mismatches")
}

func TestPropertyUnset_CheckTreatsMissingParameterAsUnset(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response any
		want     bool
	}{
		{name: "interface returns nothing", response: map[string]any{}, want: true},
		{
			name:     "parameter present without endpoint",
			response: map[string]any{"sensor36": map[string]any{}},
			want:     true,
		},
		{
			name:     "array endpoint reported as null",
			response: map[string]any{"sensor36": map[string]any{"integerarray_endpoint": nil}},
			want:     true,
		},
		{
			name:     "value still stored",
			response: map[string]any{"sensor36": map[string]any{"integer_endpoint": int64(42)}},
			want:     false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cloud := &fakeCloud{
				getFunc: func(string, appengine.GetOptions) (any, error) { return tt.response, nil },
			}
			s := newTestSession(&fakeDevice{}, cloud)
			pu := &PropertyUnset{Interface: "org.example.Props", Ownership: OwnershipDevice}

			got, err := pu.CheckServerReceivedData(context.Background(), s, "/sensor36/integer_endpoint")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAggregate_CheckComparesLatestSample(t *testing.T) {
	t.Parallel()

	agg := &Aggregate{
		Interface: "org.example.DeviceAggregate",
		Ownership: OwnershipDevice,
		Path:      "/sensor42",
		Entries: []astarte.ObjectField{
			{Name: "integer_endpoint", Value: astarte.Integer(42)},
			{Name: "longinteger_endpoint", Value: astarte.Integer(8589934592)},
		},
	}

	var gotOpts appengine.GetOptions
	cloud := &fakeCloud{
		getFunc: func(iface string, opts appengine.GetOptions) (any, error) {
			gotOpts = opts
			return map[string]any{
				"sensor42": []any{map[string]any{
					"integer_endpoint":     int64(42),
					"longinteger_endpoint": "8589934592",
				}},
			}, nil
		},
	}
	s := newTestSession(&fakeDevice{}, cloud)

	ok, err := agg.CheckServerReceivedData(context.Background(), s, agg.Entries)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, gotOpts.Limit, "aggregates query only the latest sample")
}

func TestDatastream_CheckReadsValueField(t *testing.T) {
	t.Parallel()

	ds := &Datastream{Interface: "org.example.DeviceData", Ownership: OwnershipDevice}
	el := DatastreamMapping{Path: "/longinteger_endpoint", Value: astarte.Integer(8589934592)}

	cloud := &fakeCloud{
		getFunc: func(string, appengine.GetOptions) (any, error) {
			return map[string]any{
				"longinteger_endpoint": map[string]any{
					"value":     "8589934592",
					"timestamp": "2024-03-20T13:23:08.000Z",
				},
			}, nil
		},
	}
	s := newTestSession(&fakeDevice{}, cloud)

	ok, err := ds.CheckServerReceivedData(context.Background(), s, el)
	require.NoError(t, err)
	require.True(t, ok)
}
