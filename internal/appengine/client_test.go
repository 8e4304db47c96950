package appengine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		BaseURL:  srv.URL,
		Realm:    "test",
		DeviceID: "2TBn-jNESuuHamE2Zo1anA",
		Token:    "secret-token",
	})
	require.NoError(t, err)
	return c
}

func TestClient_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing base URL", cfg: Config{Realm: "r", DeviceID: "d", Token: "t"}, wantErr: "base URL is required"},
		{name: "missing realm", cfg: Config{BaseURL: "u", DeviceID: "d", Token: "t"}, wantErr: "realm is required"},
		{name: "missing device ID", cfg: Config{BaseURL: "u", Realm: "r", Token: "t"}, wantErr: "device ID is required"},
		{name: "missing token", cfg: Config{BaseURL: "u", Realm: "r", DeviceID: "d"}, wantErr: "token is required"},
		{name: "ok", cfg: Config{BaseURL: "u", Realm: "r", DeviceID: "d", Token: "t"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestClient_GetInterfaceData(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t,
			"/v1/test/devices/2TBn-jNESuuHamE2Zo1anA/interfaces/org.example.Iface/sensor36",
			r.URL.Path)
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.Equal(t, "1", r.URL.Query().Get("limit"))
		require.NotEmpty(t, r.URL.Query().Get("since_after"))

		_, _ = w.Write([]byte(`{"data":{"integer_endpoint":42,"longinteger_endpoint":"8589934592"}}`))
	})

	data, err := c.GetInterfaceData(context.Background(), "org.example.Iface", GetOptions{
		Path:       "/sensor36",
		Limit:      1,
		SinceAfter: time.Unix(1710940988, 0),
	})
	require.NoError(t, err)

	want := map[string]any{
		"integer_endpoint":     json.Number("42"),
		"longinteger_endpoint": "8589934592",
	}
	require.Empty(t, cmp.Diff(want, data))
}

func TestClient_GetInterfaceData_MissingDataIsEmpty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	data, err := c.GetInterfaceData(context.Background(), "org.example.Iface", GetOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, data)
}

func TestClient_GetInterfaceData_NonOKStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "device not found", http.StatusNotFound)
	})

	_, err := c.GetInterfaceData(context.Background(), "org.example.Iface", GetOptions{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "device not found")
}

func TestClient_DeviceConnected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "connected", body: `{"data":{"connected":true}}`, want: true},
		{name: "disconnected", body: `{"data":{"connected":false}}`, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/v1/test/devices/2TBn-jNESuuHamE2Zo1anA", r.URL.Path)
				require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
				_, _ = w.Write([]byte(tt.body))
			})

			connected, err := c.DeviceConnected(context.Background())
			require.NoError(t, err)
			require.Equal(t, tt.want, connected)
		})
	}
}

func TestClient_SendInterfaceData(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t,
			"/v1/test/devices/2TBn-jNESuuHamE2Zo1anA/interfaces/org.example.Iface/path84/integer_endpoint",
			r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"data":42}`, string(body))
	})

	err := c.SendInterfaceData(context.Background(), "org.example.Iface", "/path84/integer_endpoint", 42)
	require.NoError(t, err)
}

func TestClient_SendInterfaceData_NonOKStatus(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unprocessable", http.StatusUnprocessableEntity)
	})

	err := c.SendInterfaceData(context.Background(), "org.example.Iface", "/p", "v")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnprocessableEntity, statusErr.StatusCode)
}

func TestClient_UnsetProperty(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t,
			"/v1/test/devices/2TBn-jNESuuHamE2Zo1anA/interfaces/org.example.Iface/path84/integer_endpoint",
			r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.UnsetProperty(context.Background(), "org.example.Iface", "/path84/integer_endpoint")
	require.NoError(t, err)
}

func TestClient_UnsetProperty_RequiresNoContent(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	err := c.UnsetProperty(context.Background(), "org.example.Iface", "/p")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusOK, statusErr.StatusCode)
}
