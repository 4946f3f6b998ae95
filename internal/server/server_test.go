package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/measure/internal/datalayer"
	"github.com/roach88/measure/internal/testutil"
)

type received struct {
	mu   sync.Mutex
	args [][]any
}

func (r *received) handle(_ context.Context, args []any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.args = append(r.args, args)
	return nil
}

func (r *received) all() [][]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]any(nil), r.args...)
}

func newTestServer(t *testing.T) (*httptest.Server, *datalayer.DataLayer, *received) {
	t.Helper()
	logger, _ := testutil.NewLogger()
	dl := datalayer.New(datalayer.WithLogger(logger))
	rec := &received{}
	ctx := context.Background()
	dl.RegisterProcessor(ctx, datalayer.CommandEvent, rec.handle)
	dl.Process(ctx)

	ts := httptest.NewServer(New(dl, "", WithLogger(logger)).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(dl.Close)
	return ts, dl, rec
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestCommands_PushesInOrder(t *testing.T) {
	ts, dl, rec := newTestServer(t)

	resp := post(t, ts.URL+"/commands", `[
		{"name": "", "args": [{"page_title": "Home"}]},
		{"name": "event", "args": ["page_view", {"page_path": "/"}]},
		{"name": "event", "args": ["scroll"]}
	]`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	got := rec.all()
	require.Len(t, got, 2)
	assert.Equal(t, []any{"page_view", map[string]any{"page_path": "/"}}, got[0])
	assert.Equal(t, []any{"scroll"}, got[1])
	assert.Equal(t, "Home", dl.Model().Get("page_title"))
}

func TestCommands_UnhandledNamesAreParked(t *testing.T) {
	ts, dl, _ := newTestServer(t)

	resp := post(t, ts.URL+"/commands", `[{"name": "set", "args": ["k", "v"]}]`)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, dl.Parked(), 1)
	assert.Equal(t, "set", dl.Parked()[0].Name)
}

func TestCommands_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{`},
		{"not an array", `{"name": "event"}`},
		{"trailing data", `[] []`},
		{"model update without object", `[{"name": "", "args": ["x"]}]`},
		{"model update with two args", `[{"name": "", "args": [{}, {}]}]`},
		{"config", `[{"name": "event", "args": ["ok"]}, {"name": "config", "args": ["googleAnalytics", {}, "sqlite", {"path": "other.db"}]}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, dl, rec := newTestServer(t)
			resp := post(t, ts.URL+"/commands", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, rec.all())
			assert.Empty(t, dl.Parked())
		})
	}
}

func TestCommands_MethodNotAllowed(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/commands")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestModel(t *testing.T) {
	ts, dl, _ := newTestServer(t)
	dl.Push(context.Background(), datalayer.StateCommand(map[string]any{"cart": map[string]any{"total": 3}}))

	resp, err := http.Get(ts.URL + "/model")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var model map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&model))
	assert.Equal(t, map[string]any{"cart": map[string]any{"total": float64(3)}}, model)

	resp = post(t, ts.URL+"/model", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	logger, logs := testutil.NewLogger()
	dl := datalayer.New(datalayer.WithLogger(logger))
	defer dl.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(dl, "", WithLogger(logger)).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	var messages []string
	for _, r := range logs.Records() {
		messages = append(messages, r.Message)
	}
	assert.Contains(t, messages, "server exited")
}

func TestRun_ListenError(t *testing.T) {
	dl := datalayer.New()
	defer dl.Close()
	err := New(dl, "256.0.0.1:bad").Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}
