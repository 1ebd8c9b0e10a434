package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captured struct {
	method string
	path   string
	query  string
	apiKey string
	body   map[string]interface{}
}

func fakeAPI(t *testing.T, status int, reply string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.query = r.URL.RawQuery
		got.apiKey = r.Header.Get("X-API-Key")
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			require.NoError(t, json.Unmarshal(data, &got.body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuySendsRequest(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusAccepted, `{"success":true,"data":{"accepted":true,"callback_id":7}}`)

	out, err := execute(t, "--server", srv.URL, "--api-key", "k", "buy", "gem", "--callback-id", "7", "--payload", "dev")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v1/billing/buy", got.path)
	assert.Equal(t, "k", got.apiKey)
	assert.Equal(t, "gem", got.body["sku"])
	assert.Equal(t, float64(7), got.body["callback_id"])
	assert.Equal(t, "dev", got.body["payload"])
	assert.Contains(t, out, `"callback_id": 7`)
}

func TestSubscribeReplaces(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusAccepted, `{"success":true,"data":{}}`)

	_, err := execute(t, "--server", srv.URL, "subscribe", "gold", "--replace", "silver,bronze")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/billing/subscribe", got.path)
	assert.Equal(t, []interface{}{"silver", "bronze"}, got.body["replaced_skus"])
}

func TestPollWait(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, `{"success":true,"data":{"callback_id":3,"error":null,"result":{}}}`)

	out, err := execute(t, "--server", srv.URL, "poll", "3", "--wait", "5s")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/callbacks/3", got.path)
	assert.Equal(t, "wait=5s", got.query)
	assert.Contains(t, out, `"callback_id": 3`)
}

func TestQueryUsesCallbackID(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusAccepted, `{"success":true,"data":{}}`)

	_, err := execute(t, "--server", srv.URL, "purchases", "--callback-id", "12")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "callback_id=12", got.query)
}

func TestApprovePath(t *testing.T) {
	srv, got := fakeAPI(t, http.StatusOK, `{"success":true,"data":{"handled":true}}`)

	_, err := execute(t, "--server", srv.URL, "approve", "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/sandbox/flows/abc-123/approve", got.path)
}

func TestAPIErrorIsReturned(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusNotFound, `{"success":false,"error":{"code":"NOT_FOUND","message":"no completion for callback 4"}}`)

	_, err := execute(t, "--server", srv.URL, "poll", "4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestPollRejectsNonInteger(t *testing.T) {
	_, err := execute(t, "poll", "x")
	assert.ErrorContains(t, err, "callback id must be an integer")
}
