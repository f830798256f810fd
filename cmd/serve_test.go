//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/api"
)

// newTestServer serves the same router the serve command builds, backed by
// a SQLite environment in a temp dir.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg = testConfig(t)

	env, err := initService(context.Background(), "serve")
	require.NoError(t, err)
	t.Cleanup(env.Close)

	srv := httptest.NewServer(api.NewHandler(env.Service, env.Registry).Router(cfg.Server.CORSOrigins))
	t.Cleanup(srv.Close)
	return srv
}

func TestServe_Health(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_IngestAndGet(t *testing.T) {
	srv := newTestServer(t)

	payload := `{"run_id":"run-http",` + testExtraction[1:]
	resp, err := http.Post(srv.URL+"/runs", "application/json", bytes.NewBufferString(payload))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var ingested struct {
		RunID   string `json:"run_id"`
		Created bool   `json:"created"`
		Merge   struct {
			Unknown []string `json:"unknown"`
		} `json:"merge"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ingested))
	assert.Equal(t, "run-http", ingested.RunID)
	assert.True(t, ingested.Created)
	assert.Equal(t, []string{"passport.hair_color"}, ingested.Merge.Unknown)

	get, err := http.Get(srv.URL + "/runs/run-http")
	require.NoError(t, err)
	defer get.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, get.StatusCode)

	approve, err := http.Post(srv.URL+"/runs/run-http/approve", "application/json", nil)
	require.NoError(t, err)
	defer approve.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusConflict, approve.StatusCode)

	var blocked struct {
		Blocking []string `json:"blocking"`
	}
	require.NoError(t, json.NewDecoder(approve.Body).Decode(&blocked))
	assert.Contains(t, blocked.Blocking, "passport.passport_number")
}

func TestServe_UnknownRun(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/runs/nope")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
