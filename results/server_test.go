package results

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_RecordAndAggregates(t *testing.T) {
	store := NewMemoryStore(0)
	srv := httptest.NewServer(NewServer(store, "").handler())
	defer srv.Close()

	body := `{"dataset":"esc50","model":"vit_base","epoch":100,"linear_score":0.8532,"linear_score_5_mean":0.71,"linear_score_5_std":0.04}`
	resp, err := http.Post(srv.URL+"/record", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/aggregates?group_by=model")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var out aggregateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Aggregates, 1)
	assert.Equal(t, "vit_base", out.Aggregates[0].Key)
	assert.Equal(t, int64(1), out.Aggregates[0].Runs)
	assert.InDelta(t, 0.8532, out.Aggregates[0].BestScore, 1e-9)
	assert.InDelta(t, 0.71, out.Aggregates[0].BestShotMean, 1e-9)
}

func TestServer_RecordValidation(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewMemoryStore(0), "").handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/record", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/record", "application/json", strings.NewReader(`{"model":"vit_base"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Health(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewMemoryStore(0), "").handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewServer_DefaultAddr(t *testing.T) {
	s := NewServer(NewMemoryStore(0), "")
	assert.Equal(t, ":8080", s.Addr)
}
