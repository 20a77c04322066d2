package encoder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

func TestRemote_Forward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/encode", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req remoteReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "byol-a", req.Model)
		assert.Equal(t, []int{2, 3, 2}, req.Shape)

		resp := remoteResp{Layers: []remoteTensor{
			{Shape: []int{2, 4}, Data: []float32{0, 0, 0, 0, 1, 1, 1, 1}},
			{Shape: []int{2, 4}, Data: []float32{1, 2, 3, 4, 5, 6, 7, 8}},
		}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewRemote(RemoteConfig{BaseURL: srv.URL, Model: "byol-a", EmbedDim: 4, APIKey: "sk-test"})
	require.NoError(t, err)

	outs, err := e.Forward(context.Background(), core.NewTensor(2, 3, 2))
	require.NoError(t, err)
	require.Len(t, outs, 2)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, outs[1].Data)
}

func TestRemote_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e, err := NewRemote(RemoteConfig{BaseURL: srv.URL, Model: "byol-a", EmbedDim: 4})
	require.NoError(t, err)

	_, err = e.Forward(context.Background(), core.NewTensor(1, 2, 2))
	require.Error(t, err)
	assert.ErrorContains(t, err, "503")
	assert.ErrorContains(t, err, "model is not loaded")
}

func TestRemote_RejectsRowMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := remoteResp{Layers: []remoteTensor{{Shape: []int{1, 4}, Data: []float32{1, 2, 3, 4}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e, err := NewRemote(RemoteConfig{BaseURL: srv.URL, Model: "byol-a", EmbedDim: 4})
	require.NoError(t, err)

	_, err = e.Forward(context.Background(), core.NewTensor(2, 3, 2))
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestNewRemote_Validation(t *testing.T) {
	_, err := NewRemote(RemoteConfig{Model: "m", EmbedDim: 4})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{BaseURL: "http://x", EmbedDim: 4})
	assert.Error(t, err)
	_, err = NewRemote(RemoteConfig{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)
}
