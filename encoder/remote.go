package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/resonata/probe/core"
)

// Remote is an HTTP client for an embedding service hosting the frozen
// encoder out of process.
type Remote struct {
	BaseURL    string
	Model      string
	APIKey     string
	HTTPClient *http.Client

	embedDim int
}

// RemoteConfig configures the remote encoder client.
type RemoteConfig struct {
	BaseURL    string
	Model      string
	EmbedDim   int
	APIKey     string
	HTTPClient *http.Client
}

// NewRemote creates an encoder that posts batches to an embedding service.
func NewRemote(cfg RemoteConfig) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("remote: model name is required")
	}
	if cfg.EmbedDim <= 0 {
		return nil, fmt.Errorf("remote: embedding dim must be positive, got %d", cfg.EmbedDim)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &Remote{
		BaseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		HTTPClient: client,
		embedDim:   cfg.EmbedDim,
	}, nil
}

func (r *Remote) Name() string  { return r.Model }
func (r *Remote) EmbedDim() int { return r.embedDim }

// wire types for the /encode endpoint.
type remoteReq struct {
	Model string    `json:"model"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type remoteTensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

type remoteResp struct {
	Layers []remoteTensor `json:"layers"`
}

// Forward implements Encoder by posting the batch to <base>/encode and
// decoding the per-layer outputs.
func (r *Remote) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	if batch.Rank() != 3 {
		return nil, fmt.Errorf("remote %s: batch rank %d, want 3: %w", r.Model, batch.Rank(), core.ErrShapeMismatch)
	}
	body := remoteReq{Model: r.Model, Shape: batch.Shape, Data: batch.Data}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("remote encode: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/encode", &buf)
	if err != nil {
		return nil, err
	}
	if r.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := r.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("remote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		bs, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote api error %d: %s", resp.StatusCode, string(bs))
	}
	var out remoteResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("remote decode: %w", err)
	}
	if len(out.Layers) == 0 {
		return nil, fmt.Errorf("remote: no layers in response")
	}
	n := batch.Dim(0)
	layers := make([]*core.Tensor, len(out.Layers))
	for i, l := range out.Layers {
		t, err := core.TensorOf(l.Data, l.Shape...)
		if err != nil {
			return nil, fmt.Errorf("remote layer %d: %w", i, err)
		}
		if t.Rank() != 2 || t.Dim(0) != n {
			return nil, fmt.Errorf("remote layer %d has shape %v, want [%d, dim]: %w",
				i, t.Shape, n, core.ErrShapeMismatch)
		}
		layers[i] = t
	}
	last := layers[len(layers)-1]
	if last.Dim(1) != r.embedDim {
		return nil, fmt.Errorf("remote embedding dim %d, configured %d: %w",
			last.Dim(1), r.embedDim, core.ErrShapeMismatch)
	}
	return layers, nil
}
