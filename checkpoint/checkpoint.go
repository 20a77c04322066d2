// Package checkpoint reads and writes serialized encoder parameters.
package checkpoint

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/resonata/probe/core"
)

// FormatV1 identifies the current checkpoint document format.
const FormatV1 = "probe.checkpoint.v1"

// Checkpoint holds a serialized parameter map plus metadata.
type Checkpoint struct {
	Model  string
	Epoch  int
	Params map[string]*core.Tensor
}

// encoderPrefixes are tried in order when normalizing keys for an encoder.
var encoderPrefixes = []string{"backbone.encoder.", "encoder.encoder."}

// Save writes cp to path as a gzip-compressed v1 document.
func Save(path string, cp *Checkpoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: create %s: %w", path, err)
	}
	zw := gzip.NewWriter(f)
	if err := Write(zw, cp); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: write %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("checkpoint: close %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("checkpoint: close %s: %w", path, err)
	}
	return nil
}

// Write encodes cp as a v1 document.
func Write(w io.Writer, cp *Checkpoint) error {
	doc := struct {
		Format string                  `json:"format"`
		Model  string                  `json:"model,omitempty"`
		Epoch  int                     `json:"epoch,omitempty"`
		Params map[string]*core.Tensor `json:"params"`
	}{
		Format: FormatV1,
		Model:  cp.Model,
		Epoch:  cp.Epoch,
		Params: cp.Params,
	}
	if doc.Params == nil {
		doc.Params = map[string]*core.Tensor{}
	}
	return json.NewEncoder(w).Encode(doc)
}

// Load reads a checkpoint file, accepting gzip or plain JSON. A missing
// file reports ErrCheckpointNotFound.
func Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checkpoint %s: %w", path, core.ErrCheckpointNotFound)
		}
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()
	cp, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// Read decodes a checkpoint document, sniffing for gzip compression.
func Read(r io.Reader) (*Checkpoint, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(2); err == nil && head[0] == 0x1f && head[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: gunzip: %w", err)
		}
		defer zr.Close()
		return decode(zr)
	}
	return decode(br)
}

// decode accepts three document shapes: the v1 header with a "params"
// object, a document whose "model" key nests the parameter map, and a flat
// parameter map with no header at all.
func decode(r io.Reader) (*Checkpoint, error) {
	var top map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&top); err != nil {
		return nil, fmt.Errorf("checkpoint: decode: %w", err)
	}
	cp := &Checkpoint{}
	if raw, ok := top["model"]; ok && isString(raw) {
		if err := json.Unmarshal(raw, &cp.Model); err != nil {
			return nil, fmt.Errorf("checkpoint: model field: %w", err)
		}
	}
	if raw, ok := top["epoch"]; ok {
		if err := json.Unmarshal(raw, &cp.Epoch); err != nil {
			return nil, fmt.Errorf("checkpoint: epoch field: %w", err)
		}
	}

	var rawParams json.RawMessage
	switch {
	case top["params"] != nil:
		rawParams = top["params"]
	case isObject(top["model"]):
		rawParams = top["model"]
	case top["format"] != nil:
		return nil, fmt.Errorf("checkpoint: document carries a format header but no params")
	default:
		flat, err := json.Marshal(top)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: decode: %w", err)
		}
		rawParams = flat
	}
	params, err := decodeParams(rawParams)
	if err != nil {
		return nil, err
	}
	cp.Params = params
	return cp, nil
}

func decodeParams(raw json.RawMessage) (map[string]*core.Tensor, error) {
	var params map[string]*core.Tensor
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("checkpoint: params: %w", err)
	}
	for name, t := range params {
		if t == nil {
			return nil, fmt.Errorf("checkpoint: parameter %s is null", name)
		}
		if _, err := core.TensorOf(t.Data, t.Shape...); err != nil {
			return nil, fmt.Errorf("checkpoint: parameter %s: %w", name, err)
		}
	}
	return params, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '"'
}

// StripPrefix returns the subset of params whose keys carry prefix, with
// the prefix removed. An empty result means the prefix never occurred.
func StripPrefix(params map[string]*core.Tensor, prefix string) map[string]*core.Tensor {
	out := make(map[string]*core.Tensor)
	for k, v := range params {
		if strings.HasPrefix(k, prefix) {
			out[k[len(prefix):]] = v
		}
	}
	return out
}

// EncoderState normalizes the parameter keys for loading into an encoder:
// keys under "backbone.encoder." win, then "encoder.encoder.", otherwise
// the map is returned unmodified.
func (c *Checkpoint) EncoderState() map[string]*core.Tensor {
	for _, prefix := range encoderPrefixes {
		if sub := StripPrefix(c.Params, prefix); len(sub) > 0 {
			return sub
		}
	}
	return c.Params
}
