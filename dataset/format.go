package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/resonata/probe/core"
)

// Clip is one example: a [frames, mels] feature patch and its class label.
type Clip struct {
	Features *core.Tensor
	Label    int
}

// Split is an ordered in-memory collection of clips sharing a mel count.
// Clips may have different frame counts; the loader crops or pads them.
type Split struct {
	Mels  int
	Clips []Clip
}

// Len returns the number of clips in the split.
func (s *Split) Len() int { return len(s.Clips) }

var splitMagic = [4]byte{'P', 'R', 'B', 'D'}

const splitVersion = 1

// WriteSplit writes a split in the binary clip format: a magic/version
// header, the clip and mel counts, then each clip as frame count, label and
// little-endian float32 features.
func WriteSplit(w io.Writer, s *Split) error {
	if _, err := w.Write(splitMagic[:]); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}
	head := []uint32{splitVersion, uint32(len(s.Clips)), uint32(s.Mels)}
	if err := binary.Write(w, binary.LittleEndian, head); err != nil {
		return fmt.Errorf("dataset: write header: %w", err)
	}
	for i, c := range s.Clips {
		if c.Features.Rank() != 2 || c.Features.Dim(1) != s.Mels {
			return fmt.Errorf("dataset: clip %d shape %v does not match %d mel bins: %w",
				i, c.Features.Shape, s.Mels, core.ErrShapeMismatch)
		}
		if c.Label < 0 {
			return fmt.Errorf("dataset: clip %d has negative label %d", i, c.Label)
		}
		if err := binary.Write(w, binary.LittleEndian, []uint32{uint32(c.Features.Dim(0)), uint32(c.Label)}); err != nil {
			return fmt.Errorf("dataset: write clip %d: %w", i, err)
		}
		if err := binary.Write(w, binary.LittleEndian, c.Features.Data); err != nil {
			return fmt.Errorf("dataset: write clip %d: %w", i, err)
		}
	}
	return nil
}

// ReadSplit reads a split in the binary clip format.
func ReadSplit(r io.Reader) (*Split, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}
	if magic != splitMagic {
		return nil, fmt.Errorf("dataset: bad magic %q", magic[:])
	}
	var head [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &head); err != nil {
		return nil, fmt.Errorf("dataset: read header: %w", err)
	}
	version, count, mels := head[0], head[1], head[2]
	if version != splitVersion {
		return nil, fmt.Errorf("dataset: unsupported format version %d", version)
	}
	if mels == 0 {
		return nil, fmt.Errorf("dataset: zero mel bins in header")
	}
	s := &Split{Mels: int(mels), Clips: make([]Clip, 0, count)}
	for i := uint32(0); i < count; i++ {
		var clipHead [2]uint32
		if err := binary.Read(r, binary.LittleEndian, &clipHead); err != nil {
			return nil, fmt.Errorf("dataset: read clip %d: %w", i, err)
		}
		frames, label := clipHead[0], clipHead[1]
		if frames == 0 {
			return nil, fmt.Errorf("dataset: clip %d has zero frames", i)
		}
		data := make([]float32, int(frames)*int(mels))
		if err := binary.Read(r, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("dataset: read clip %d: %w", i, err)
		}
		t, err := core.TensorOf(data, int(frames), int(mels))
		if err != nil {
			return nil, fmt.Errorf("dataset: clip %d: %w", i, err)
		}
		s.Clips = append(s.Clips, Clip{Features: t, Label: int(label)})
	}
	return s, nil
}

// ReadSplitFile reads a split file, transparently decompressing .gz files.
func ReadSplitFile(path string) (*Split, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("dataset: open %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	return ReadSplit(r)
}

// WriteSplitFile writes a split file, gzip-compressing when the path ends
// in .gz.
func WriteSplitFile(path string, s *Split) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", path, err)
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := WriteSplit(w, s); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("dataset: close %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dataset: close %s: %w", path, err)
	}
	return nil
}
