package results

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// CSVLog appends one line per evaluation run to
//
//	<root>/logs/linear_eval/<dataset>/<model>/log.csv
//
// in the canonical key,value format:
//
//	epoch,<e>,linear_score,<s>,linear_score_5_mean,<m>,linear_score_5_std,<sd>
//
// Floats are rendered with %v, so 0.71 stays "0.71" rather than "0.710000".
type CSVLog struct {
	root string
}

// NewCSVLog creates a CSV sink rooted at dir.
func NewCSVLog(dir string) *CSVLog {
	return &CSVLog{root: dir}
}

// Path returns the log file path for a dataset and model.
func (l *CSVLog) Path(dataset, model string) string {
	return filepath.Join(l.root, "logs", "linear_eval", dataset, model, "log.csv")
}

// Line renders the canonical CSV line for a record, without a trailing newline.
func Line(r Record) string {
	return fmt.Sprintf("epoch,%d,linear_score,%v,linear_score_5_mean,%v,linear_score_5_std,%v",
		r.Epoch, r.Score, r.ShotMean, r.ShotStd)
}

// ParseLine parses a canonical CSV line. Dataset and Model are not part of
// the line; they come from the file path.
func ParseLine(s string) (Record, error) {
	fields := strings.Split(strings.TrimSpace(s), ",")
	if len(fields) != 8 {
		return Record{}, fmt.Errorf("results: malformed line %q", s)
	}
	keys := []string{"epoch", "linear_score", "linear_score_5_mean", "linear_score_5_std"}
	var r Record
	for i, key := range keys {
		if fields[2*i] != key {
			return Record{}, fmt.Errorf("results: malformed line %q: expected %q at field %d", s, key, 2*i)
		}
		val := fields[2*i+1]
		if key == "epoch" {
			epoch, err := strconv.Atoi(val)
			if err != nil {
				return Record{}, fmt.Errorf("results: malformed line %q: %w", s, err)
			}
			r.Epoch = epoch
			continue
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return Record{}, fmt.Errorf("results: malformed line %q: %w", s, err)
		}
		switch key {
		case "linear_score":
			r.Score = f
		case "linear_score_5_mean":
			r.ShotMean = f
		case "linear_score_5_std":
			r.ShotStd = f
		}
	}
	return r, nil
}

// Record implements Store. Each call appends and flushes a single line.
func (l *CSVLog) Record(ctx context.Context, r Record) error {
	if r.Dataset == "" || r.Model == "" {
		return fmt.Errorf("results: dataset and model are required")
	}
	path := l.Path(r.Dataset, r.Model)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("results: create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open log: %w", err)
	}
	if _, err := fmt.Fprintln(f, Line(r)); err != nil {
		f.Close()
		return fmt.Errorf("results: append log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("results: close log: %w", err)
	}
	return nil
}

// Query implements Store by walking every log file under the root. CSV lines
// carry no timestamps, so the From and To filters do not apply.
func (l *CSVLog) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	base := filepath.Join(l.root, "logs", "linear_eval")
	var records []Record
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "log.csv" {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		dataset, model := parts[0], parts[1]
		runs, err := l.readLog(path, dataset, model)
		if err != nil {
			return err
		}
		records = append(records, runs...)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return []Aggregate{}, nil
		}
		return nil, fmt.Errorf("results: walk logs: %w", err)
	}
	return aggregate(records, q), nil
}

func (l *CSVLog) readLog(path, dataset, model string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("results: open log: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		r, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		r.Dataset = dataset
		r.Model = model
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("results: read log: %w", err)
	}
	return records, nil
}
