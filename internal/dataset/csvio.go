package dataset

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
)

// SplitPaths are the output CSV locations (PATHS.TRAIN_SET/VAL_SET/TEST_SET).
type SplitPaths struct {
	Train string
	Val   string
	Test  string
}

func (p SplitPaths) forEach() []string {
	return []string{p.Train, p.Val, p.Test}
}

// ReadCSV reads split rows from path. A missing or empty file yields no rows
// and no error when allowMissing is set.
func ReadCSV(fs afero.Fs, path string, allowMissing bool) ([]Sample, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if allowMissing && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var rows []Sample
	if err := gocsv.Unmarshal(bytes.NewReader(data), &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range rows {
		if rows[i].LabelStr == "" {
			rows[i].LabelStr = LabelString(rows[i].Label)
		}
	}
	return rows, nil
}

// ReadLabels reads the SIIM label table.
func ReadLabels(fs afero.Fs, path string) ([]LabelRow, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	var rows []LabelRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("parse labels %s: %w", path, err)
	}
	return rows, nil
}

// WriteSplits writes the three splits to their CSV paths. With appendExisting
// the rows already present at each path are kept in front of the new ones,
// and a file written by pandas keeps its unnamed index column header.
// Every file body is rendered before the first write, and each file is
// replaced through a temp file and rename, so a failure while reading or
// encoding leaves the previous CSVs untouched. The returned Splits hold the
// full written contents.
func WriteSplits(fs afero.Fs, paths SplitPaths, s Splits, appendExisting bool) (Splits, error) {
	named := s.Named()
	bodies := make([][]byte, len(named))
	written := make([][]Sample, len(named))
	for i, path := range paths.forEach() {
		if path == "" {
			return Splits{}, fmt.Errorf("no output path for %s split", named[i].Name)
		}
		var rows []Sample
		unnamedIndex := false
		if appendExisting {
			existing, err := ReadCSV(fs, path, true)
			if err != nil {
				return Splits{}, fmt.Errorf("append %s: %w", named[i].Name, err)
			}
			rows = append(rows, existing...)
			unnamedIndex = hasUnnamedIndex(fs, path)
		}
		rows = append(rows, named[i].Samples...)
		for j := range rows {
			rows[j].Index = j
		}
		var buf bytes.Buffer
		if err := gocsv.Marshal(&rows, &buf); err != nil {
			return Splits{}, fmt.Errorf("encode %s: %w", named[i].Name, err)
		}
		bodies[i] = buf.Bytes()
		if unnamedIndex {
			bodies[i] = bytes.TrimPrefix(bodies[i], []byte(indexColumn))
		}
		written[i] = rows
	}

	for i, path := range paths.forEach() {
		if err := replaceFile(fs, path, bodies[i]); err != nil {
			return Splits{}, fmt.Errorf("write %s: %w", named[i].Name, err)
		}
	}
	return Splits{Train: written[0], Val: written[1], Test: written[2]}, nil
}

// hasUnnamedIndex reports whether the CSV at path starts with the blank
// index header pandas writes.
func hasUnnamedIndex(fs afero.Fs, path string) bool {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return false
	}
	return bytes.HasPrefix(data, []byte(","))
}

func replaceFile(fs afero.Fs, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	return nil
}
