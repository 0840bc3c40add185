// Package cache persists extraction results keyed by source file and its
// modification time, so unchanged files skip the parse on later runs.
// Cached sets round-trip losslessly: values are stored with an explicit
// type tag because plain JSON would turn every int64 into a float64 and
// change loader output between cached and uncached runs.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/trafficgeo/accident-etl/internal/domain"
)

// Store is a directory of per-file cache entries.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New opens (creating if needed) the cache directory.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

type cachedValue struct {
	T string `json:"t"` // i, f, s, b, n
	V string `json:"v,omitempty"`
}

type entry struct {
	SourcePath    string                   `json:"source_path"`
	SourceModTime time.Time                `json:"source_mod_time"`
	Columns       []string                 `json:"columns"`
	Records       []map[string]cachedValue `json:"records"`
}

// Get returns the cached record set for path if one exists and the source
// file has not been modified since it was written. A corrupt entry is
// deleted and reported as a miss; the source is simply re-extracted.
func (s *Store) Get(path string) (domain.RecordSet, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.RecordSet{}, false
	}

	keyPath := s.keyPath(path)
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return domain.RecordSet{}, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		s.logger.Warn("corrupt cache entry, discarding", "path", keyPath, "error", err)
		_ = os.Remove(keyPath)
		return domain.RecordSet{}, false
	}
	if !e.SourceModTime.Equal(info.ModTime()) {
		return domain.RecordSet{}, false
	}

	rs := domain.NewRecordSet(e.Columns...)
	for _, rec := range e.Records {
		fields := make(map[string]domain.Value, len(rec))
		for col, cv := range rec {
			v, err := decodeValue(cv)
			if err != nil {
				s.logger.Warn("corrupt cache value, discarding entry", "path", keyPath, "column", col, "error", err)
				_ = os.Remove(keyPath)
				return domain.RecordSet{}, false
			}
			fields[col] = v
		}
		rs.Append(domain.Record{Fields: fields})
	}
	return rs, true
}

// Put writes the record set for path, keyed by the source's current
// modification time. The entry is written to a temp file and renamed so a
// crash never leaves a half-written entry behind.
func (s *Store) Put(path string, rs domain.RecordSet) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	e := entry{
		SourcePath:    path,
		SourceModTime: info.ModTime(),
		Columns:       rs.Columns,
		Records:       make([]map[string]cachedValue, 0, len(rs.Records)),
	}
	for _, r := range rs.Records {
		rec := make(map[string]cachedValue, len(r.Fields))
		for col, v := range r.Fields {
			rec[col] = encodeValue(v)
		}
		e.Records = append(e.Records, rec)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	keyPath := s.keyPath(path)
	tmp := keyPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return os.Rename(tmp, keyPath)
}

func (s *Store) keyPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:8])+".json")
}

func encodeValue(v domain.Value) cachedValue {
	switch t := v.(type) {
	case nil:
		return cachedValue{T: "n"}
	case int64:
		return cachedValue{T: "i", V: strconv.FormatInt(t, 10)}
	case float64:
		return cachedValue{T: "f", V: strconv.FormatFloat(t, 'g', -1, 64)}
	case bool:
		return cachedValue{T: "b", V: strconv.FormatBool(t)}
	default:
		return cachedValue{T: "s", V: domain.FormatValue(v)}
	}
}

func decodeValue(cv cachedValue) (domain.Value, error) {
	switch cv.T {
	case "n":
		return nil, nil
	case "i":
		return strconv.ParseInt(cv.V, 10, 64)
	case "f":
		return strconv.ParseFloat(cv.V, 64)
	case "b":
		return strconv.ParseBool(cv.V)
	case "s":
		return cv.V, nil
	default:
		return nil, fmt.Errorf("unknown value tag %q", cv.T)
	}
}
