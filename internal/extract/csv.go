// Package extract parses source files into typed record sets. Extraction is
// deterministic: output depends only on the file bytes and the file spec.
package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// CSVExtractor parses delimiter-separated files in the legacy encodings the
// police exports ship in.
type CSVExtractor struct {
	spec   *config.DataFileSpec
	logger *slog.Logger
}

// NewCSV builds a CSV extractor for one file spec.
func NewCSV(spec *config.DataFileSpec, logger *slog.Logger) *CSVExtractor {
	return &CSVExtractor{spec: spec, logger: logger}
}

// Extract implements domain.Extractor.
func (e *CSVExtractor) Extract(_ context.Context, path string) (domain.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	dec, err := decoderFor(e.spec.Encoding)
	if err != nil {
		return domain.RecordSet{}, err
	}

	var src io.Reader = f
	if dec != nil {
		src = transform.NewReader(f, dec.NewDecoder())
	}

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	if e.spec.Delimiter != "" {
		reader.Comma = []rune(e.spec.Delimiter)[0]
	} else {
		reader.Comma = ';'
	}

	columns := append([]string(nil), e.spec.Columns...)
	if len(columns) == 0 {
		header, err := reader.Read()
		if err != nil {
			return domain.RecordSet{}, fmt.Errorf("read header: %w", err)
		}
		columns = header
	}

	rs := domain.NewRecordSet(columns...)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return domain.RecordSet{}, fmt.Errorf("read row: %w", err)
		}
		fields := make(map[string]domain.Value, len(columns))
		for i, col := range columns {
			if i >= len(row) {
				fields[col] = nil
				continue
			}
			fields[col] = parseValue(row[i], e.spec.Decimal)
		}
		// Overflow cells beyond the declared columns get positional names
		// so nothing is silently discarded before the empty-column sweep.
		for i := len(columns); i < len(row); i++ {
			name := "col" + strconv.Itoa(i)
			rs.AddColumn(name)
			fields[name] = parseValue(row[i], e.spec.Decimal)
		}
		rs.Append(domain.Record{Fields: fields})
	}

	applyDates(&rs, e.spec.DateConfig, e.logger)
	dropEmptyColumns(&rs)
	return rs, nil
}

// decoderFor maps a config encoding name to a charmap decoder. An empty name
// or utf-8 means no transformation.
func decoderFor(name string) (encoding.Encoding, error) {
	switch name {
	case "", "utf-8", "utf8":
		return nil, nil
	case "windows-1250", "cp1250":
		return charmap.Windows1250, nil
	case "iso-8859-2", "latin-2":
		return charmap.ISO8859_2, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}
