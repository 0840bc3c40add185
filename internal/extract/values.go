package extract

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// parseValue types a raw cell: empty becomes nil, integers int64, decimals
// float64 (source decimal separator normalized first), anything else stays
// the trimmed string.
func parseValue(raw, decimal string) domain.Value {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	norm := s
	if decimal != "" && decimal != "." {
		if !strings.Contains(norm, ".") && strings.Count(norm, decimal) == 1 {
			norm = strings.Replace(norm, decimal, ".", 1)
		}
	}
	if f, err := strconv.ParseFloat(norm, 64); err == nil {
		return f
	}
	return s
}

// applyDates rewrites configured date columns from the input layout to the
// output layout. Unparseable values become nil so a stray header or junk
// cell never leaks a bogus date downstream.
func applyDates(rs *domain.RecordSet, dc *config.DateConfig, logger *slog.Logger) {
	if dc == nil {
		return
	}
	for _, col := range dc.Columns {
		if !rs.HasColumn(col) {
			continue
		}
		for _, r := range rs.Records {
			v, ok := r.Fields[col]
			if !ok || v == nil {
				continue
			}
			s := domain.FormatValue(v)
			t, err := time.Parse(dc.InFormat, s)
			if err != nil {
				logger.Debug("unparseable date cell", "column", col, "value", s)
				r.Fields[col] = nil
				continue
			}
			r.Fields[col] = t.Format(dc.OutFormat)
		}
	}
}

// dropEmptyColumns removes columns with no non-nil value in any record.
// Legacy exports pad rows with unnamed trailing cells; dropping them keeps
// the joined output stable.
func dropEmptyColumns(rs *domain.RecordSet) {
	var empty []string
	for _, col := range rs.Columns {
		used := false
		for _, r := range rs.Records {
			if v, ok := r.Fields[col]; ok && v != nil {
				used = true
				break
			}
		}
		if !used {
			empty = append(empty, col)
		}
	}
	rs.Drop(empty...)
}
