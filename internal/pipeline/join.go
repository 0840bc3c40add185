package pipeline

import (
	"log/slog"

	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/geom"
)

// join accumulates a group's members into one row per record id. The first
// member merged (the coordinate-bearing one, already geofiltered) defines
// the id universe; later members only enrich rows that survived the filter,
// so no geometry-less record can reach a loader. Column collisions resolve
// last-write-wins in member processing order.
type join struct {
	idOrder []string
	rows    map[string]map[string]domain.Value
	shapes  map[string]*geom.Shape
	columns []string
	colSeen map[string]struct{}

	conflicts int
}

func newJoin() *join {
	return &join{
		rows:    map[string]map[string]domain.Value{},
		shapes:  map[string]*geom.Shape{},
		colSeen: map[string]struct{}{},
	}
}

// merge folds one member's record set in. Rows of a primary merge are
// inserted in record order; duplicate ids within one member also resolve
// last-write-wins.
func (j *join) merge(rs domain.RecordSet, idColumn string, primary bool, logger *slog.Logger) {
	for _, col := range rs.Columns {
		if _, ok := j.colSeen[col]; !ok {
			j.colSeen[col] = struct{}{}
			j.columns = append(j.columns, col)
		}
	}

	skipped := 0
	for _, r := range rs.Records {
		id := domain.FormatValue(r.Fields[idColumn])
		if id == "" {
			skipped++
			continue
		}
		row, ok := j.rows[id]
		if !ok {
			if !primary {
				skipped++
				continue
			}
			row = make(map[string]domain.Value, len(r.Fields))
			j.rows[id] = row
			j.idOrder = append(j.idOrder, id)
		}
		for _, col := range rs.Columns {
			v := r.Fields[col]
			if prev, exists := row[col]; exists && prev != v {
				j.conflicts++
				logger.Warn("join conflict, keeping later value",
					"id", id, "column", col, "previous", prev, "value", v)
			}
			row[col] = v
		}
		if r.Shape != nil {
			j.shapes[id] = r.Shape
		}
	}
	if skipped > 0 {
		logger.Debug("join skipped rows without a matching id", "count", skipped)
	}
}

// result assembles the joined record set in first-seen id order.
func (j *join) result() domain.RecordSet {
	rs := domain.NewRecordSet(j.columns...)
	for _, id := range j.idOrder {
		rs.Append(domain.Record{Fields: j.rows[id], Shape: j.shapes[id]})
	}
	return rs
}
