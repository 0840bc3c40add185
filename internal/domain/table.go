package domain

import "time"

// TableKind distinguishes geometry-bearing feature tables from plain
// attribute tables.
type TableKind string

const (
	TableFeature TableKind = "feature"
	TablePlain   TableKind = "table"
)

// Relation declares a one-to-many link from an origin table's key column to
// a destination table's foreign-key column. The backing store records it so
// related rows can be fetched by origin key.
type Relation struct {
	Name      string
	Origin    string
	Dest      string
	OriginKey string
	DestKey   string
}

// TableSpec names the destination a record set is loaded into.
type TableSpec struct {
	Name     string
	Dataset  string
	Kind     TableKind
	Filename string // file-backed stores only
	IDColumn string
	Relation *Relation

	// TerminalBatch marks the last store of a batch run. The backing store
	// flags the final row's edit event so downstream recomputation fires
	// once per run instead of once per table.
	TerminalBatch bool
}

// Table returns the physical table name, prefixing the dataset when set.
func (t TableSpec) Table() string {
	if t.Dataset == "" {
		return t.Name
	}
	return t.Dataset + "_" + t.Name
}

// LoadResult reports what a Load call changed.
type LoadResult struct {
	Inserted int
	Updated  int
}

// Attribute is one named value of an update. Updates carry attributes as an
// ordered slice, not a map, so write-back statements are deterministic.
type Attribute struct {
	Name  string
	Value Value
}

// AttributeUpdate sets attributes on a single row addressed by object ID.
type AttributeUpdate struct {
	ObjectID int64
	Attrs    []Attribute
}

// EditInstruction is a batch of attribute updates against one table,
// applied atomically.
type EditInstruction struct {
	Table   string
	Updates []AttributeUpdate
}

// TableChange describes a completed mutation of a destination table,
// published to downstream consumers.
type TableChange struct {
	Table      string    `json:"table"`
	Inserted   int       `json:"inserted"`
	Updated    int       `json:"updated"`
	RunID      string    `json:"run_id"`
	OccurredAt time.Time `json:"occurred_at"`
}
