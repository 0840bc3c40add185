package pipeline

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/trafficgeo/accident-etl/internal/config"
)

// Member is one source file inside a group, bound to its file spec.
type Member struct {
	Key  string
	Path string
	Spec *config.DataFileSpec
}

// HasCoords reports whether this member carries the group's coordinates.
func (m Member) HasCoords() bool {
	return len(m.Spec.Coordinates) > 0
}

// sortOrder ranks members within a group: the coordinate-bearing file is
// always first, every other file after it by its configured order. A zero
// file_order still sorts behind the coordinate file.
func (m Member) sortOrder() int {
	if m.HasCoords() {
		return 0
	}
	if m.Spec.FileOrder < 1 {
		return 1
	}
	return m.Spec.FileOrder
}

// SourceFileGroup is one subdirectory of related source files that join
// into a single destination.
type SourceFileGroup struct {
	Dir     string
	Members []Member
}

// DiscoverGroups walks the data folder and builds one group per
// subdirectory, in lexical order. Files with no matching data_files entry
// are ignored; a group whose first member after sorting carries no
// coordinates is skipped, because nothing in it could ever have geometry.
func DiscoverGroups(cfg *config.Config, logger *slog.Logger) ([]SourceFileGroup, error) {
	entries, err := os.ReadDir(cfg.DataFolder)
	if err != nil {
		return nil, fmt.Errorf("reading data folder %s: %w", cfg.DataFolder, err)
	}

	var groups []SourceFileGroup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(cfg.DataFolder, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("reading group dir %s: %w", dir, err)
		}

		var members []Member
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			key := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
			spec, ok := cfg.DataFiles[key]
			if !ok {
				logger.Debug("no file spec for source file, ignoring", "file", filepath.Join(dir, f.Name()))
				continue
			}
			members = append(members, Member{Key: key, Path: filepath.Join(dir, f.Name()), Spec: spec})
		}
		if len(members) == 0 {
			continue
		}

		sort.Slice(members, func(i, j int) bool {
			oi, oj := members[i].sortOrder(), members[j].sortOrder()
			if oi != oj {
				return oi < oj
			}
			return members[i].Key < members[j].Key
		})

		if !members[0].HasCoords() {
			logger.Warn("group has no coordinate-bearing file, skipping", "dir", dir)
			continue
		}
		groups = append(groups, SourceFileGroup{Dir: dir, Members: members})
	}
	return groups, nil
}
