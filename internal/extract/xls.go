package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/net/html"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

// XLSExtractor parses the upstream "XLS" exports, which are HTML documents
// containing a single table, not real spreadsheet files. The first table
// row is the header.
type XLSExtractor struct {
	spec   *config.DataFileSpec
	logger *slog.Logger
}

// NewXLS builds an XLS extractor for one file spec.
func NewXLS(spec *config.DataFileSpec, logger *slog.Logger) *XLSExtractor {
	return &XLSExtractor{spec: spec, logger: logger}
}

// Extract implements domain.Extractor.
func (e *XLSExtractor) Extract(_ context.Context, path string) (domain.RecordSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return domain.RecordSet{}, fmt.Errorf("parse html: %w", err)
	}

	table := findFirst(doc, "table")
	if table == nil {
		return domain.RecordSet{}, fmt.Errorf("no table element in %s", path)
	}

	rows := tableRows(table)
	if len(rows) == 0 {
		return domain.RecordSet{}, fmt.Errorf("empty table in %s", path)
	}

	columns := rows[0]
	rs := domain.NewRecordSet(columns...)
	decimal := e.spec.Decimal
	if decimal == "" {
		decimal = ","
	}
	for _, row := range rows[1:] {
		fields := make(map[string]domain.Value, len(columns))
		allEmpty := true
		for i, col := range columns {
			if i >= len(row) {
				fields[col] = nil
				continue
			}
			v := parseValue(row[i], decimal)
			fields[col] = v
			if v != nil {
				allEmpty = false
			}
		}
		if allEmpty {
			continue
		}
		rs.Append(domain.Record{Fields: fields})
	}

	applyDates(&rs, e.spec.DateConfig, e.logger)
	dropEmptyColumns(&rs)
	return rs, nil
}

// findFirst returns the first element with the given tag in document order.
func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// tableRows flattens a table element into cell text per row, accepting both
// th and td cells and descending through thead/tbody wrappers.
func tableRows(table *html.Node) [][]string {
	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, nodeText(c))
				}
			}
			rows = append(rows, cells)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	return rows
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
