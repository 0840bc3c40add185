package extract

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCSVExtract_HeaderRow(t *testing.T) {
	path := writeFile(t, "accidents.csv", []byte("p1;d;e;note\n1;-598765,5;-1160432,1;mokro\n2;-598001,25;-1160200,75;\n"))

	ex := NewCSV(&config.DataFileSpec{Delimiter: ";", Decimal: ","}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "d", "e", "note"}, rs.Columns)
	require.Len(t, rs.Records, 2)
	assert.Equal(t, int64(1), rs.Records[0].Fields["p1"])
	assert.Equal(t, -598765.5, rs.Records[0].Fields["d"])
	assert.Equal(t, "mokro", rs.Records[0].Fields["note"])
	assert.Nil(t, rs.Records[1].Fields["note"])
}

func TestCSVExtract_ConfiguredColumns(t *testing.T) {
	// Headerless export: column names come from the file spec.
	path := writeFile(t, "vehicles.csv", []byte("1;12;0\n2;7;1\n"))

	ex := NewCSV(&config.DataFileSpec{
		Delimiter: ";",
		Columns:   []string{"p1", "p44", "p48a"},
	}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "p44", "p48a"}, rs.Columns)
	require.Len(t, rs.Records, 2)
	assert.Equal(t, int64(12), rs.Records[0].Fields["p44"])
}

func TestCSVExtract_Windows1250(t *testing.T) {
	// "střed" with ř encoded as 0xF8 in windows-1250.
	raw := append([]byte("p1;obec\n1;st"), 0xF8)
	raw = append(raw, []byte("ed\n")...)
	path := writeFile(t, "cp1250.csv", raw)

	ex := NewCSV(&config.DataFileSpec{Delimiter: ";", Encoding: "windows-1250"}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, rs.Records, 1)
	assert.Equal(t, "střed", rs.Records[0].Fields["obec"])
}

func TestCSVExtract_MultiByteDelimiter(t *testing.T) {
	path := writeFile(t, "broken-bar.csv", []byte("p1¦d\n1¦5\n"))

	ex := NewCSV(&config.DataFileSpec{Delimiter: "¦"}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "d"}, rs.Columns)
	require.Len(t, rs.Records, 1)
	assert.Equal(t, int64(5), rs.Records[0].Fields["d"])
}

func TestCSVExtract_UnsupportedEncoding(t *testing.T) {
	path := writeFile(t, "x.csv", []byte("a\n1\n"))
	ex := NewCSV(&config.DataFileSpec{Encoding: "koi8-r"}, discardLogger())
	_, err := ex.Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestCSVExtract_DateRewrite(t *testing.T) {
	path := writeFile(t, "dates.csv", []byte("p1;p2a\n1;10.01.2023\n2;junk\n3;\n"))

	ex := NewCSV(&config.DataFileSpec{
		Delimiter: ";",
		DateConfig: &config.DateConfig{
			Columns:   []string{"p2a"},
			InFormat:  "02.01.2006",
			OutFormat: "2006-01-02",
		},
	}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, rs.Records, 3)
	assert.Equal(t, "2023-01-10", rs.Records[0].Fields["p2a"])
	assert.Nil(t, rs.Records[1].Fields["p2a"], "unparseable date becomes nil")
	assert.Nil(t, rs.Records[2].Fields["p2a"])
}

func TestCSVExtract_DropsEmptyColumns(t *testing.T) {
	path := writeFile(t, "padded.csv", []byte("p1;unused;d\n1;;5\n2;;6\n"))

	ex := NewCSV(&config.DataFileSpec{Delimiter: ";"}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "d"}, rs.Columns)
}

func TestCSVExtract_Deterministic(t *testing.T) {
	path := writeFile(t, "det.csv", []byte("p1;d\n1;2,5\n2;3,75\n"))
	ex := NewCSV(&config.DataFileSpec{Delimiter: ";", Decimal: ","}, discardLogger())

	first, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)
	second, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(first, second))
}

func TestCSVExtract_MissingFile(t *testing.T) {
	ex := NewCSV(&config.DataFileSpec{}, discardLogger())
	_, err := ex.Extract(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

const xlsDoc = `<html><body>
<table>
<thead><tr><th>p1</th><th>skoda</th><th>den</th></tr></thead>
<tbody>
<tr><td>1</td><td>12,5</td><td>01.02.2023</td></tr>
<tr><td>2</td><td>100</td><td>02.02.2023</td></tr>
<tr><td></td><td></td><td></td></tr>
</tbody>
</table>
</body></html>`

func TestXLSExtract(t *testing.T) {
	path := writeFile(t, "damage.xls", []byte(xlsDoc))

	ex := NewXLS(&config.DataFileSpec{
		DateConfig: &config.DateConfig{
			Columns:   []string{"den"},
			InFormat:  "02.01.2006",
			OutFormat: "2006-01-02",
		},
	}, discardLogger())
	rs, err := ex.Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"p1", "skoda", "den"}, rs.Columns)
	require.Len(t, rs.Records, 2, "blank padding row is dropped")
	assert.Equal(t, 12.5, rs.Records[0].Fields["skoda"])
	assert.Equal(t, int64(100), rs.Records[1].Fields["skoda"])
	assert.Equal(t, "2023-02-01", rs.Records[0].Fields["den"])
}

func TestXLSExtract_NoTable(t *testing.T) {
	path := writeFile(t, "empty.xls", []byte("<html><body><p>nothing</p></body></html>"))
	ex := NewXLS(&config.DataFileSpec{}, discardLogger())
	_, err := ex.Extract(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no table")
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		decimal string
		want    domain.Value
	}{
		{"empty", "", ",", nil},
		{"whitespace", "  ", ",", nil},
		{"int", "42", ",", int64(42)},
		{"negative int", "-7", ",", int64(-7)},
		{"decimal comma", "2,5", ",", 2.5},
		{"decimal point", "2.5", ".", 2.5},
		{"thousands-like stays string", "1,2,3", ",", "1,2,3"},
		{"text", "mokro", ",", "mokro"},
		{"trimmed", " text ", ",", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.raw, tt.decimal))
		})
	}
}
