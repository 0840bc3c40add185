// Package domain models traffic-accident source data and the contracts the
// pipeline is assembled from.
//
// # Data Source
//
// Accident records originate from yearly police exports: semicolon-delimited
// CSV files in legacy Central European encodings plus "XLS" exports that are
// really HTML tables. One subdirectory per region holds a group of related
// files (the coordinate-bearing accident file plus attribute files such as
// vehicle or consequence detail) that share a record identifier column and
// are joined into a single record set before loading.
//
// # Records
//
// A Record is a flat map of column name to value plus an optional geometry.
// Values are typed on extraction: integers become int64, decimals float64
// (decimal commas handled per file spec), everything else stays a string,
// and empty cells are nil. Date columns are rewritten from the source layout
// to the configured output layout during extraction, so a record's content
// depends only on the source file bytes and the file spec, never on when it
// was extracted.
//
// # Contracts
//
// Extractor, GeoFilter, Loader, Scraper, APIExtractor and APILoader are the
// six strategy kinds resolvable by name through the registry. Implementations
// live in internal/extract, internal/geofilter and internal/adapter; keeping
// the interfaces here keeps those packages free of dependencies on each other.
package domain
