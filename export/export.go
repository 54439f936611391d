// Package export materializes table data into row-major records for
// presentation. It is a thin consumer of the table's public surface:
// value reads plus bucket/key enumeration, nothing engine-internal.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/cellgrid-lab/cellgrid/cell"
	"github.com/cellgrid-lab/cellgrid/table"
)

// Record is one row of the materialized view: the values of the requested
// columns for a single (bucket, key) pair.
type Record struct {
	Bucket int
	Key    string
	Values map[string]cell.Value
}

// Records materializes the requested columns for the given buckets, in
// ascending bucket order with keys sorted within each bucket. A nil buckets
// slice means every bucket the table has seen. Requesting an unregistered
// column is an error.
func Records(ctx context.Context, tb *table.Table, columns []string, buckets []int) ([]Record, error) {
	if buckets == nil {
		buckets = tb.Buckets()
	}
	var out []Record
	for _, b := range buckets {
		for _, key := range tb.Keys(b) {
			rec := Record{Bucket: b, Key: key, Values: make(map[string]cell.Value, len(columns))}
			for _, col := range columns {
				v, err := tb.Get(ctx, cell.Addr{Bucket: b, Column: col}, key)
				if err != nil {
					return nil, fmt.Errorf("export column %q: %w", col, err)
				}
				rec.Values[col] = v
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

// WriteCSV renders records as CSV with a bucket,key,columns... header.
// Absent values render as empty fields.
func WriteCSV(w io.Writer, columns []string, records []Record) error {
	cw := csv.NewWriter(w)

	header := append([]string{"bucket", "key"}, columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(header))
	for _, rec := range records {
		row[0] = strconv.Itoa(rec.Bucket)
		row[1] = rec.Key
		for i, col := range columns {
			row[2+i] = rec.Values[col].String()
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
