package cell

import "fmt"

// Addr references one block of cells: every key stored under the same
// bucket and column. Buckets are opaque, totally-ordered integers;
// by convention they encode dates (for example 20190101, or a plain year).
type Addr struct {
	Bucket int
	Column string
}

func (a Addr) String() string {
	return fmt.Sprintf("%d/%s", a.Bucket, a.Column)
}
