package dataset

import (
	"errors"
	"sync"
)

// ErrEmptyDataset is returned when a dataset has no records.
var ErrEmptyDataset = errors.New("dataset is empty")

// Dataset is an ordered, immutable sequence of records. It is safe to share
// between goroutines without locking.
type Dataset struct {
	records []Record
	source  string
}

// New creates a Dataset from records. The slice is copied.
func New(records []Record) *Dataset {
	cp := make([]Record, len(records))
	copy(cp, records)
	return &Dataset{records: cp}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// At returns the record at index i.
func (d *Dataset) At(i int) Record {
	return d.records[i]
}

// Source returns the file the dataset was loaded from, if any.
func (d *Dataset) Source() string {
	return d.source
}

// Cursor is a round-robin position shared by all virtual users of a run.
//
// Every call to Next reads the current index and advances it in a single
// step, so no two callers observe the same pre-advance index. Records may be
// handed out more than once after the cursor wraps around.
type Cursor struct {
	ds    *Dataset
	mu    sync.Mutex
	index int
}

// NewCursor creates a cursor over ds starting at start (taken modulo the
// dataset length). It fails with ErrEmptyDataset when ds has no records.
func NewCursor(ds *Dataset, start int) (*Cursor, error) {
	n := ds.Len()
	if n == 0 {
		return nil, ErrEmptyDataset
	}
	start %= n
	if start < 0 {
		start += n
	}
	return &Cursor{ds: ds, index: start}, nil
}

// Next returns the record at the current index and advances the cursor.
func (c *Cursor) Next() Record {
	_, rec := c.NextIndexed()
	return rec
}

// NextIndexed is Next that also reports which index was consumed.
func (c *Cursor) NextIndexed() (int, Record) {
	c.mu.Lock()
	i := c.index
	c.index = (i + 1) % len(c.ds.records)
	c.mu.Unlock()
	return i, c.ds.records[i]
}

// Len returns the length of the underlying dataset.
func (c *Cursor) Len() int {
	return c.ds.Len()
}
