// Package export serializes generated codemaps as Arrow record batches,
// either to IPC files on disk or to a Flight endpoint.
package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
)

// Schema describes one codemap per row: its batch index, resolution
// level, grid extents and row-major cell values.
func Schema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int32},
		{Name: "level", Type: arrow.BinaryTypes.String},
		{Name: "frequencies", Type: arrow.PrimitiveTypes.Int32},
		{Name: "duration", Type: arrow.PrimitiveTypes.Int32},
		{Name: "cells", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)},
	}, nil)
}

// NewRecord builds a record batch holding one row per grid. The caller
// owns the returned record and must Release it.
func NewRecord(level config.Level, grids []*codemap.Grid) (arrow.Record, error) {
	if len(grids) == 0 {
		return nil, fmt.Errorf("no codemaps to export")
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, Schema())
	defer b.Release()

	idB := b.Field(0).(*array.Int32Builder)
	levelB := b.Field(1).(*array.StringBuilder)
	freqB := b.Field(2).(*array.Int32Builder)
	durB := b.Field(3).(*array.Int32Builder)
	cellsB := b.Field(4).(*array.ListBuilder)
	valueB := cellsB.ValueBuilder().(*array.Int32Builder)

	for i, g := range grids {
		idB.Append(int32(i))
		levelB.Append(level.String())
		freqB.Append(int32(g.Frequencies))
		durB.Append(int32(g.Duration))
		cellsB.Append(true)
		valueB.AppendValues(g.Cells, nil)
	}

	return b.NewRecord(), nil
}

// WriteFile stores a batch of codemaps as a single-record Arrow IPC file.
func WriteFile(path string, level config.Level, grids []*codemap.Grid) error {
	rec, err := NewRecord(level, grids)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()))
	if err != nil {
		return fmt.Errorf("failed to create IPC writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize IPC file: %w", err)
	}
	return f.Close()
}

// ReadFile loads codemaps back from an Arrow IPC file. The level string
// of the first row is returned alongside the grids.
func ReadFile(path string) (string, []*codemap.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return "", nil, fmt.Errorf("failed to open IPC file %s: %w", path, err)
	}
	defer r.Close()

	level := ""
	var grids []*codemap.Grid
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read record %d: %w", i, err)
		}
		levels := rec.Column(1).(*array.String)
		freqs := rec.Column(2).(*array.Int32)
		durs := rec.Column(3).(*array.Int32)
		cells := rec.Column(4).(*array.List)
		values := cells.ListValues().(*array.Int32)
		offsets := cells.Offsets()

		for row := 0; row < int(rec.NumRows()); row++ {
			if level == "" {
				level = levels.Value(row)
			}
			g := codemap.New(int(freqs.Value(row)), int(durs.Value(row)))
			start, end := int(offsets[row]), int(offsets[row+1])
			if end-start != len(g.Cells) {
				return "", nil, fmt.Errorf("row %d holds %d cells for a %dx%d grid",
					row, end-start, g.Frequencies, g.Duration)
			}
			copy(g.Cells, values.Int32Values()[start:end])
			grids = append(grids, g)
		}
	}
	if len(grids) == 0 {
		return "", nil, fmt.Errorf("%s contains no codemaps", path)
	}
	return level, grids, nil
}
