package codemap

import (
	"errors"
	"testing"
)

func sequentialGrid(frequencies, duration int) *Grid {
	g := New(frequencies, duration)
	for i := range g.Cells {
		g.Cells[i] = int32(i)
	}
	return g
}

func TestAtSetRowMajor(t *testing.T) {
	g := New(3, 4)
	g.Set(2, 1, 42)
	if g.At(2, 1) != 42 {
		t.Errorf("At(2,1) = %d, want 42", g.At(2, 1))
	}
	if g.Cells[2*4+1] != 42 {
		t.Errorf("row-major layout broken")
	}
}

func TestCloneIndependence(t *testing.T) {
	g := sequentialGrid(2, 2)
	c := g.Clone()
	c.Set(0, 0, 99)
	if g.At(0, 0) == 99 {
		t.Error("clone aliases original cells")
	}
}

func TestApplyConstraint(t *testing.T) {
	g := New(4, 4)
	constraint := sequentialGrid(2, 3)
	if err := g.ApplyConstraint(constraint); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for f := 0; f < 2; f++ {
		for tt := 0; tt < 3; tt++ {
			if g.At(f, tt) != constraint.At(f, tt) {
				t.Errorf("cell (%d,%d) = %d, want %d", f, tt, g.At(f, tt), constraint.At(f, tt))
			}
		}
	}
	// outside the constraint region the grid stays zero
	if g.At(3, 3) != 0 || g.At(0, 3) != 0 {
		t.Error("cells outside constraint were touched")
	}
}

func TestApplyConstraintOversized(t *testing.T) {
	g := New(2, 2)
	err := g.ApplyConstraint(New(3, 2))
	var se ShapeError
	if !errors.As(err, &se) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
}

func TestCrop(t *testing.T) {
	g := sequentialGrid(4, 4)
	c, err := g.Crop(2, 3)
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if c.Frequencies != 2 || c.Duration != 3 {
		t.Fatalf("crop shape %dx%d", c.Frequencies, c.Duration)
	}
	if c.At(1, 2) != g.At(1, 2) {
		t.Errorf("crop content mismatch")
	}
	if _, err := g.Crop(5, 1); err == nil {
		t.Error("oversized crop accepted")
	}
}
