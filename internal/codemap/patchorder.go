package codemap

import "fmt"

// PatchOrder is the permutation that groups a fine grid's cells under their
// parent coarse cell. The coarse grid is walked time-block first (then
// frequency-block), and inside each patch the time offset varies before the
// frequency offset, so the whole patch of one coarse cell is contiguous in
// sequence order.
type PatchOrder struct {
	SourceFrequencies int
	SourceDuration    int
	TargetFrequencies int
	TargetDuration    int

	frequencyRatio int
	durationRatio  int

	toSeq  []int // toSeq[f*TargetDuration+t] = sequence position
	toCell []int // inverse permutation
}

// NewPatchOrder builds the permutation for a source/target resolution pair.
// Target extents must be exact integer multiples of source extents.
func NewPatchOrder(sourceFrequencies, sourceDuration, targetFrequencies, targetDuration int) (*PatchOrder, error) {
	if sourceFrequencies <= 0 || sourceDuration <= 0 {
		return nil, fmt.Errorf("invalid source shape %dx%d", sourceFrequencies, sourceDuration)
	}
	if targetFrequencies%sourceFrequencies != 0 || targetDuration%sourceDuration != 0 {
		return nil, ShapeError{
			Op:   "patch order",
			Want: [2]int{sourceFrequencies, sourceDuration},
			Got:  [2]int{targetFrequencies, targetDuration},
		}
	}

	o := &PatchOrder{
		SourceFrequencies: sourceFrequencies,
		SourceDuration:    sourceDuration,
		TargetFrequencies: targetFrequencies,
		TargetDuration:    targetDuration,
		frequencyRatio:    targetFrequencies / sourceFrequencies,
		durationRatio:     targetDuration / sourceDuration,
	}

	n := targetFrequencies * targetDuration
	o.toSeq = make([]int, n)
	o.toCell = make([]int, n)
	pos := 0
	for tb := 0; tb < sourceDuration; tb++ {
		for fb := 0; fb < sourceFrequencies; fb++ {
			for dt := 0; dt < o.durationRatio; dt++ {
				for df := 0; df < o.frequencyRatio; df++ {
					f := fb*o.frequencyRatio + df
					t := tb*o.durationRatio + dt
					cell := f*targetDuration + t
					o.toSeq[cell] = pos
					o.toCell[pos] = cell
					pos++
				}
			}
		}
	}
	return o, nil
}

// Len returns the sequence length covered by the permutation.
func (o *PatchOrder) Len() int { return len(o.toSeq) }

// Index maps a target cell to its position in patch-aligned sequence order.
func (o *PatchOrder) Index(f, t int) int {
	return o.toSeq[f*o.TargetDuration+t]
}

// Cell is the inverse of Index.
func (o *PatchOrder) Cell(pos int) (f, t int) {
	cell := o.toCell[pos]
	return cell / o.TargetDuration, cell % o.TargetDuration
}

// Reorder lays the grid's cells out in patch-aligned sequence order. The
// result keeps the grid's shape; its raster position p holds the cell that
// sequence position p refers to.
func (o *PatchOrder) Reorder(g *Grid) (*Grid, error) {
	if g.Frequencies != o.TargetFrequencies || g.Duration != o.TargetDuration {
		return nil, ShapeError{
			Op:   "reorder",
			Want: [2]int{o.TargetFrequencies, o.TargetDuration},
			Got:  [2]int{g.Frequencies, g.Duration},
		}
	}
	out := New(g.Frequencies, g.Duration)
	for cell, pos := range o.toSeq {
		out.Cells[pos] = g.Cells[cell]
	}
	return out, nil
}

// Dereorder reconstructs the original time-frequency grid from a reordered
// one. Reorder followed by Dereorder is the identity.
func (o *PatchOrder) Dereorder(g *Grid) (*Grid, error) {
	if g.Frequencies != o.TargetFrequencies || g.Duration != o.TargetDuration {
		return nil, ShapeError{
			Op:   "dereorder",
			Want: [2]int{o.TargetFrequencies, o.TargetDuration},
			Got:  [2]int{g.Frequencies, g.Duration},
		}
	}
	out := New(g.Frequencies, g.Duration)
	for cell, pos := range o.toSeq {
		out.Cells[cell] = g.Cells[pos]
	}
	return out, nil
}
