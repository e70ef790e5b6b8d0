// Package codemap holds the 2D discrete latent grids the priors generate,
// plus the index arithmetic that turns them into 1D sequences.
package codemap

import "fmt"

// ShapeError reports a dimension mismatch between two grids or between a
// grid and its configured extents.
type ShapeError struct {
	Op   string
	Want [2]int
	Got  [2]int
}

func (e ShapeError) Error() string {
	return fmt.Sprintf("%s: shape mismatch, want %dx%d, got %dx%d",
		e.Op, e.Want[0], e.Want[1], e.Got[0], e.Got[1])
}

// Grid is a frequency x time map of codebook indices. Cells is row-major
// with frequency as the outer axis: Cells[f*Duration+t].
type Grid struct {
	Cells       []int32
	Frequencies int
	Duration    int
}

func New(frequencies, duration int) *Grid {
	return &Grid{
		Cells:       make([]int32, frequencies*duration),
		Frequencies: frequencies,
		Duration:    duration,
	}
}

func (g *Grid) At(f, t int) int32 {
	return g.Cells[f*g.Duration+t]
}

func (g *Grid) Set(f, t int, v int32) {
	g.Cells[f*g.Duration+t] = v
}

func (g *Grid) Clone() *Grid {
	out := New(g.Frequencies, g.Duration)
	copy(out.Cells, g.Cells)
	return out
}

// ApplyConstraint copies the constraint grid into the top-left corner.
// The constraint must fit inside g.
func (g *Grid) ApplyConstraint(constraint *Grid) error {
	if constraint.Frequencies > g.Frequencies || constraint.Duration > g.Duration {
		return ShapeError{
			Op:   "apply constraint",
			Want: [2]int{g.Frequencies, g.Duration},
			Got:  [2]int{constraint.Frequencies, constraint.Duration},
		}
	}
	for f := 0; f < constraint.Frequencies; f++ {
		for t := 0; t < constraint.Duration; t++ {
			g.Set(f, t, constraint.At(f, t))
		}
	}
	return nil
}

// Crop returns a copy of the top-left frequencies x duration region.
func (g *Grid) Crop(frequencies, duration int) (*Grid, error) {
	if frequencies > g.Frequencies || duration > g.Duration {
		return nil, ShapeError{
			Op:   "crop",
			Want: [2]int{g.Frequencies, g.Duration},
			Got:  [2]int{frequencies, duration},
		}
	}
	out := New(frequencies, duration)
	for f := 0; f < frequencies; f++ {
		for t := 0; t < duration; t++ {
			out.Set(f, t, g.At(f, t))
		}
	}
	return out, nil
}
