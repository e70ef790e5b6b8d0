package prior

import (
	"fmt"

	"github.com/23skdu/longbow-descant/internal/config"
)

// PosGrid holds one position code per codemap cell, row-major with frequency
// as the outer axis.
type PosGrid struct {
	Data        []float64
	Frequencies int
	Duration    int
	Dim         int
}

func (g *PosGrid) At(f, t int) []float64 {
	off := (f*g.Duration + t) * g.Dim
	return g.Data[off : off+g.Dim]
}

// PositionalEncoder combines the per-axis learned embeddings of one
// resolution level into per-cell position codes. It is a pure function of
// the learned parameters.
type PositionalEncoder struct {
	params  *config.Params
	weights *Weights
}

func NewPositionalEncoder(p *config.Params, w *Weights) *PositionalEncoder {
	return &PositionalEncoder{params: p, weights: w}
}

// Grid builds the combined positional grid for a level.
//
// Absolute scheme: a cell's code is its frequency-row embedding followed by
// its time-step embedding. Patch-relative scheme: the target level replaces
// the time half with a patch-local embedding identifying the cell's offset
// within its parent source cell, and the source level repeats the frequency
// half (time is carried by the backbone's relative attention there).
func (e *PositionalEncoder) Grid(level config.Level) (*PosGrid, error) {
	p := e.params
	w := e.weights

	frequencies, duration, err := p.Shape(level)
	if err != nil {
		return nil, err
	}
	half := p.PositionalDim / 2

	g := &PosGrid{
		Data:        make([]float64, frequencies*duration*p.PositionalDim),
		Frequencies: frequencies,
		Duration:    duration,
		Dim:         p.PositionalDim,
	}

	relative := p.Scheme() == config.SchemePatchRelative
	rf, rd := p.Ratios()

	for f := 0; f < frequencies; f++ {
		for t := 0; t < duration; t++ {
			cell := g.At(f, t)
			switch {
			case level == config.LevelSource && !relative:
				copy(cell[:half], w.SourcePosFrequency.RawRowView(f))
				copy(cell[half:], w.SourcePosTime.RawRowView(t))
			case level == config.LevelSource:
				row := w.SourcePosFrequency.RawRowView(f)
				copy(cell[:half], row)
				copy(cell[half:], row)
			case level == config.LevelTarget && !relative:
				copy(cell[:half], w.TargetPosFrequency.RawRowView(f))
				copy(cell[half:], w.TargetPosTime.RawRowView(t))
			case level == config.LevelTarget:
				copy(cell[:half], w.TargetPosFrequency.RawRowView(f))
				patch := (f%rf)*rd + t%rd
				copy(cell[half:], w.TargetPosPatch.RawRowView(patch))
			default:
				return nil, fmt.Errorf("unknown level %v", level)
			}
		}
	}
	return g, nil
}
