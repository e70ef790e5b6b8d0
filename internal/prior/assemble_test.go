package prior

import (
	"errors"
	"testing"

	"github.com/23skdu/longbow-descant/internal/codemap"
	"github.com/23skdu/longbow-descant/internal/config"
)

// cellVector recomputes the expected prepared vector of one cell directly
// from the weights.
func cellVector(t *testing.T, p *config.Params, w *Weights, level config.Level, token int32, f, tt int) []float64 {
	t.Helper()
	embedOut := p.DModel - p.PositionalDim
	out := make([]float64, p.DModel)

	embed, proj, bias := w.SourceEmbed, w.SourceProj, w.SourceProjBias
	if level == config.LevelTarget {
		embed, proj, bias = w.TargetEmbed, w.TargetProj, w.TargetProjBias
	}
	emb := embed.RawRowView(int(token))
	for i := 0; i < embedOut; i++ {
		sum := bias[i]
		for j := 0; j < p.EmbeddingDim; j++ {
			sum += proj.At(i, j) * emb[j]
		}
		out[i] = sum
	}
	g, err := NewPositionalEncoder(p, w).Grid(level)
	if err != nil {
		t.Fatal(err)
	}
	copy(out[embedOut:], g.At(f, tt))
	return out
}

func almostEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		d := a[i] - b[i]
		if d > 1e-9 || d < -1e-9 {
			return false
		}
	}
	return true
}

func randomGrid(p *config.Params, level config.Level, seed int32) *codemap.Grid {
	f, d, _ := p.Shape(level)
	g := codemap.New(f, d)
	for i := range g.Cells {
		g.Cells[i] = (seed + int32(i)*7) % int32(p.NumClasses)
		if g.Cells[i] < 0 {
			g.Cells[i] += int32(p.NumClasses)
		}
	}
	return g
}

func TestPrepareShiftInvariant(t *testing.T) {
	p := testParams(false, false) // unconditional: source sequence is shifted
	w, err := NewWeights(p, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}

	grid := randomGrid(p, config.LevelSource, 3)
	seq, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, nil)
	if err != nil {
		t.Fatal(err)
	}

	length, _ := p.SequenceLength(config.LevelSource)
	if seq.Length != length {
		t.Fatalf("shifted length = %d, want %d", seq.Length, length)
	}
	// position 0 is the start symbol
	if !almostEqual(seq.Row(0, 0), w.SourceStart) {
		t.Error("position 0 is not the start symbol")
	}
	// position k holds the cell at unshifted position k-1
	for k := 1; k < length; k++ {
		f, tt := a.Cell(config.LevelSource, k-1)
		want := cellVector(t, p, w, config.LevelSource, grid.At(f, tt), f, tt)
		if !almostEqual(seq.Row(0, k), want) {
			t.Fatalf("shifted position %d does not hold unshifted position %d", k, k-1)
		}
	}
}

func TestPrepareConditioningSourceUnshifted(t *testing.T) {
	p := testParams(true, false)
	w, err := NewWeights(p, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}

	grid := randomGrid(p, config.LevelSource, 5)
	seq, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, nil)
	if err != nil {
		t.Fatal(err)
	}

	// conditioning context: no start symbol, position p holds cell p
	for k := 0; k < seq.Length; k++ {
		f, tt := a.Cell(config.LevelSource, k)
		want := cellVector(t, p, w, config.LevelSource, grid.At(f, tt), f, tt)
		if !almostEqual(seq.Row(0, k), want) {
			t.Fatalf("unshifted position %d mismatch", k)
		}
	}
}

func TestIndexRasterOrders(t *testing.T) {
	p := testParams(false, false)
	p.PredictFrequenciesFirst = true
	w, _ := NewWeights(p, 1)
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}
	// frequencies-first: all rows of time step 0 come first
	if a.Index(config.LevelSource, 1, 0) != 1 {
		t.Errorf("frequencies-first: Index(1,0) = %d, want 1", a.Index(config.LevelSource, 1, 0))
	}
	if a.Index(config.LevelSource, 0, 1) != p.Frequencies {
		t.Errorf("frequencies-first: Index(0,1) = %d, want %d", a.Index(config.LevelSource, 0, 1), p.Frequencies)
	}

	p2 := testParams(false, false)
	p2.PredictFrequenciesFirst = false
	w2, _ := NewWeights(p2, 1)
	a2, err := NewAssembler(p2, w2)
	if err != nil {
		t.Fatal(err)
	}
	if a2.Index(config.LevelSource, 0, 1) != 1 {
		t.Errorf("time-first: Index(0,1) = %d, want 1", a2.Index(config.LevelSource, 0, 1))
	}
	if a2.Index(config.LevelSource, 1, 0) != p2.Duration {
		t.Errorf("time-first: Index(1,0) = %d, want %d", a2.Index(config.LevelSource, 1, 0), p2.Duration)
	}
}

func TestIndexCellRoundTrip(t *testing.T) {
	for _, relative := range []bool{false, true} {
		p := testParams(true, relative)
		w, _ := NewWeights(p, 1)
		a, err := NewAssembler(p, w)
		if err != nil {
			t.Fatal(err)
		}
		for _, level := range []config.Level{config.LevelSource, config.LevelTarget} {
			frequencies, duration, _ := p.Shape(level)
			for f := 0; f < frequencies; f++ {
				for tt := 0; tt < duration; tt++ {
					fBack, tBack := a.Cell(level, a.Index(level, f, tt))
					if fBack != f || tBack != tt {
						t.Fatalf("relative=%v level=%v: Cell(Index(%d,%d)) = (%d,%d)",
							relative, level, f, tt, fBack, tBack)
					}
				}
			}
		}
	}
}

func TestPreparePatchOrderMatchesPatchOrder(t *testing.T) {
	p := testParams(true, true)
	w, _ := NewWeights(p, 1)
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}
	order, err := codemap.NewPatchOrder(p.ConditionFrequencies, p.ConditionDuration, p.Frequencies, p.Duration)
	if err != nil {
		t.Fatal(err)
	}
	for f := 0; f < p.Frequencies; f++ {
		for tt := 0; tt < p.Duration; tt++ {
			if a.Index(config.LevelTarget, f, tt) != order.Index(f, tt) {
				t.Fatalf("assembler and patch order disagree at (%d,%d)", f, tt)
			}
		}
	}
}

func TestPrepareClassConditioning(t *testing.T) {
	p := testParams(false, false)
	p.ClassConditioning = []config.Modality{
		{Name: "pitch", NumClasses: 61, EmbeddingDim: 4},
		{Name: "instrument", NumClasses: 11, EmbeddingDim: 4},
	}
	w, err := NewWeights(p, 2)
	if err != nil {
		t.Fatal(err)
	}
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}

	grid := randomGrid(p, config.LevelSource, 1)
	cond := Conditioning{"pitch": []int{17}, "instrument": []int{3}}
	seq, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, cond)
	if err != nil {
		t.Fatal(err)
	}

	offsets := p.ConditioningOffsets()
	start := seq.Row(0, 0)
	pitchEmb := w.CondEmbed["pitch"].RawRowView(17)
	if !almostEqual(start[offsets["pitch"]:offsets["pitch"]+4], pitchEmb) {
		t.Error("pitch embedding not written into start symbol")
	}
	instEmb := w.CondEmbed["instrument"].RawRowView(3)
	if !almostEqual(start[offsets["instrument"]:offsets["instrument"]+4], instEmb) {
		t.Error("instrument embedding not written into start symbol")
	}
	// untouched head of the start symbol keeps its learned values
	if !almostEqual(start[:4], w.SourceStart[:4]) {
		t.Error("start symbol head clobbered by tail-placed conditioning")
	}
}

func TestPrepareConditioningErrors(t *testing.T) {
	p := testParams(false, false)
	p.ClassConditioning = []config.Modality{{Name: "pitch", NumClasses: 61, EmbeddingDim: 4}}
	w, _ := NewWeights(p, 2)
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}
	grid := randomGrid(p, config.LevelSource, 1)

	if _, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, Conditioning{"velocity": []int{0}}); err == nil {
		t.Error("unknown modality accepted")
	}
	if _, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, Conditioning{"pitch": []int{61}}); err == nil {
		t.Error("out-of-range class accepted")
	}
	if _, err := a.Prepare(config.LevelSource, []*codemap.Grid{grid}, Conditioning{"pitch": []int{1, 2}}); err == nil {
		t.Error("batch size mismatch accepted")
	}
}

func TestPrepareShapeAndTokenErrors(t *testing.T) {
	p := testParams(false, false)
	w, _ := NewWeights(p, 2)
	a, err := NewAssembler(p, w)
	if err != nil {
		t.Fatal(err)
	}

	wrong := codemap.New(p.Frequencies+1, p.Duration)
	_, err = a.Prepare(config.LevelSource, []*codemap.Grid{wrong}, nil)
	var se codemap.ShapeError
	if !errors.As(err, &se) {
		t.Errorf("expected ShapeError, got %v", err)
	}

	bad := codemap.New(p.Frequencies, p.Duration)
	bad.Set(0, 0, int32(p.NumClasses))
	if _, err := a.Prepare(config.LevelSource, []*codemap.Grid{bad}, nil); err == nil {
		t.Error("out-of-vocabulary token accepted")
	}
}
