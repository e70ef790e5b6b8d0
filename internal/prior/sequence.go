package prior

// Sequence is a batch of prepared model-input sequences: for every batch
// element, Length rows of Dim values. Rows are contiguous in Data.
type Sequence struct {
	Data   []float64
	Batch  int
	Length int
	Dim    int
}

func NewSequence(batch, length, dim int) *Sequence {
	return &Sequence{
		Data:   make([]float64, batch*length*dim),
		Batch:  batch,
		Length: length,
		Dim:    dim,
	}
}

// Row returns a mutable view of one sequence position.
func (s *Sequence) Row(b, pos int) []float64 {
	off := (b*s.Length + pos) * s.Dim
	return s.Data[off : off+s.Dim]
}

// Clone deep-copies the sequence.
func (s *Sequence) Clone() *Sequence {
	out := NewSequence(s.Batch, s.Length, s.Dim)
	copy(out.Data, s.Data)
	return out
}
