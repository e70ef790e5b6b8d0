package prior

import "math"

// CausalMask builds the additive attention mask enforcing left-to-right
// causality. Row i is the query row: mask[i*n+j] is 0 when key j is at or
// before the query (j <= i) and -inf otherwise. In the conditioned case the
// mask covers the target sequence only; cross-attention to the conditioning
// sequence is unmasked.
func CausalMask(n int) []float32 {
	negInf := float32(math.Inf(-1))
	mask := make([]float32, n*n)
	for i := 0; i < n; i++ {
		row := mask[i*n : (i+1)*n]
		for j := i + 1; j < n; j++ {
			row[j] = negInf
		}
	}
	return mask
}
