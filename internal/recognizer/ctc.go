package recognizer

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/ocrcascade/internal/engine"
)

// Blank is the CTC blank class index.
const Blank = 0

// Sequence is one greedy-decoded CTC output row.
type Sequence struct {
	Classes []int     // collapsed class indices, blanks removed
	Probs   []float64 // probability of each collapsed class
}

// Confidence returns the mean class probability, or 0 for an empty sequence.
func (s Sequence) Confidence() float64 {
	if len(s.Probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range s.Probs {
		sum += p
	}
	return sum / float64(len(s.Probs))
}

// argmax returns the index of the largest value.
func argmax(v []float32) int {
	idx := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[idx] {
			idx = i
		}
	}
	return idx
}

// classProb returns the probability of v[idx]. Rows that already form a
// distribution are used as is; otherwise a stable softmax is applied.
func classProb(v []float32, idx int) float64 {
	var sum float64
	lo, hi := v[0], v[0]
	for _, x := range v {
		sum += float64(x)
		lo = min(lo, x)
		hi = max(hi, x)
	}
	if sum > 0.99 && sum < 1.01 && lo >= 0 && hi <= 1 {
		return float64(v[idx])
	}
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - hi))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(v[idx]-hi)) / denom
}

// Collapse drops blanks and merges repeated consecutive classes.
func Collapse(classes []int, probs []float64, blank int) Sequence {
	out := Sequence{Classes: make([]int, 0, len(classes)), Probs: make([]float64, 0, len(classes))}
	prev := -1
	for i, c := range classes {
		if c == blank {
			prev = c
			continue
		}
		if c == prev {
			continue
		}
		out.Classes = append(out.Classes, c)
		out.Probs = append(out.Probs, probs[i])
		prev = c
	}
	return out
}

// DecodeGreedy decodes a [N, T, C] logits tensor with best-path CTC decoding.
func DecodeGreedy(logits engine.Tensor, blank int) ([]Sequence, error) {
	shape := logits.Shape
	for len(shape) > 3 && shape[len(shape)-1] == 1 {
		shape = shape[:len(shape)-1]
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected [N,T,C] logits, got shape %v", logits.Shape)
	}
	n, steps, classes := shape[0], shape[1], shape[2]
	if n <= 0 || steps <= 0 || classes <= 0 {
		return nil, fmt.Errorf("invalid logits shape %v", logits.Shape)
	}
	if len(logits.Data) < n*steps*classes {
		return nil, fmt.Errorf("logits data length %d shorter than shape %v", len(logits.Data), logits.Shape)
	}

	out := make([]Sequence, n)
	for b := range n {
		best := make([]int, steps)
		probs := make([]float64, steps)
		for t := range steps {
			off := (b*steps + t) * classes
			row := logits.Data[off : off+classes]
			best[t] = argmax(row)
			probs[t] = classProb(row, best[t])
		}
		out[b] = Collapse(best, probs, blank)
	}
	return out, nil
}
