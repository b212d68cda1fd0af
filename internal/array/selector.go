package array

import (
	"fmt"

	"github.com/kailas-cloud/docarray/internal/domain"
	"github.com/kailas-cloud/docarray/internal/domain/offsetid"
)

// Selector addresses documents of an Array. Every selector resolves to a
// list of offsets before any backend call is made.
type Selector interface {
	resolve(idx *offsetid.Index) ([]int, error)
}

type offsetSel []int

func (s offsetSel) resolve(idx *offsetid.Index) ([]int, error) {
	out := make([]int, len(s))
	for i, o := range s {
		n, err := idx.Normalize(o)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

type idSel []string

func (s idSel) resolve(idx *offsetid.Index) ([]int, error) {
	out := make([]int, len(s))
	for i, id := range s {
		o, err := idx.Offset(id)
		if err != nil {
			return nil, err
		}
		out[i] = o
	}
	return out, nil
}

type sliceSel struct{ start, stop, step int }

func (s sliceSel) resolve(idx *offsetid.Index) ([]int, error) {
	if s.step <= 0 {
		return nil, fmt.Errorf("slice step %d must be positive: %w", s.step, domain.ErrInvalidArgument)
	}
	n := idx.Len()
	start, stop := clamp(s.start, n), clamp(s.stop, n)
	var out []int
	for i := start; i < stop; i += s.step {
		out = append(out, i)
	}
	return out, nil
}

// clamp resolves a negative bound from the end and limits it to [0, n].
func clamp(v, n int) int {
	if v < 0 {
		v += n
	}
	return max(0, min(v, n))
}

type maskSel []bool

func (s maskSel) resolve(idx *offsetid.Index) ([]int, error) {
	if len(s) != idx.Len() {
		return nil, fmt.Errorf("mask of length %d for %d documents: %w", len(s), idx.Len(), domain.ErrInvalidArgument)
	}
	var out []int
	for i, keep := range s {
		if keep {
			out = append(out, i)
		}
	}
	return out, nil
}

type allSel struct{}

func (allSel) resolve(idx *offsetid.Index) ([]int, error) {
	out := make([]int, idx.Len())
	for i := range out {
		out[i] = i
	}
	return out, nil
}

// Offset selects one document by position; negative counts from the end.
func Offset(i int) Selector { return offsetSel{i} }

// Offsets selects documents by position, in the given order.
func Offsets(offsets ...int) Selector { return offsetSel(offsets) }

// ID selects one document by id.
func ID(id string) Selector { return idSel{id} }

// IDs selects documents by id, in the given order.
func IDs(ids ...string) Selector { return idSel(ids) }

// Slice selects offsets start, start+step, ... below stop. Bounds are
// clamped to the array and negative bounds count from the end.
func Slice(start, stop, step int) Selector { return sliceSel{start: start, stop: stop, step: step} }

// Mask selects the offsets whose flag is true. Its length must equal Len().
func Mask(mask []bool) Selector { return maskSel(mask) }

// All selects every document in offset order.
func All() Selector { return allSel{} }
