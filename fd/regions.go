package fd

import (
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// Split partitions the interior into the region whose stencil reads only
// owned data and the slabs that touch exchanged halo values, for the sides
// selected by mask. The slabs are pairwise disjoint and, together with
// Interior, cover the interior exactly.
type Split struct {
	Interior grid.Box
	Boundary []grid.Box
}

// SplitBoundary computes the interior/boundary decomposition used by the
// overlap scheduler: the interior pass may run before the halo exchange
// completes, the boundary slabs only after.
func SplitBoundary(s *stencil.Stencil, mask stencil.Mask) Split {
	var inner grid.Box
	for axis := 0; axis < 3; axis++ {
		inner.End[axis] = s.N[axis]
		if mask&stencil.SideMask(axis, 0) != 0 {
			inner.Beg[axis] = s.Reach[axis][0]
		}
		if mask&stencil.SideMask(axis, 1) != 0 {
			inner.End[axis] = s.N[axis] - s.Reach[axis][1]
		}
	}

	sp := Split{Interior: inner}
	// Slabs for axis i span the full interior on axes < i and the already
	// shrunk extent on axes > i, so no point lands in two slabs.
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			if mask&stencil.SideMask(axis, dir) == 0 {
				continue
			}
			var b grid.Box
			for j := 0; j < 3; j++ {
				switch {
				case j < axis:
					b.Beg[j], b.End[j] = 0, s.N[j]
				case j > axis:
					b.Beg[j], b.End[j] = inner.Beg[j], inner.End[j]
				}
			}
			if dir == 0 {
				b.Beg[axis], b.End[axis] = 0, inner.Beg[axis]
			} else {
				b.Beg[axis], b.End[axis] = inner.End[axis], s.N[axis]
			}
			if !b.Empty() {
				sp.Boundary = append(sp.Boundary, b)
			}
		}
	}
	return sp
}
