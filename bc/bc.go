// Package bc manages the halo (ghost) regions of a locally-owned 3D grid
// slab: packing boundary planes, non-blocking exchange with up to six
// neighbors, and scattering received planes into the padded working buffer.
//
// Axes are processed sequentially, by default 0, 1, 2. The exchange boxes
// of each round span the full padded extent of axes already exchanged and
// only the interior of axes still to come, so edge and corner values
// propagate through intermediate neighbors during the sequence. The filled
// halo does not depend on the axis sequence, only the intermediate states
// and message shapes do.
package bc

import (
	"fmt"
	"math"
	"math/cmplx"
	"unsafe"

	"github.com/bradenmweight/gpaw/comm"
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// Side describes one of the six halo sides of the local slab.
type Side struct {
	// Rank is the neighbor owning the adjacent data, -1 at a physical
	// boundary. Self marks a periodic wrap onto this same rank, which is
	// served by a direct copy instead of a message.
	Rank    int
	Self    bool
	Wrapped bool

	// SendBox holds the owned planes the neighbor needs, RecvBox the halo
	// planes this side fills. Both are in padded-buffer coordinates.
	SendBox grid.Box
	RecvBox grid.Box

	// Phase multiplies received values when the field is complex and the
	// exchange wraps around a periodic axis with a nonzero k-point.
	Phase complex128
}

// BoundaryConditions owns the halo-exchange plan of one rank's slab for one
// stencil reach. It is safe for concurrent use by multiple exchange rounds
// as long as each round uses a distinct series number.
type BoundaryConditions[T grid.Scalar] struct {
	Size1 [3]int    // interior extent
	Size2 [3]int    // padded extent
	Pad   [3][2]int // halo width per axis, low/high
	Sides [3][2]Side

	// order is the axis sequence of one exchange round. Boxes span the
	// full padded extent on axes already handled and the interior on axes
	// still to come, so corners relay correctly for any sequence.
	order [3]int

	tr comm.Transport
}

// New builds the exchange plan for the slab owned by tr.Rank() in the
// decomposition d, with halo widths taken from the stencil reach. Axes are
// exchanged in order 0, 1, 2.
func New[T grid.Scalar](d *grid.Descriptor, s *stencil.Stencil, tr comm.Transport) (*BoundaryConditions[T], error) {
	return NewOrdered[T](d, s, tr, [3]int{0, 1, 2})
}

// NewOrdered builds the plan with an explicit axis sequence. The filled
// halo is identical for every sequence; only the intermediate states and
// message shapes differ. Every rank of the group must use the same
// sequence.
func NewOrdered[T grid.Scalar](d *grid.Descriptor, s *stencil.Stencil, tr comm.Transport, order [3]int) (*BoundaryConditions[T], error) {
	rank := tr.Rank()
	seen := [3]bool{}
	for _, a := range order {
		if a < 0 || a > 2 || seen[a] {
			return nil, fmt.Errorf("bc: invalid axis order %v", order)
		}
		seen[a] = true
	}
	if d.Ranks() != tr.Size() {
		return nil, fmt.Errorf("bc: decomposition has %d ranks, transport %d", d.Ranks(), tr.Size())
	}
	n := d.LocalSize(rank)
	if n != s.N {
		return nil, fmt.Errorf("bc: stencil built for %v, local slab is %v", s.N, n)
	}

	b := &BoundaryConditions[T]{Size1: n, Pad: s.Reach, order: order, tr: tr}
	for i := 0; i < 3; i++ {
		b.Size2[i] = n[i] + s.Reach[i][0] + s.Reach[i][1]
	}

	coords := d.Coords(rank)
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			side := &b.Sides[axis][dir]
			side.Phase = 1
			side.Rank = d.Neighbor(rank, axis, dir)
			if side.Rank < 0 {
				// A physical side receives nothing, but its halo planes
				// still have to be zeroed, so the receive box is kept.
				side.RecvBox = b.sideBox(axis, dir, false)
				continue
			}
			side.Self = side.Rank == rank
			if dir == 0 {
				side.Wrapped = d.Periodic[axis] && coords[axis] == 0
			} else {
				side.Wrapped = d.Periodic[axis] && coords[axis] == d.ProcGrid[axis]-1
			}

			// A neighbor's halo is cut from this slab's interior, so the
			// slab must be at least as thick as the reach it serves.
			need := b.Pad[axis][1-dir]
			if n[axis] < need {
				return nil, fmt.Errorf("bc: axis %d slab of %d points cannot serve a halo of %d", axis, n[axis], need)
			}

			side.SendBox = b.sideBox(axis, dir, true)
			side.RecvBox = b.sideBox(axis, dir, false)
		}
	}
	return b, nil
}

// pos returns the position of each axis in the exchange sequence.
func (b *BoundaryConditions[T]) pos() [3]int {
	var p [3]int
	for i, a := range b.order {
		p[a] = i
	}
	return p
}

// sideBox computes the send or receive box of one side: full padded extent
// on axes exchanged earlier in the sequence, interior on later ones.
func (b *BoundaryConditions[T]) sideBox(axis, dir int, send bool) grid.Box {
	var box grid.Box
	pos := b.pos()
	for j := 0; j < 3; j++ {
		switch {
		case j == axis:
		case pos[j] < pos[axis]:
			box.Beg[j], box.End[j] = 0, b.Size2[j]
		default:
			box.Beg[j], box.End[j] = b.Pad[j][0], b.Pad[j][0]+b.Size1[j]
		}
	}
	in0 := b.Pad[axis][0]
	in1 := in0 + b.Size1[axis]
	if send {
		// The neighbor on side dir fills its opposite-side halo from
		// these planes.
		t := b.Pad[axis][1-dir]
		if dir == 0 {
			box.Beg[axis], box.End[axis] = in0, in0+t
		} else {
			box.Beg[axis], box.End[axis] = in1-t, in1
		}
	} else {
		if dir == 0 {
			box.Beg[axis], box.End[axis] = 0, in0
		} else {
			box.Beg[axis], box.End[axis] = in1, b.Size2[axis]
		}
	}
	return box
}

// SetKPoint installs the Bloch phase factors for a complex periodic field:
// data received across the low wrap is multiplied by exp(-2πi k·e) and
// across the high wrap by exp(+2πi k·e). Real fields never carry a phase.
func (b *BoundaryConditions[T]) SetKPoint(k [3]float64) error {
	var zero T
	if unsafe.Sizeof(zero) == 8 && (k[0] != 0 || k[1] != 0 || k[2] != 0) {
		return fmt.Errorf("bc: k-point phases require a complex field")
	}
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			side := &b.Sides[axis][dir]
			side.Phase = 1
			if !side.Wrapped {
				continue
			}
			arg := 2 * math.Pi * k[axis]
			if dir == 0 {
				arg = -arg
			}
			side.Phase = cmplx.Exp(complex(0, arg))
		}
	}
	return nil
}

// NeighborExists reports whether the side adjoins real data, either a
// remote rank or a periodic wrap onto this one.
func (b *BoundaryConditions[T]) NeighborExists(axis, dir int) bool {
	return b.Sides[axis][dir].Rank >= 0
}

// Mask returns the boundary-role bitmask: one bit per side that has a
// neighbor and therefore carries exchanged data.
func (b *BoundaryConditions[T]) Mask() stencil.Mask {
	var m stencil.Mask
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			if b.NeighborExists(axis, dir) {
				m |= stencil.SideMask(axis, dir)
			}
		}
	}
	return m
}

// Rank returns this slab's rank in the process group.
func (b *BoundaryConditions[T]) Rank() int { return b.tr.Rank() }

// Ranks returns the size of the process group.
func (b *BoundaryConditions[T]) Ranks() int { return b.tr.Size() }

// Len1 returns the interior points per field, Len2 the padded points.
func (b *BoundaryConditions[T]) Len1() int { return b.Size1[0] * b.Size1[1] * b.Size1[2] }

// Len2 returns the points in the padded working buffer per field.
func (b *BoundaryConditions[T]) Len2() int { return b.Size2[0] * b.Size2[1] * b.Size2[2] }

// ExchangeBytes returns the wire volume of one full halo fill of nin
// fields, the quantity the overlap scheduler compares against its
// amortization floor.
func (b *BoundaryConditions[T]) ExchangeBytes(nin int) int {
	var zero T
	elem := int(unsafe.Sizeof(zero))
	total := 0
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			side := &b.Sides[axis][dir]
			if side.Rank < 0 || side.Self {
				continue
			}
			n := side.SendBox.Len()
			if r := side.RecvBox.Len(); r > n {
				n = r
			}
			total += n * elem * nin
		}
	}
	return total
}

// InteriorBox returns the interior region in padded-buffer coordinates.
func (b *BoundaryConditions[T]) InteriorBox() grid.Box {
	var box grid.Box
	for i := 0; i < 3; i++ {
		box.Beg[i] = b.Pad[i][0]
		box.End[i] = b.Pad[i][0] + b.Size1[i]
	}
	return box
}
