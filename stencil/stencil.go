package stencil

import (
	"fmt"
)

// Stencil is an immutable description of a finite-difference operator on a
// padded 3D grid: real coefficients, neighbor offsets into the flattened
// padded array, and the stride bookkeeping needed to walk the interior.
//
// Offsets[0] is always 0 (the center point) and Coefs[0] is the center
// coefficient. Apply sums all coefficients; relaxation sweeps sum c >= 1 and
// divide by Coefs[0], so a zero center coefficient is only legal for
// operators that are never used as smoothers.
type Stencil struct {
	Coefs   []float64
	Offsets []int

	// N is the interior extent, Reach the halo width consumed on the
	// low/high side of each axis.
	N     [3]int
	Reach [3][2]int

	// J is the per-axis halo stride in flattened elements: J[2] is the
	// total pad of one axis-2 row, J[1] the total pad rows of one plane
	// times the padded row length, J[0] the pad planes times the padded
	// plane size. A traversal advances by J[2] after each row and by J[1]
	// after each plane (see fd.Relax).
	J [3]int
}

// New builds a stencil from coefficients and 3D relative offsets on an
// interior grid of extent n. rel[0] must be the center point {0,0,0}.
func New(coefs []float64, rel [][3]int, n [3]int) (*Stencil, error) {
	if len(coefs) == 0 || len(coefs) != len(rel) {
		return nil, fmt.Errorf("stencil: %d coefficients for %d offsets", len(coefs), len(rel))
	}
	if rel[0] != [3]int{} {
		return nil, fmt.Errorf("stencil: first offset %v is not the center point", rel[0])
	}
	for _, m := range n {
		if m < 1 {
			return nil, fmt.Errorf("stencil: invalid interior extent %v", n)
		}
	}

	s := &Stencil{
		Coefs: append([]float64(nil), coefs...),
		N:     n,
	}
	for _, r := range rel {
		for i := 0; i < 3; i++ {
			if -r[i] > s.Reach[i][0] {
				s.Reach[i][0] = -r[i]
			}
			if r[i] > s.Reach[i][1] {
				s.Reach[i][1] = r[i]
			}
		}
	}

	str := s.Strides()
	s.J[2] = s.Reach[2][0] + s.Reach[2][1]
	s.J[1] = (s.Reach[1][0] + s.Reach[1][1]) * str[1]
	s.J[0] = (s.Reach[0][0] + s.Reach[0][1]) * str[0]

	s.Offsets = make([]int, len(rel))
	for c, r := range rel {
		s.Offsets[c] = r[0]*str[0] + r[1]*str[1] + r[2]
	}
	return s, nil
}

// PaddedSize returns the extent of the working buffer including halo.
func (s *Stencil) PaddedSize() [3]int {
	return [3]int{
		s.N[0] + s.Reach[0][0] + s.Reach[0][1],
		s.N[1] + s.Reach[1][0] + s.Reach[1][1],
		s.N[2] + s.Reach[2][0] + s.Reach[2][1],
	}
}

// Strides returns the flattened strides of the padded buffer.
func (s *Stencil) Strides() [3]int {
	p := s.PaddedSize()
	return [3]int{p[1] * p[2], p[2], 1}
}

// Len returns the number of interior points.
func (s *Stencil) Len() int { return s.N[0] * s.N[1] * s.N[2] }

// PaddedLen returns the number of points in the working buffer.
func (s *Stencil) PaddedLen() int {
	p := s.PaddedSize()
	return p[0] * p[1] * p[2]
}

// InteriorStart returns the flattened index of the first interior point in
// the padded buffer.
func (s *Stencil) InteriorStart() int {
	str := s.Strides()
	return s.Reach[0][0]*str[0] + s.Reach[1][0]*str[1] + s.Reach[2][0]
}

// Mask selects the sides of the local grid that adjoin a real neighbor.
type Mask uint8

const (
	MaskX0 Mask = 1 << iota
	MaskX1
	MaskY0
	MaskY1
	MaskZ0
	MaskZ1
)

// SideMask returns the mask bit for one axis/direction pair.
func SideMask(axis, dir int) Mask { return 1 << uint(2*axis+dir) }

// HasInterior reports whether excluding the boundary-adjacent points of every
// masked side still leaves a non-empty interior. When it does not, a
// boundary/interior split degenerates and overlapped execution is pointless.
func (s *Stencil) HasInterior(m Mask) bool {
	for axis := 0; axis < 3; axis++ {
		w := s.N[axis]
		if m&SideMask(axis, 0) != 0 {
			w -= s.Reach[axis][0]
		}
		if m&SideMask(axis, 1) != 0 {
			w -= s.Reach[axis][1]
		}
		if w <= 0 {
			return false
		}
	}
	return true
}
