package grid

// Box is a half-open axis-aligned region [Beg, End) in the coordinates of
// some 3D array.
type Box struct {
	Beg, End [3]int
}

// Size returns the extent of the box along each axis.
func (b Box) Size() [3]int {
	return [3]int{b.End[0] - b.Beg[0], b.End[1] - b.Beg[1], b.End[2] - b.Beg[2]}
}

// Len returns the number of points in the box.
func (b Box) Len() int {
	n := b.Size()
	return n[0] * n[1] * n[2]
}

// Empty reports whether the box contains no points.
func (b Box) Empty() bool {
	for i := 0; i < 3; i++ {
		if b.End[i] <= b.Beg[i] {
			return true
		}
	}
	return false
}

// Cut copies the box b of the array src (of extent size) into the
// contiguous buffer dst, row-major. dst must hold b.Len() elements.
func Cut[T Scalar](src []T, size [3]int, b Box, dst []T) {
	s1 := size[2]
	s0 := size[1] * s1
	n2 := b.End[2] - b.Beg[2]
	k := 0
	for i0 := b.Beg[0]; i0 < b.End[0]; i0++ {
		for i1 := b.Beg[1]; i1 < b.End[1]; i1++ {
			p := i0*s0 + i1*s1 + b.Beg[2]
			copy(dst[k:k+n2], src[p:p+n2])
			k += n2
		}
	}
}

// Paste scatters the contiguous buffer src into the box b of the array dst
// (of extent size). It is the exact inverse of Cut on the same box.
func Paste[T Scalar](dst []T, size [3]int, b Box, src []T) {
	s1 := size[2]
	s0 := size[1] * s1
	n2 := b.End[2] - b.Beg[2]
	k := 0
	for i0 := b.Beg[0]; i0 < b.End[0]; i0++ {
		for i1 := b.Beg[1]; i1 < b.End[1]; i1++ {
			p := i0*s0 + i1*s1 + b.Beg[2]
			copy(dst[p:p+n2], src[k:k+n2])
			k += n2
		}
	}
}

// Zero clears the box b of the array dst (of extent size).
func Zero[T Scalar](dst []T, size [3]int, b Box) {
	s1 := size[2]
	s0 := size[1] * s1
	for i0 := b.Beg[0]; i0 < b.End[0]; i0++ {
		for i1 := b.Beg[1]; i1 < b.End[1]; i1++ {
			p := i0*s0 + i1*s1 + b.Beg[2]
			for i := p; i < p+b.End[2]-b.Beg[2]; i++ {
				dst[i] = 0
			}
		}
	}
}
