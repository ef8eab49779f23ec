// Package fd applies finite-difference stencils and relaxation sweeps to
// padded 3D grid buffers. These are hot inner loops: buffer sizes and
// strides are a caller contract and are never checked here.
package fd

import (
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// scalar converts a real coefficient to the field element type.
func scalar[T grid.Scalar](v float64) T {
	var zero T
	if _, ok := any(zero).(complex128); ok {
		return any(complex(v, 0)).(T)
	}
	return any(v).(T)
}

// coefs widens the stencil coefficients once so the traversal multiplies
// T by T.
func coefs[T grid.Scalar](s *stencil.Stencil) []T {
	c := make([]T, len(s.Coefs))
	for i, v := range s.Coefs {
		c[i] = scalar[T](v)
	}
	return c
}

// Apply computes out = stencil * buf over the whole interior. buf is the
// padded working buffer with a valid halo; out is the unpadded result.
func Apply[T grid.Scalar](s *stencil.Stencil, buf, out []T) {
	ApplyRegion(s, buf, out, grid.Box{End: s.N})
}

// ApplyRegion computes the stencil on the sub-box r of the interior, in
// interior coordinates. Points outside r are left untouched in out. The
// interior-only and boundary-only passes of the overlap scheduler are
// compositions of this primitive.
func ApplyRegion[T grid.Scalar](s *stencil.Stencil, buf, out []T, r grid.Box) {
	if r.Empty() {
		return
	}
	cf := coefs[T](s)
	str := s.Strides()
	base := s.InteriorStart()
	nc := len(cf)
	for i0 := r.Beg[0]; i0 < r.End[0]; i0++ {
		for i1 := r.Beg[1]; i1 < r.End[1]; i1++ {
			p := base + i0*str[0] + i1*str[1]
			q := (i0*s.N[1] + i1) * s.N[2]
			for i2 := r.Beg[2]; i2 < r.End[2]; i2++ {
				var x T
				for c := 0; c < nc; c++ {
					x += cf[c] * buf[p+s.Offsets[c]+i2]
				}
				out[q+i2] = x
			}
		}
	}
}

// Relaxation method selectors, matching the multigrid solver convention.
const (
	MethodGaussSeidel = 1
	MethodJacobi      = 2
)

// Relax performs one weighted relaxation sweep for the equation
// stencil*b = src. a is the padded working buffer carrying the halo, b the
// unpadded result field.
//
// Gauss-Seidel writes each new value into both b and a before later points
// of the same sweep read it, so the fixed scan order (axis 0 outer, axis 2
// inner, ascending) is part of the numerical contract. Jacobi reads only
// pre-sweep values of a and blends with the previous b using weight w.
//
// The center coefficient is a divisor; validating it is the caller's job.
func Relax(method int, s *stencil.Stencil, a, b, src []float64, w float64) {
	n := s.N
	ai := s.InteriorStart()
	q := 0

	if method == MethodGaussSeidel {
		coef := 1.0 / s.Coefs[0]
		for i0 := 0; i0 < n[0]; i0++ {
			for i1 := 0; i1 < n[1]; i1++ {
				for i2 := 0; i2 < n[2]; i2++ {
					x := 0.0
					for c := 1; c < len(s.Coefs); c++ {
						x += a[ai+s.Offsets[c]+i2] * s.Coefs[c]
					}
					x = (src[q+i2] - x) * coef
					b[q+i2] = x
					a[ai+i2] = x
				}
				q += n[2]
				ai += s.J[2] + n[2]
			}
			ai += s.J[1]
		}
		return
	}

	for i0 := 0; i0 < n[0]; i0++ {
		for i1 := 0; i1 < n[1]; i1++ {
			for i2 := 0; i2 < n[2]; i2++ {
				x := 0.0
				for c := 1; c < len(s.Coefs); c++ {
					x += a[ai+s.Offsets[c]+i2] * s.Coefs[c]
				}
				b[q+i2] = (1.0-w)*b[q+i2] + w*(src[q+i2]-x)/s.Coefs[0]
			}
			q += n[2]
			ai += s.J[2] + n[2]
		}
		ai += s.J[1]
	}
}
