package fd

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// chain3 is the 1D operator 2*u_i - u_{i-1} - u_{i+1} on a 4-point row,
// small enough to check against hand-computed values.
func chain3(t *testing.T) *stencil.Stencil {
	t.Helper()
	s, err := stencil.New([]float64{2, -1, -1},
		[][3]int{{0, 0, 0}, {0, 0, -1}, {0, 0, 1}},
		[3]int{1, 1, 4})
	require.NoError(t, err)
	return s
}

func TestApplyConstantFieldVanishes(t *testing.T) {
	s, err := stencil.Laplace(1.0, [3]float64{0.3, 0.3, 0.3}, 2, [3]int{4, 4, 4})
	require.NoError(t, err)

	buf := make([]float64, s.PaddedLen())
	for i := range buf {
		buf[i] = 3.7
	}
	out := make([]float64, s.Len())
	Apply(s, buf, out)
	for i, v := range out {
		assert.InDelta(t, 0.0, v, 1e-10, "point %d", i)
	}
}

func TestApplyChainHandComputed(t *testing.T) {
	s := chain3(t)
	buf := make([]float64, s.PaddedLen()) // 6 points, halo zero
	buf[1], buf[2], buf[3], buf[4] = 1, 2, 3, 4

	out := make([]float64, 4)
	Apply(s, buf, out)
	assert.Equal(t, []float64{0, 0, 0, 5}, out)
}

func TestApplyChainRows3D(t *testing.T) {
	// The same 1D operator on every row of a 4x4x4 grid with a constant
	// field and zero halo: interior points cancel, row ends keep one
	// missing neighbor's worth.
	s, err := stencil.New([]float64{2, -1, -1},
		[][3]int{{0, 0, 0}, {0, 0, -1}, {0, 0, 1}},
		[3]int{4, 4, 4})
	require.NoError(t, err)

	buf := make([]float64, s.PaddedLen())
	box := grid.Box{Beg: [3]int{0, 0, 1}, End: [3]int{4, 4, 5}}
	ones := make([]float64, 64)
	for i := range ones {
		ones[i] = 1
	}
	grid.Paste(buf, s.PaddedSize(), box, ones)

	out := make([]float64, s.Len())
	Apply(s, buf, out)
	for i, v := range out {
		want := 0.0
		if i%4 == 0 || i%4 == 3 {
			want = 1.0
		}
		assert.Equal(t, want, v, "point %d", i)
	}
}

func TestApplyComplexMatchesRealParts(t *testing.T) {
	s := chain3(t)
	rbuf := make([]float64, s.PaddedLen())
	ibuf := make([]float64, s.PaddedLen())
	cbuf := make([]complex128, s.PaddedLen())
	rng := rand.New(rand.NewSource(5))
	for i := range cbuf {
		rbuf[i] = rng.Float64()
		ibuf[i] = rng.Float64()
		cbuf[i] = complex(rbuf[i], ibuf[i])
	}

	rout := make([]float64, s.Len())
	iout := make([]float64, s.Len())
	cout := make([]complex128, s.Len())
	Apply(s, rbuf, rout)
	Apply(s, ibuf, iout)
	Apply(s, cbuf, cout)
	for i := range cout {
		assert.InDelta(t, rout[i], real(cout[i]), 1e-13)
		assert.InDelta(t, iout[i], imag(cout[i]), 1e-13)
	}
}

func TestApplyRegionSplitMatchesFull(t *testing.T) {
	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 1, [3]int{5, 4, 6})
	require.NoError(t, err)

	buf := make([]float64, s.PaddedLen())
	rng := rand.New(rand.NewSource(9))
	for i := range buf {
		buf[i] = rng.Float64()
	}

	full := make([]float64, s.Len())
	Apply(s, buf, full)

	mask := stencil.SideMask(0, 0) | stencil.SideMask(1, 1) | stencil.SideMask(2, 0) | stencil.SideMask(2, 1)
	sp := SplitBoundary(s, mask)
	pieces := make([]float64, s.Len())
	ApplyRegion(s, buf, pieces, sp.Interior)
	for _, r := range sp.Boundary {
		ApplyRegion(s, buf, pieces, r)
	}
	assert.Equal(t, full, pieces)
}

func TestSplitBoundaryCoversInteriorOnce(t *testing.T) {
	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 2, [3]int{6, 5, 7})
	require.NoError(t, err)

	for _, mask := range []stencil.Mask{
		0,
		stencil.SideMask(0, 0),
		stencil.SideMask(0, 0) | stencil.SideMask(0, 1),
		0x3f,
	} {
		sp := SplitBoundary(s, mask)
		seen := make(map[[3]int]int)
		count := func(b grid.Box) {
			for i0 := b.Beg[0]; i0 < b.End[0]; i0++ {
				for i1 := b.Beg[1]; i1 < b.End[1]; i1++ {
					for i2 := b.Beg[2]; i2 < b.End[2]; i2++ {
						seen[[3]int{i0, i1, i2}]++
					}
				}
			}
		}
		count(sp.Interior)
		for _, b := range sp.Boundary {
			count(b)
		}
		assert.Len(t, seen, s.Len(), "mask %06b", mask)
		for p, c := range seen {
			assert.Equal(t, 1, c, "mask %06b point %v", mask, p)
		}
	}
}

func TestRelaxGaussSeidelGolden(t *testing.T) {
	s := chain3(t)
	a := make([]float64, s.PaddedLen())
	b := make([]float64, 4)
	src := []float64{1, 1, 1, 1}

	Relax(MethodGaussSeidel, s, a, b, src, 1.0)
	want := []float64{0.5, 0.75, 0.875, 0.9375}
	for i := range want {
		assert.InDelta(t, want[i], b[i], 1e-15)
		assert.InDelta(t, want[i], a[1+i], 1e-15, "sweep writes back into the working buffer")
	}
}

func TestRelaxJacobiIgnoresSweepOrder(t *testing.T) {
	s := chain3(t)
	a := make([]float64, s.PaddedLen())
	b := make([]float64, 4)
	src := []float64{1, 1, 1, 1}

	Relax(MethodJacobi, s, a, b, src, 1.0)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, b)
	assert.NotEqual(t, []float64{0.5, 0.75, 0.875, 0.9375}, b,
		"one jacobi sweep must differ from one gauss-seidel sweep")
	for _, v := range a {
		assert.Zero(t, v, "jacobi must not touch the working buffer")
	}
}

func TestRelaxJacobiZeroWeightIsNoop(t *testing.T) {
	s := chain3(t)
	a := make([]float64, s.PaddedLen())
	b := []float64{1, 2, 3, 4}
	src := []float64{9, 9, 9, 9}

	Relax(MethodJacobi, s, a, b, src, 0.0)
	assert.Equal(t, []float64{1, 2, 3, 4}, b)
}

func TestRelaxJacobiBlendsWithWeight(t *testing.T) {
	s := chain3(t)
	a := make([]float64, s.PaddedLen())
	b := []float64{1, 1, 1, 1}
	src := []float64{2, 2, 2, 2}

	// Zero working buffer: the full update is src/2 = 1... no change at
	// w=1, so a half weight lands halfway as well.
	Relax(MethodJacobi, s, a, b, src, 0.5)
	assert.Equal(t, []float64{1, 1, 1, 1}, b)

	b = []float64{0, 0, 0, 0}
	Relax(MethodJacobi, s, a, b, src, 0.5)
	assert.Equal(t, []float64{0.5, 0.5, 0.5, 0.5}, b)
}
