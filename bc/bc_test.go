package bc

import (
	"math"
	"math/cmplx"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradenmweight/gpaw/comm"
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// gval is an injective marker for global grid points, so a halo value
// identifies exactly which point it came from.
func gval(g [3]int) float64 {
	return float64(g[0]*10000 + g[1]*100 + g[2])
}

func localField(d *grid.Descriptor, rank int) []float64 {
	n := d.LocalSize(rank)
	lo := d.LocalStart(rank)
	out := make([]float64, n[0]*n[1]*n[2])
	idx := 0
	for i0 := 0; i0 < n[0]; i0++ {
		for i1 := 0; i1 < n[1]; i1++ {
			for i2 := 0; i2 < n[2]; i2++ {
				out[idx] = gval([3]int{lo[0] + i0, lo[1] + i1, lo[2] + i2})
				idx++
			}
		}
	}
	return out
}

// checkHalo verifies every point of the padded buffer against the global
// field: interior and exchanged halo carry the (possibly wrapped) global
// value, physical halo is zero.
func checkHalo(t *testing.T, d *grid.Descriptor, rank int, b *BoundaryConditions[float64], buf []float64) {
	t.Helper()
	lo := d.LocalStart(rank)
	idx := 0
	for p0 := 0; p0 < b.Size2[0]; p0++ {
		for p1 := 0; p1 < b.Size2[1]; p1++ {
			for p2 := 0; p2 < b.Size2[2]; p2++ {
				p := [3]int{p0, p1, p2}
				var g [3]int
				physical := false
				for i := 0; i < 3; i++ {
					g[i] = lo[i] + p[i] - b.Pad[i][0]
					if g[i] < 0 || g[i] >= d.GlobalSize[i] {
						if !d.Periodic[i] {
							physical = true
						}
						g[i] = (g[i] + d.GlobalSize[i]) % d.GlobalSize[i]
					}
				}
				want := gval(g)
				if physical {
					want = 0
				}
				assert.Equal(t, want, buf[idx], "rank %d padded point %v", rank, p)
				idx++
			}
		}
	}
}

func build(t *testing.T, d *grid.Descriptor, tr comm.Transport, order int) (*stencil.Stencil, *BoundaryConditions[float64]) {
	t.Helper()
	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, order, d.LocalSize(tr.Rank()))
	require.NoError(t, err)
	b, err := New[float64](d, s, tr)
	require.NoError(t, err)
	return s, b
}

func TestFillHaloSingleRankPeriodic(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{1, 1, 1}, [3]bool{true, true, true})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	_, b := build(t, d, grp[0], 1)

	buf := make([]float64, b.Len2())
	b.FillHalo(localField(d, 0), buf, 1, 0)
	checkHalo(t, d, 0, b, buf)
}

func TestFillHaloPhysicalBoundariesZero(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 5, 4}, [3]int{1, 1, 1}, [3]bool{})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	_, b := build(t, d, grp[0], 2)

	// Each physical side still carries the halo planes it has to zero.
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			side := b.Sides[axis][dir]
			require.Less(t, side.Rank, 0)
			assert.Equal(t, b.Pad[axis][dir], side.RecvBox.End[axis]-side.RecvBox.Beg[axis],
				"axis %d dir %d halo thickness", axis, dir)
			assert.Positive(t, side.RecvBox.Len(), "axis %d dir %d halo volume", axis, dir)
		}
	}

	buf := make([]float64, b.Len2())
	// Garbage in the buffer must not leak into the halo.
	for i := range buf {
		buf[i] = -1
	}
	b.FillHalo(localField(d, 0), buf, 1, 0)
	checkHalo(t, d, 0, b, buf)
}

func TestFillHaloTwoRanks(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 6, 5}, [3]int{2, 1, 1}, [3]bool{true, true, false})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(2)

	bufs := make([][]float64, 2)
	bcs := make([]*BoundaryConditions[float64], 2)
	for rank := 0; rank < 2; rank++ {
		_, bcs[rank] = build(t, d, grp[rank], 1)
		bufs[rank] = make([]float64, bcs[rank].Len2())
	}

	var wg sync.WaitGroup
	for rank := 0; rank < 2; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			bcs[rank].FillHalo(localField(d, rank), bufs[rank], 1, 0)
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < 2; rank++ {
		checkHalo(t, d, rank, bcs[rank], bufs[rank])
	}
}

func TestFillHaloEightRanksCorners(t *testing.T) {
	// Corner and edge halo values cross two or three rank boundaries and
	// only arrive through the axis-by-axis relay.
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{2, 2, 2}, [3]bool{true, true, true})
	require.NoError(t, err)
	np := d.Ranks()
	grp := comm.NewLocalGroup(np)

	bufs := make([][]float64, np)
	bcs := make([]*BoundaryConditions[float64], np)
	for rank := 0; rank < np; rank++ {
		_, bcs[rank] = build(t, d, grp[rank], 1)
		bufs[rank] = make([]float64, bcs[rank].Len2())
	}

	var wg sync.WaitGroup
	for rank := 0; rank < np; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			bcs[rank].FillHalo(localField(d, rank), bufs[rank], 1, 0)
		}(rank)
	}
	wg.Wait()

	for rank := 0; rank < np; rank++ {
		checkHalo(t, d, rank, bcs[rank], bufs[rank])
	}
}

func TestFillHaloBatchedFields(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{1, 1, 1}, [3]bool{true, true, true})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	_, b := build(t, d, grp[0], 1)

	ng, ng2 := b.Len1(), b.Len2()
	in := make([]float64, 2*ng)
	base := localField(d, 0)
	copy(in, base)
	for i, v := range base {
		in[ng+i] = 2 * v
	}

	buf := make([]float64, 2*ng2)
	b.FillHalo(in, buf, 2, 0)
	checkHalo(t, d, 0, b, buf[:ng2])
	for i, v := range buf[:ng2] {
		assert.Equal(t, 2*v, buf[ng2+i], "second field is a scaled copy")
	}
}

func TestFillHaloComplexPhase(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{1, 1, 1}, [3]bool{true, true, true})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 1, d.LocalSize(0))
	require.NoError(t, err)
	b, err := New[complex128](d, s, grp[0])
	require.NoError(t, err)

	k := [3]float64{0.25, 0, 0.5}
	require.NoError(t, b.SetKPoint(k))

	ng := b.Len1()
	in := make([]complex128, ng)
	for i, v := range localField(d, 0) {
		in[i] = complex(v+1, 0.5)
	}

	buf := make([]complex128, b.Len2())
	b.FillHalo(in, buf, 1, 0)

	lo := d.LocalStart(0)
	n := d.LocalSize(0)
	idx := 0
	for p0 := 0; p0 < b.Size2[0]; p0++ {
		for p1 := 0; p1 < b.Size2[1]; p1++ {
			for p2 := 0; p2 < b.Size2[2]; p2++ {
				p := [3]int{p0, p1, p2}
				var g [3]int
				mult := complex(1, 0)
				for i := 0; i < 3; i++ {
					g[i] = lo[i] + p[i] - b.Pad[i][0]
					if g[i] < 0 {
						g[i] += d.GlobalSize[i]
						mult *= cmplx.Exp(complex(0, -2*math.Pi*k[i]))
					} else if g[i] >= d.GlobalSize[i] {
						g[i] -= d.GlobalSize[i]
						mult *= cmplx.Exp(complex(0, 2*math.Pi*k[i]))
					}
				}
				li := ((g[0]-lo[0])*n[1]+g[1]-lo[1])*n[2] + g[2] - lo[2]
				want := in[li] * mult
				assert.InDelta(t, real(want), real(buf[idx]), 1e-12, "padded point %v", p)
				assert.InDelta(t, imag(want), imag(buf[idx]), 1e-12, "padded point %v", p)
				idx++
			}
		}
	}
}

func TestAxisOrderDoesNotChangeHalo(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{2, 2, 2}, [3]bool{true, true, false})
	require.NoError(t, err)
	np := d.Ranks()

	fill := func(order [3]int) [][]float64 {
		grp := comm.NewLocalGroup(np)
		bcs := make([]*BoundaryConditions[float64], np)
		bufs := make([][]float64, np)
		for rank := 0; rank < np; rank++ {
			s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 1, d.LocalSize(rank))
			require.NoError(t, err)
			bcs[rank], err = NewOrdered[float64](d, s, grp[rank], order)
			require.NoError(t, err)
			bufs[rank] = make([]float64, bcs[rank].Len2())
		}
		var wg sync.WaitGroup
		for rank := 0; rank < np; rank++ {
			wg.Add(1)
			go func(rank int) {
				defer wg.Done()
				bcs[rank].FillHalo(localField(d, rank), bufs[rank], 1, 0)
			}(rank)
		}
		wg.Wait()
		return bufs
	}

	fwd := fill([3]int{0, 1, 2})
	rev := fill([3]int{2, 1, 0})
	for rank := 0; rank < np; rank++ {
		assert.Equal(t, fwd[rank], rev[rank], "rank %d", rank)
	}
}

func TestNewOrderedRejectsBadSequence(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{1, 1, 1}, [3]bool{})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 1, d.LocalSize(0))
	require.NoError(t, err)

	_, err = NewOrdered[float64](d, s, grp[0], [3]int{0, 0, 2})
	assert.Error(t, err)
}

func TestSetKPointRealRejected(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{1, 1, 1}, [3]bool{true, true, true})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(1)
	_, b := build(t, d, grp[0], 1)

	assert.NoError(t, b.SetKPoint([3]float64{}))
	assert.Error(t, b.SetKPoint([3]float64{0.25, 0, 0}))
}

func TestNewRejectsThinSlab(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 4, 4}, [3]int{4, 1, 1}, [3]bool{true, true, true})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(4)

	s, err := stencil.Laplace(1.0, [3]float64{1, 1, 1}, 2, d.LocalSize(0))
	require.NoError(t, err)
	_, err = New[float64](d, s, grp[0])
	assert.Error(t, err, "slab of thickness 1 cannot source a reach-2 halo")
}

func TestExchangeBytes(t *testing.T) {
	d, err := grid.NewDescriptor([3]int{4, 6, 5}, [3]int{2, 1, 1}, [3]bool{false, false, false})
	require.NoError(t, err)
	grp := comm.NewLocalGroup(2)
	_, b := build(t, d, grp[0], 1)

	// One remote neighbor on the high side of axis 0; both its boxes span
	// the interior of axes 1 and 2 with one plane of thickness.
	want := 6 * 5 * 8
	assert.Equal(t, want, b.ExchangeBytes(1))
	assert.Equal(t, 3*want, b.ExchangeBytes(3))
}
