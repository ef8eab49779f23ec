package bc

import (
	"log"
	"unsafe"

	"github.com/bradenmweight/gpaw/comm"
	"github.com/bradenmweight/gpaw/grid"
)

// PendingExchange holds the outstanding non-blocking handles and staging
// buffers of one axis of one halo fill. It is created by Start and consumed
// by Finish; it never outlives the round.
type PendingExchange[T grid.Scalar] struct {
	axis   int
	series int

	recvReq   [2]comm.Request
	recvStage [2][]T
	sendReq   [2]comm.Request
}

// tag builds the message tag of one (series, axis, sender-side) triple.
// Concurrent rounds between the same rank pair stay separated by series.
func tag(series, axis, senderDir int) int {
	return (series*3+axis)*2 + senderDir
}

// wire reinterprets a scalar slice as the float64 wire format. Complex
// elements occupy two consecutive doubles.
func wire[T grid.Scalar](s []T) []float64 {
	if len(s) == 0 {
		return nil
	}
	n := len(s) * int(unsafe.Sizeof(s[0])) / 8
	return unsafe.Slice((*float64)(unsafe.Pointer(&s[0])), n)
}

// scalePhase multiplies a staged receive by a Bloch phase. Real data is
// never scaled.
func scalePhase[T grid.Scalar](s []T, phase complex128) {
	if phase == 1 {
		return
	}
	if z, ok := any(s).([]complex128); ok {
		for i := range z {
			z[i] *= phase
		}
	}
}

// Paste copies the nin owned interior fields from in into the padded
// working buffer buf and clears the halo of every physical boundary.
func (b *BoundaryConditions[T]) Paste(in, buf []T, nin int) {
	ng, ng2 := b.Len1(), b.Len2()
	box := b.InteriorBox()
	for f := 0; f < nin; f++ {
		grid.Paste(buf[f*ng2:(f+1)*ng2], b.Size2, box, in[f*ng:(f+1)*ng])
	}
	b.ZeroBoundary(buf, nin)
}

// ZeroBoundary clears the halo planes of the physical (no-neighbor) sides.
// Exchanged sides are always overwritten and need no clearing.
func (b *BoundaryConditions[T]) ZeroBoundary(buf []T, nin int) {
	ng2 := b.Len2()
	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			side := &b.Sides[axis][dir]
			if side.Rank >= 0 {
				continue
			}
			for f := 0; f < nin; f++ {
				grid.Zero(buf[f*ng2:(f+1)*ng2], b.Size2, side.RecvBox)
			}
		}
	}
}

// Start begins the exchange of one axis for nin fields held in buf: it
// posts the receives, then packs and posts the sends, and serves periodic
// self-wraps by direct copy. The working buffer must already hold the
// pasted interior and the halo of every earlier axis.
func (b *BoundaryConditions[T]) Start(buf []T, axis, nin, series int) *PendingExchange[T] {
	p := &PendingExchange[T]{axis: axis, series: series}
	ng2 := b.Len2()

	// Receives first, so a matching send never waits on a late buffer.
	for dir := 0; dir < 2; dir++ {
		side := &b.Sides[axis][dir]
		if side.Rank < 0 || side.Self {
			continue
		}
		p.recvStage[dir] = make([]T, nin*side.RecvBox.Len())
		p.recvReq[dir] = b.tr.Irecv(side.Rank, tag(series, axis, 1-dir), wire(p.recvStage[dir]))
	}

	for dir := 0; dir < 2; dir++ {
		side := &b.Sides[axis][dir]
		if side.Rank < 0 {
			continue
		}
		if side.Self {
			// Periodic wrap onto this rank: the opposite interior planes
			// are this side's halo.
			src := b.Sides[axis][1-dir].SendBox
			stage := make([]T, nin*src.Len())
			n := src.Len()
			for f := 0; f < nin; f++ {
				grid.Cut(buf[f*ng2:(f+1)*ng2], b.Size2, src, stage[f*n:(f+1)*n])
			}
			scalePhase(stage, side.Phase)
			for f := 0; f < nin; f++ {
				grid.Paste(buf[f*ng2:(f+1)*ng2], b.Size2, side.RecvBox, stage[f*n:(f+1)*n])
			}
			continue
		}
		n := side.SendBox.Len()
		stage := make([]T, nin*n)
		for f := 0; f < nin; f++ {
			grid.Cut(buf[f*ng2:(f+1)*ng2], b.Size2, side.SendBox, stage[f*n:(f+1)*n])
		}
		p.sendReq[dir] = b.tr.Isend(side.Rank, tag(series, axis, dir), wire(stage))
	}
	return p
}

// Finish blocks until the receives of one axis land, applies the Bloch
// phase, scatters the planes into the halo and releases the sends. A
// transport failure invalidates the whole distributed computation and is
// fatal.
func (b *BoundaryConditions[T]) Finish(buf []T, nin int, p *PendingExchange[T]) {
	ng2 := b.Len2()
	for dir := 0; dir < 2; dir++ {
		req := p.recvReq[dir]
		if req == nil {
			continue
		}
		side := &b.Sides[p.axis][dir]
		if err := req.Wait(); err != nil {
			log.Fatalf("[rank %d] halo receive axis %d dir %d: %v", b.tr.Rank(), p.axis, dir, err)
		}
		stage := p.recvStage[dir]
		scalePhase(stage, side.Phase)
		n := side.RecvBox.Len()
		for f := 0; f < nin; f++ {
			grid.Paste(buf[f*ng2:(f+1)*ng2], b.Size2, side.RecvBox, stage[f*n:(f+1)*n])
		}
	}
	for dir := 0; dir < 2; dir++ {
		if req := p.sendReq[dir]; req != nil {
			if err := req.Wait(); err != nil {
				log.Fatalf("[rank %d] halo send axis %d dir %d: %v", b.tr.Rank(), p.axis, dir, err)
			}
		}
	}
}

// Exchange runs the three axis rounds in the plan's sequence on a buffer
// whose interior is already pasted.
func (b *BoundaryConditions[T]) Exchange(buf []T, nin, series int) {
	for _, axis := range b.order {
		b.Finish(buf, nin, b.Start(buf, axis, nin, series))
	}
}

// FillHalo pastes the nin interior fields into buf and synchronizes the
// complete halo. series must be distinct across concurrent rounds and
// chosen identically on every rank.
func (b *BoundaryConditions[T]) FillHalo(in, buf []T, nin, series int) {
	b.Paste(in, buf, nin)
	b.Exchange(buf, nin, series)
}
