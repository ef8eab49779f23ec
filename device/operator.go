package device

import (
	"fmt"
	"math"
	"math/cmplx"
	"unsafe"

	"github.com/notargets/gocca"

	"github.com/bradenmweight/gpaw/bc"
	"github.com/bradenmweight/gpaw/fd"
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// stageBox pairs the two coordinate frames of one shell slab: cut is the
// unpadded interior box the cut kernel reads, paste is the same slab in
// padded coordinates where the host scatters it before the exchange.
type stageBox struct {
	cut   grid.Box
	paste grid.Box
}

// Operator applies one stencil to batches of fields resident in device
// memory. The halo exchange runs on the host: the boundary shell is cut
// on the device and copied down, exchanged through the slab's transport,
// and the received halo copied back up and inserted into the padded
// working buffer. When the exchanged volume is large enough to hide the
// transfers, the interior is computed while the exchange is in flight and
// only the boundary slabs wait for the halo.
type Operator[T grid.Scalar] struct {
	ctx *Context
	st  *stencil.Stencil
	bc  *bc.BoundaryConditions[T]

	elemd      int
	interiorOK bool
	split      fd.Split

	kApply  *gocca.OCCAKernel
	kJacobi *gocca.OCCAKernel
	kPaste  *gocca.OCCAKernel
	kCut    *gocca.OCCAKernel
	kInsert *gocca.OCCAKernel
	kZero   *gocca.OCCAKernel

	shell    []stageBox
	shellLen int // elements per field across all shell slabs
	halo     []grid.Box
	haloLen  int
	physical []grid.Box

	hbuf      []T // host padded buffer, only shell and halo regions valid
	shellHost []T
	haloHost  []T
}

// NewOperator compiles the kernels of one stencil and precomputes the
// staging plan. The stencil extent and reach must match the exchange plan
// it is paired with.
func NewOperator[T grid.Scalar](ctx *Context, s *stencil.Stencil, b *bc.BoundaryConditions[T]) (*Operator[T], error) {
	if s.N != b.Size1 {
		return nil, fmt.Errorf("device: stencil extent %v does not match slab %v", s.N, b.Size1)
	}
	if s.Reach != b.Pad {
		return nil, fmt.Errorf("device: stencil reach %v does not match halo %v", s.Reach, b.Pad)
	}
	var zero T
	op := &Operator[T]{
		ctx:   ctx,
		st:    s,
		bc:    b,
		elemd: int(unsafe.Sizeof(zero)) / 8,
	}

	src := kernelProgram(s, op.elemd)
	for _, k := range []struct {
		name string
		dst  **gocca.OCCAKernel
	}{
		{"fdApply", &op.kApply},
		{"fdJacobi", &op.kJacobi},
		{"pasteInterior", &op.kPaste},
		{"cutBox", &op.kCut},
		{"insertBox", &op.kInsert},
		{"zeroBox", &op.kZero},
	} {
		kern, err := ctx.Device.BuildKernelFromString(src, k.name, nil)
		if err != nil {
			return nil, fmt.Errorf("device: build %s: %w", k.name, err)
		}
		*k.dst = kern
	}

	mask := b.Mask()
	op.interiorOK = s.HasInterior(mask)
	op.split = fd.SplitBoundary(s, mask)

	for axis := 0; axis < 3; axis++ {
		for dir := 0; dir < 2; dir++ {
			sd := b.Sides[axis][dir]
			if sd.Rank < 0 {
				op.physical = append(op.physical, sd.RecvBox)
				continue
			}
			// The exchange reads the full SendBox, but the device holds
			// only interior data. The halo portion of early-axis boxes is
			// supplied by the preceding receive rounds of the host-side
			// exchange, so cutting SendBox clamped to the interior is
			// enough.
			cut := sd.SendBox
			var paste grid.Box
			for j := 0; j < 3; j++ {
				cut.Beg[j] -= b.Pad[j][0]
				cut.End[j] -= b.Pad[j][0]
				if cut.Beg[j] < 0 {
					cut.Beg[j] = 0
				}
				if cut.End[j] > s.N[j] {
					cut.End[j] = s.N[j]
				}
				paste.Beg[j] = cut.Beg[j] + b.Pad[j][0]
				paste.End[j] = cut.End[j] + b.Pad[j][0]
			}
			op.shell = append(op.shell, stageBox{cut: cut, paste: paste})
			op.shellLen += cut.Len()
			op.halo = append(op.halo, sd.RecvBox)
			op.haloLen += sd.RecvBox.Len()
		}
	}
	return op, nil
}

// blocks is the batch width of one device pass.
func (op *Operator[T]) blocks(nin int) int {
	b := op.ctx.cfg.BlocksMin * op.bc.Ranks()
	if m := op.ctx.cfg.BlocksMax / op.elemd; m < b {
		b = m
	}
	if nin < b {
		b = nin
	}
	if b < 1 {
		b = 1
	}
	return b
}

// Apply computes out = stencil(in) for nin fields stored contiguously in
// device memory. Collective: every rank of the slab's transport group must
// call Apply with the same nin.
func (op *Operator[T]) Apply(in, out *gocca.OCCAMemory, nin int) error {
	if nin < 1 {
		return fmt.Errorf("device: apply needs at least one field, got %d", nin)
	}
	var inH []T
	if op.ctx.cfg.Parity {
		inH = op.copyOut(in, nin*op.bc.Len1())
	}
	blocks := op.blocks(nin)
	scratch, fresh := op.ctx.claimScratch(op, int64(blocks*op.bc.Len2()*op.elemd)*8)
	if fresh {
		if err := op.zeroPhysical(scratch, blocks); err != nil {
			return err
		}
	}
	overlap := op.interiorOK && op.bc.ExchangeBytes(blocks) > op.ctx.cfg.OverlapBytes
	for n0, chunk := 0, 0; n0 < nin; n0, chunk = n0+blocks, chunk+1 {
		nb := blocks
		if nin-n0 < nb {
			nb = nin - n0
		}
		if err := op.applyChunk(in, out, scratch, n0, nb, chunk, overlap); err != nil {
			return err
		}
	}
	if op.ctx.cfg.Parity {
		op.parityApply(inH, out, nin, blocks)
	}
	return nil
}

func (op *Operator[T]) applyChunk(in, out, scratch *gocca.OCCAMemory, fbase, nb, series int, overlap bool) error {
	if err := op.kPaste.RunWithArgs(int32(nb), int32(fbase), in, scratch); err != nil {
		return fmt.Errorf("device: paste kernel: %w", err)
	}
	if err := op.cutShell(in, fbase, nb); err != nil {
		return err
	}
	if overlap && !op.split.Interior.Empty() {
		// Launched before the exchange; on asynchronous backends this
		// computes while the host moves halo data.
		if err := op.runApply(scratch, out, fbase, nb, op.split.Interior); err != nil {
			return err
		}
	}
	op.hostExchange(nb, series)
	if err := op.insertHalo(scratch, nb); err != nil {
		return err
	}
	if overlap {
		for _, r := range op.split.Boundary {
			if err := op.runApply(scratch, out, fbase, nb, r); err != nil {
				return err
			}
		}
	} else {
		if err := op.runApply(scratch, out, fbase, nb, grid.Box{End: op.st.N}); err != nil {
			return err
		}
	}
	op.ctx.Device.Finish()
	return nil
}

func (op *Operator[T]) runApply(scratch, out *gocca.OCCAMemory, fbase, nb int, r grid.Box) error {
	if r.Empty() {
		return nil
	}
	if err := op.kApply.RunWithArgs(int32(nb), int32(fbase), scratch, out,
		int32(r.Beg[0]), int32(r.End[0]),
		int32(r.Beg[1]), int32(r.End[1]),
		int32(r.Beg[2]), int32(r.End[2])); err != nil {
		return fmt.Errorf("device: apply kernel: %w", err)
	}
	return nil
}

// cutShell gathers the boundary shell of nb fields into the staging buffer
// and copies it to the host. The copy is synchronous, so every kernel
// queued before it has completed once it returns.
func (op *Operator[T]) cutShell(in *gocca.OCCAMemory, fbase, nb int) error {
	if op.shellLen == 0 {
		return nil
	}
	bytes := int64(nb*op.shellLen*op.elemd) * 8
	dev := op.ctx.buffer("shell", bytes)
	kbase := 0
	for _, s := range op.shell {
		m := s.cut.Size()
		if err := op.kCut.RunWithArgs(int32(nb), int32(fbase), in, dev, int32(kbase),
			int32(s.cut.Beg[0]), int32(s.cut.Beg[1]), int32(s.cut.Beg[2]),
			int32(m[0]), int32(m[1]), int32(m[2])); err != nil {
			return fmt.Errorf("device: cut kernel: %w", err)
		}
		kbase += nb * s.cut.Len()
	}
	op.shellHost = ensure(op.shellHost, nb*op.shellLen)
	dev.CopyTo(hostPtr(op.shellHost), bytes)
	return nil
}

// hostExchange scatters the downloaded shell into the host padded buffer
// and runs the three-axis halo exchange on it.
func (op *Operator[T]) hostExchange(nb, series int) {
	ng2 := op.bc.Len2()
	op.hbuf = ensure(op.hbuf, nb*ng2)
	koff := 0
	for _, s := range op.shell {
		l := s.cut.Len()
		for f := 0; f < nb; f++ {
			grid.Paste(op.hbuf[f*ng2:(f+1)*ng2], op.bc.Size2, s.paste,
				op.shellHost[koff+f*l:koff+(f+1)*l])
		}
		koff += nb * l
	}
	op.bc.ZeroBoundary(op.hbuf, nb)
	op.bc.Exchange(op.hbuf, nb, series)
}

// insertHalo uploads the received halo and scatters it into the padded
// device buffer.
func (op *Operator[T]) insertHalo(scratch *gocca.OCCAMemory, nb int) error {
	if op.haloLen == 0 {
		return nil
	}
	ng2 := op.bc.Len2()
	op.haloHost = ensure(op.haloHost, nb*op.haloLen)
	koff := 0
	for _, b := range op.halo {
		l := b.Len()
		for f := 0; f < nb; f++ {
			grid.Cut(op.hbuf[f*ng2:(f+1)*ng2], op.bc.Size2, b,
				op.haloHost[koff+f*l:koff+(f+1)*l])
		}
		koff += nb * l
	}
	bytes := int64(nb*op.haloLen*op.elemd) * 8
	dev := op.ctx.buffer("halo", bytes)
	dev.CopyFrom(hostPtr(op.haloHost), bytes)
	koff = 0
	for _, b := range op.halo {
		m := b.Size()
		if err := op.kInsert.RunWithArgs(int32(nb), dev, scratch, int32(koff),
			int32(b.Beg[0]), int32(b.Beg[1]), int32(b.Beg[2]),
			int32(m[0]), int32(m[1]), int32(m[2])); err != nil {
			return fmt.Errorf("device: insert kernel: %w", err)
		}
		koff += nb * b.Len()
	}
	return nil
}

// zeroPhysical clears the halo regions at physical boundaries. It runs
// once when the operator takes over the pooled working buffer; the rest of
// the time those regions stay zero because nothing writes them.
func (op *Operator[T]) zeroPhysical(scratch *gocca.OCCAMemory, nb int) error {
	for _, b := range op.physical {
		m := b.Size()
		if err := op.kZero.RunWithArgs(int32(nb), scratch,
			int32(b.Beg[0]), int32(b.Beg[1]), int32(b.Beg[2]),
			int32(m[0]), int32(m[1]), int32(m[2])); err != nil {
			return fmt.Errorf("device: zero kernel: %w", err)
		}
	}
	return nil
}

// Relax runs nrelax weighted Jacobi sweeps on fun in device memory, with
// source term src. Gauss-Seidel depends on the serial scan order and is
// served by the host path only. Collective like Apply.
func (op *Operator[T]) Relax(method int, fun, src *gocca.OCCAMemory, nrelax int, w float64) error {
	if op.elemd != 1 {
		return fmt.Errorf("device: relaxation is limited to real fields")
	}
	switch method {
	case fd.MethodJacobi:
	case fd.MethodGaussSeidel:
		return fmt.Errorf("device: gauss-seidel relaxation runs on the host path")
	default:
		return fmt.Errorf("device: unknown relaxation method %d", method)
	}
	if op.st.Coefs[0] == 0 {
		return fmt.Errorf("device: stencil has no diagonal term")
	}
	var funH, srcH []T
	if op.ctx.cfg.Parity {
		funH = op.copyOut(fun, op.bc.Len1())
		srcH = op.copyOut(src, op.bc.Len1())
	}
	scratch, fresh := op.ctx.claimScratch(op, int64(op.bc.Len2()*op.elemd)*8)
	if fresh {
		if err := op.zeroPhysical(scratch, 1); err != nil {
			return err
		}
	}
	overlap := op.interiorOK && op.bc.ExchangeBytes(1) > op.ctx.cfg.OverlapBytes
	for n := 0; n < nrelax; n++ {
		if err := op.relaxSweep(fun, src, scratch, n, w, overlap); err != nil {
			return err
		}
	}
	if op.ctx.cfg.Parity {
		op.parityRelax(method, funH, srcH, fun, nrelax, w)
	}
	return nil
}

func (op *Operator[T]) relaxSweep(fun, src, scratch *gocca.OCCAMemory, series int, w float64, overlap bool) error {
	if err := op.kPaste.RunWithArgs(int32(1), int32(0), fun, scratch); err != nil {
		return fmt.Errorf("device: paste kernel: %w", err)
	}
	if err := op.cutShell(fun, 0, 1); err != nil {
		return err
	}
	if overlap && !op.split.Interior.Empty() {
		if err := op.runJacobi(scratch, fun, src, w, op.split.Interior); err != nil {
			return err
		}
	}
	op.hostExchange(1, series)
	if err := op.insertHalo(scratch, 1); err != nil {
		return err
	}
	if overlap {
		for _, r := range op.split.Boundary {
			if err := op.runJacobi(scratch, fun, src, w, r); err != nil {
				return err
			}
		}
	} else {
		if err := op.runJacobi(scratch, fun, src, w, grid.Box{End: op.st.N}); err != nil {
			return err
		}
	}
	op.ctx.Device.Finish()
	return nil
}

func (op *Operator[T]) runJacobi(scratch, fun, src *gocca.OCCAMemory, w float64, r grid.Box) error {
	if r.Empty() {
		return nil
	}
	if err := op.kJacobi.RunWithArgs(int32(1), int32(0), scratch, fun, src, w,
		int32(r.Beg[0]), int32(r.End[0]),
		int32(r.Beg[1]), int32(r.End[1]),
		int32(r.Beg[2]), int32(r.End[2])); err != nil {
		return fmt.Errorf("device: jacobi kernel: %w", err)
	}
	return nil
}

// copyOut blocks until queued kernels finish and downloads n elements.
func (op *Operator[T]) copyOut(mem *gocca.OCCAMemory, n int) []T {
	h := make([]T, n)
	mem.CopyTo(hostPtr(h), int64(n*op.elemd)*8)
	return h
}

// parityApply recomputes the whole batch on the host with the same
// chunking and reports the largest deviation of the device result.
func (op *Operator[T]) parityApply(inH []T, out *gocca.OCCAMemory, nin, blocks int) {
	ng, ng2 := op.bc.Len1(), op.bc.Len2()
	outH := op.copyOut(out, nin*ng)
	ref := make([]T, nin*ng)
	buf := make([]T, blocks*ng2)
	for n0, chunk := 0, 0; n0 < nin; n0, chunk = n0+blocks, chunk+1 {
		nb := blocks
		if nin-n0 < nb {
			nb = nin - n0
		}
		op.bc.FillHalo(inH[n0*ng:(n0+nb)*ng], buf[:nb*ng2], nb, chunk)
		for f := 0; f < nb; f++ {
			fd.Apply(op.st, buf[f*ng2:(f+1)*ng2], ref[(n0+f)*ng:(n0+f+1)*ng])
		}
	}
	if e := maxAbsErr(ref, outH); e > AbsTol {
		fmt.Fprintf(op.ctx.cfg.ParityOut, "[%d] device apply deviates from host by %g\n", op.bc.Rank(), e)
	}
}

// parityRelax mirrors the sweeps on the host starting from the captured
// initial state and compares the final iterate.
func (op *Operator[T]) parityRelax(method int, funH, srcH []T, fun *gocca.OCCAMemory, nrelax int, w float64) {
	ref := any(append([]T(nil), funH...)).([]float64)
	src := any(srcH).([]float64)
	buf := make([]float64, op.bc.Len2())
	hbc := any(op.bc).(*bc.BoundaryConditions[float64])
	for n := 0; n < nrelax; n++ {
		hbc.FillHalo(ref, buf, 1, n)
		fd.Relax(method, op.st, buf, ref, src, w)
	}
	got := op.copyOut(fun, op.bc.Len1())
	if e := maxAbsErr(any(ref).([]T), got); e > AbsTol {
		fmt.Fprintf(op.ctx.cfg.ParityOut, "[%d] device relax deviates from host by %g\n", op.bc.Rank(), e)
	}
}

func maxAbsErr[T grid.Scalar](a, b []T) float64 {
	var m float64
	switch av := any(a).(type) {
	case []float64:
		bv := any(b).([]float64)
		for i := range av {
			if d := math.Abs(av[i] - bv[i]); d > m {
				m = d
			}
		}
	case []complex128:
		bv := any(b).([]complex128)
		for i := range av {
			if d := cmplx.Abs(av[i] - bv[i]); d > m {
				m = d
			}
		}
	}
	return m
}

// ensure grows s to at least n elements, reusing the backing array when it
// already fits.
func ensure[T any](s []T, n int) []T {
	if cap(s) < n {
		return make([]T, n)
	}
	return s[:n]
}
