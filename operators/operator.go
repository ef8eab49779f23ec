// Package operators orchestrates stencil application and relaxation on
// distributed grid fields: halo fill through the boundary-exchange engine,
// then the finite-difference kernels, batched over fields.
package operators

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/bradenmweight/gpaw/bc"
	"github.com/bradenmweight/gpaw/fd"
	"github.com/bradenmweight/gpaw/grid"
	"github.com/bradenmweight/gpaw/stencil"
)

// Operator binds a stencil to the boundary conditions of one rank's slab.
type Operator[T grid.Scalar] struct {
	Stencil *stencil.Stencil
	BC      *bc.BoundaryConditions[T]

	// Blocks is the number of fields batched through one exchange round,
	// Workers the bound on concurrent rounds. Zero values pick defaults.
	Blocks  int
	Workers int
}

// New validates that the stencil and boundary conditions describe the same
// slab.
func New[T grid.Scalar](s *stencil.Stencil, b *bc.BoundaryConditions[T]) (*Operator[T], error) {
	if s.N != b.Size1 {
		return nil, fmt.Errorf("operators: stencil interior %v does not match slab %v", s.N, b.Size1)
	}
	if s.Reach != b.Pad {
		return nil, fmt.Errorf("operators: stencil reach %v does not match halo %v", s.Reach, b.Pad)
	}
	return &Operator[T]{Stencil: s, BC: b}, nil
}

// Apply computes out = stencil * in for nin fields stored consecutively.
// Fields are processed in chunks of Blocks, each chunk through its own
// working buffer and exchange series, with up to Workers chunks in flight.
// Apply is collective: every rank must call it with the same nin and the
// same chunking.
func (o *Operator[T]) Apply(in, out []T, nin int) error {
	ng, ng2 := o.BC.Len1(), o.BC.Len2()
	if len(in) < nin*ng {
		return fmt.Errorf("operators: input holds %d elements, %d fields need %d", len(in), nin, nin*ng)
	}
	if len(out) < nin*ng {
		return fmt.Errorf("operators: output holds %d elements, %d fields need %d", len(out), nin, nin*ng)
	}

	blocks := o.Blocks
	if blocks < 1 {
		blocks = 1
	}
	if blocks > nin {
		blocks = nin
	}
	nchunks := (nin + blocks - 1) / blocks
	workers := o.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > nchunks {
		workers = nchunks
	}

	chunks := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Each worker owns its scratch buffer; they must never alias.
			buf := make([]T, blocks*ng2)
			for c := range chunks {
				beg := c * blocks
				nb := blocks
				if nin-beg < nb {
					nb = nin - beg
				}
				o.BC.FillHalo(in[beg*ng:], buf, nb, c)
				for m := 0; m < nb; m++ {
					fd.Apply(o.Stencil, buf[m*ng2:(m+1)*ng2], out[(beg+m)*ng:(beg+m+1)*ng])
				}
			}
		}()
	}
	for c := 0; c < nchunks; c++ {
		chunks <- c
	}
	close(chunks)
	wg.Wait()
	return nil
}

// Relax runs nrelax relaxation sweeps of stencil*fun = src on a real
// operator, updating fun in place. The sweeps are inherently sequential;
// each refills the halo from the current iterate.
func Relax(o *Operator[float64], method int, fun, src []float64, nrelax int, w float64) error {
	if o.Stencil.Coefs[0] == 0 {
		return fmt.Errorf("operators: relaxation needs a non-zero center coefficient")
	}
	if method != fd.MethodGaussSeidel && method != fd.MethodJacobi {
		return fmt.Errorf("operators: unknown relaxation method %d", method)
	}
	ng, ng2 := o.BC.Len1(), o.BC.Len2()
	if len(fun) < ng || len(src) < ng {
		return fmt.Errorf("operators: fields hold %d/%d elements, slab needs %d", len(fun), len(src), ng)
	}

	buf := make([]float64, ng2)
	for n := 0; n < nrelax; n++ {
		o.BC.FillHalo(fun, buf, 1, 0)
		fd.Relax(method, o.Stencil, buf, fun, src, w)
	}
	return nil
}
