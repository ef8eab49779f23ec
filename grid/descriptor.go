package grid

import (
	"fmt"
)

// Scalar is the element type of a grid field. Complex fields interleave
// real and imaginary parts in storage; coefficients stay real.
type Scalar interface {
	float64 | complex128
}

// Descriptor describes a regular 3D grid decomposed over a Cartesian
// process grid. It is immutable and shared by every rank.
type Descriptor struct {
	GlobalSize [3]int
	ProcGrid   [3]int
	Periodic   [3]bool
}

// NewDescriptor validates the decomposition. Every axis must have at least
// one grid point per process slab.
func NewDescriptor(size, procs [3]int, periodic [3]bool) (*Descriptor, error) {
	for i := 0; i < 3; i++ {
		if size[i] < 1 {
			return nil, fmt.Errorf("grid: global size %v invalid", size)
		}
		if procs[i] < 1 {
			return nil, fmt.Errorf("grid: process grid %v invalid", procs)
		}
		if size[i] < procs[i] {
			return nil, fmt.Errorf("grid: axis %d has %d points for %d processes", i, size[i], procs[i])
		}
	}
	return &Descriptor{GlobalSize: size, ProcGrid: procs, Periodic: periodic}, nil
}

// Ranks returns the total number of processes in the decomposition.
func (d *Descriptor) Ranks() int {
	return d.ProcGrid[0] * d.ProcGrid[1] * d.ProcGrid[2]
}

// Coords returns the Cartesian coordinates of a rank, axis 2 fastest.
func (d *Descriptor) Coords(rank int) [3]int {
	return [3]int{
		rank / (d.ProcGrid[1] * d.ProcGrid[2]),
		rank / d.ProcGrid[2] % d.ProcGrid[1],
		rank % d.ProcGrid[2],
	}
}

// RankAt returns the rank at the given Cartesian coordinates.
func (d *Descriptor) RankAt(c [3]int) int {
	return (c[0]*d.ProcGrid[1]+c[1])*d.ProcGrid[2] + c[2]
}

// Neighbor returns the rank adjacent to rank along axis in direction dir
// (0 = low, 1 = high), wrapping on periodic axes. It returns -1 at a
// physical boundary.
func (d *Descriptor) Neighbor(rank, axis, dir int) int {
	c := d.Coords(rank)
	if dir == 0 {
		c[axis]--
	} else {
		c[axis]++
	}
	if c[axis] < 0 || c[axis] >= d.ProcGrid[axis] {
		if !d.Periodic[axis] {
			return -1
		}
		c[axis] = (c[axis] + d.ProcGrid[axis]) % d.ProcGrid[axis]
	}
	return d.RankAt(c)
}

// LocalSize returns the interior extent of the slab owned by rank. Axes
// split evenly with the remainder going to the low-coordinate slabs, the
// same convention as the slab offsets from LocalStart.
func (d *Descriptor) LocalSize(rank int) [3]int {
	c := d.Coords(rank)
	var n [3]int
	for i := 0; i < 3; i++ {
		q, r := d.GlobalSize[i]/d.ProcGrid[i], d.GlobalSize[i]%d.ProcGrid[i]
		n[i] = q
		if c[i] < r {
			n[i]++
		}
	}
	return n
}

// LocalStart returns the global coordinates of the first interior point of
// the slab owned by rank.
func (d *Descriptor) LocalStart(rank int) [3]int {
	c := d.Coords(rank)
	var beg [3]int
	for i := 0; i < 3; i++ {
		q, r := d.GlobalSize[i]/d.ProcGrid[i], d.GlobalSize[i]%d.ProcGrid[i]
		beg[i] = q * c[i]
		if c[i] < r {
			beg[i] += c[i]
		} else {
			beg[i] += r
		}
	}
	return beg
}
