package stencil

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// derivWeights solves the Taylor moment system for the central
// finite-difference weights of the m-th derivative on the symmetric point
// set -p..p: sum_d w_d d^k = k! for k == m, 0 otherwise, k = 0..2p.
func derivWeights(p, m int) ([]float64, error) {
	np := 2*p + 1
	if m >= np {
		return nil, fmt.Errorf("stencil: derivative order %d needs more than %d points", m, np)
	}
	a := mat.NewDense(np, np, nil)
	b := mat.NewVecDense(np, nil)
	for k := 0; k < np; k++ {
		for i := 0; i < np; i++ {
			d := float64(i - p)
			pw := 1.0
			for j := 0; j < k; j++ {
				pw *= d
			}
			a.Set(k, i, pw)
		}
	}
	fact := 1.0
	for j := 2; j <= m; j++ {
		fact *= float64(j)
	}
	b.SetVec(m, fact)

	var w mat.VecDense
	if err := w.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("stencil: singular moment system: %w", err)
	}
	return w.RawVector().Data, nil
}

// Laplace builds the (6*order+1)-point Laplacian scaled by scale on an
// interior grid of extent n with spacings h. order is the number of neighbor
// points used on each side of every axis; order 1 gives the classic 7-point
// stencil.
func Laplace(scale float64, h [3]float64, order int, n [3]int) (*Stencil, error) {
	if order < 1 {
		return nil, fmt.Errorf("stencil: Laplace order %d out of range", order)
	}
	w, err := derivWeights(order, 2)
	if err != nil {
		return nil, err
	}

	ncoefs := 3*2*order + 1
	coefs := make([]float64, 0, ncoefs)
	rel := make([][3]int, 0, ncoefs)

	center := 0.0
	for axis := 0; axis < 3; axis++ {
		center += w[order] / (h[axis] * h[axis])
	}
	coefs = append(coefs, scale*center)
	rel = append(rel, [3]int{})

	for axis := 0; axis < 3; axis++ {
		hh := h[axis] * h[axis]
		for d := 1; d <= order; d++ {
			var lo, hi [3]int
			lo[axis] = -d
			hi[axis] = d
			coefs = append(coefs, scale*w[order-d]/hh)
			rel = append(rel, lo)
			coefs = append(coefs, scale*w[order+d]/hh)
			rel = append(rel, hi)
		}
	}
	return New(coefs, rel, n)
}

// Gradient builds the central first-derivative operator along one axis,
// scaled by scale. The center coefficient is zero, so the result must not be
// handed to a relaxation sweep.
func Gradient(scale float64, axis int, h float64, order int, n [3]int) (*Stencil, error) {
	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("stencil: gradient axis %d out of range", axis)
	}
	if order < 1 {
		return nil, fmt.Errorf("stencil: gradient order %d out of range", order)
	}
	w, err := derivWeights(order, 1)
	if err != nil {
		return nil, err
	}

	coefs := []float64{0}
	rel := [][3]int{{}}
	for d := 1; d <= order; d++ {
		var lo, hi [3]int
		lo[axis] = -d
		hi[axis] = d
		coefs = append(coefs, scale*w[order-d]/h)
		rel = append(rel, lo)
		coefs = append(coefs, scale*w[order+d]/h)
		rel = append(rel, hi)
	}
	return New(coefs, rel, n)
}
