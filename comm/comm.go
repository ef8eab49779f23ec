// Package comm provides the point-to-point messaging layer used for halo
// exchange. The wire format is []float64; complex fields travel as
// interleaved real/imaginary pairs.
package comm

// Request is the handle of one outstanding non-blocking operation. Wait
// blocks until the transfer completes; for receives the payload is in the
// buffer handed to Irecv afterwards.
type Request interface {
	Wait() error
}

// Transport is one rank's endpoint in a process group. Isend and Irecv are
// non-blocking: they return immediately and the transfer completes at Wait.
// Matching is by (peer, tag) with per-pair FIFO ordering.
type Transport interface {
	Rank() int
	Size() int
	Isend(to, tag int, data []float64) Request
	Irecv(from, tag int, data []float64) Request
}

// Done is a Request that has already completed.
type Done struct{}

func (Done) Wait() error { return nil }
