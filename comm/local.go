package comm

import (
	"fmt"
	"sync"
)

// mailboxDepth bounds the number of buffered in-flight messages per
// (sender, receiver, tag) triple before Isend blocks.
const mailboxDepth = 64

type mailKey struct {
	from, to, tag int
}

// LocalGroup connects np ranks running as goroutines inside one process
// through buffered channels. It implements the same non-blocking semantics
// a distributed transport provides and is used by tests and single-node
// runs, following the mailbox pattern of thread-parallel solvers.
type LocalGroup struct {
	np    int
	mu    sync.Mutex
	boxes map[mailKey]chan []float64
}

// NewLocalGroup creates a group of np connected endpoints, one per rank.
func NewLocalGroup(np int) []*LocalRank {
	if np < 1 {
		panic(fmt.Sprintf("comm: group size %d out of range", np))
	}
	g := &LocalGroup{np: np, boxes: make(map[mailKey]chan []float64)}
	ranks := make([]*LocalRank, np)
	for i := range ranks {
		ranks[i] = &LocalRank{group: g, rank: i}
	}
	return ranks
}

func (g *LocalGroup) box(k mailKey) chan []float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.boxes[k]
	if !ok {
		ch = make(chan []float64, mailboxDepth)
		g.boxes[k] = ch
	}
	return ch
}

// LocalRank is one endpoint of a LocalGroup.
type LocalRank struct {
	group *LocalGroup
	rank  int
}

func (r *LocalRank) Rank() int { return r.rank }
func (r *LocalRank) Size() int { return r.group.np }

// Isend copies data into the mailbox of (to, tag). The send completes
// immediately; the copy keeps the caller free to reuse its buffer.
func (r *LocalRank) Isend(to, tag int, data []float64) Request {
	if to < 0 || to >= r.group.np {
		panic(fmt.Sprintf("comm: rank %d sending to invalid rank %d", r.rank, to))
	}
	msg := append([]float64(nil), data...)
	r.group.box(mailKey{from: r.rank, to: to, tag: tag}) <- msg
	return Done{}
}

// Irecv posts a receive for a message from (from, tag) into data. The
// transfer happens at Wait.
func (r *LocalRank) Irecv(from, tag int, data []float64) Request {
	if from < 0 || from >= r.group.np {
		panic(fmt.Sprintf("comm: rank %d receiving from invalid rank %d", r.rank, from))
	}
	return &localRecv{
		ch:   r.group.box(mailKey{from: from, to: r.rank, tag: tag}),
		data: data,
		from: from,
		to:   r.rank,
		tag:  tag,
	}
}

type localRecv struct {
	ch   chan []float64
	data []float64
	from int
	to   int
	tag  int
}

func (rv *localRecv) Wait() error {
	msg := <-rv.ch
	if len(msg) != len(rv.data) {
		return fmt.Errorf("comm: rank %d tag %d: message from %d has %d elements, expected %d",
			rv.to, rv.tag, rv.from, len(msg), len(rv.data))
	}
	copy(rv.data, msg)
	return nil
}
