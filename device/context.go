// Package device offloads stencil application and relaxation to an
// accelerator through OCCA, overlapping halo exchange with interior
// computation when the transfer volume makes the setup worthwhile.
package device

import (
	"fmt"
	"io"
	"os"
	"unsafe"

	"github.com/notargets/gocca"
)

// Tolerances of the debug parity mode: exact device operations must match
// the host bit-for-bit up to machine epsilon, accumulated stencil sums up
// to AbsTol.
const (
	AbsTol      = 1e-13
	AbsTolExact = 2.220446049250313e-16
)

// Config carries the process-wide offload knobs. They are read once at
// context creation.
type Config struct {
	// Props is the OCCA device properties JSON. Empty selects the first
	// working backend from the default chain.
	Props string

	// BlocksMin and BlocksMax bound the number of fields batched through
	// one device pass.
	BlocksMin int
	BlocksMax int

	// OverlapBytes is the amortization floor: halo rounds moving fewer
	// bytes run the synchronous fallback path. This is a tuned constant,
	// not a derived quantity.
	OverlapBytes int

	// Parity mirrors every device operation on the host and reports the
	// maximum absolute discrepancy to ParityOut without altering results.
	Parity    bool
	ParityOut io.Writer
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		BlocksMin:    16,
		BlocksMax:    72,
		OverlapBytes: 128 * 1024,
	}
}

func (c *Config) fill() {
	if c.BlocksMin < 1 {
		c.BlocksMin = 16
	}
	if c.BlocksMax < 1 {
		c.BlocksMax = 72
	}
	if c.OverlapBytes == 0 {
		c.OverlapBytes = 128 * 1024
	}
	if c.ParityOut == nil {
		c.ParityOut = os.Stderr
	}
}

type pooled struct {
	mem   *gocca.OCCAMemory
	bytes int64
}

// Context owns a device and the pooled scratch memory shared by every
// operator built on it. The pool is lazily grown and never shrunk, so
// repeated stencil applications within one run do not churn allocations.
// The caller acquires the context explicitly and releases it with Free;
// there is no hidden global state.
type Context struct {
	Device *gocca.OCCADevice
	cfg    Config

	pool map[string]*pooled

	// scratchOwner tracks which operator last wrote the padded working
	// buffer, so a new owner re-zeroes the physical halo it relies on.
	scratchOwner any
}

// NewContext acquires a device and prepares the buffer pool. Device memory
// exhaustion and backend failures surface here; past this point allocation
// failures in the hot path are fatal by design.
func NewContext(cfg Config) (*Context, error) {
	cfg.fill()
	props := []string{cfg.Props}
	if cfg.Props == "" {
		props = []string{
			`{"mode": "CUDA", "device_id": 0}`,
			`{"mode": "OpenMP"}`,
			`{"mode": "Serial"}`,
		}
	}
	var dev *gocca.OCCADevice
	var err error
	for _, p := range props {
		dev, err = gocca.NewDevice(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("device: no usable backend: %w", err)
	}
	return &Context{Device: dev, cfg: cfg, pool: make(map[string]*pooled)}, nil
}

// Mode returns the backend name of the underlying device.
func (c *Context) Mode() string { return c.Device.Mode() }

// buffer returns the pooled device buffer of the given name with at least
// the requested size, reallocating only on growth.
func (c *Context) buffer(name string, bytes int64) *gocca.OCCAMemory {
	p, ok := c.pool[name]
	if !ok {
		p = &pooled{}
		c.pool[name] = p
	}
	if bytes > p.bytes {
		if p.mem != nil {
			p.mem.Free()
		}
		p.mem = c.Device.Malloc(bytes, nil, nil)
		p.bytes = bytes
		if name == "scratch" {
			c.scratchOwner = nil
		}
	}
	return p.mem
}

// claimScratch hands the padded working buffer to an operator, reporting
// whether it must re-establish its zeroed physical halo.
func (c *Context) claimScratch(owner any, bytes int64) (*gocca.OCCAMemory, bool) {
	mem := c.buffer("scratch", bytes)
	fresh := c.scratchOwner != owner
	c.scratchOwner = owner
	return mem, fresh
}

// Free releases the pooled buffers and the device.
func (c *Context) Free() {
	for _, p := range c.pool {
		if p.mem != nil {
			p.mem.Free()
		}
	}
	c.pool = nil
	if c.Device != nil {
		c.Device.Free()
		c.Device = nil
	}
}

// hostPtr returns the address of the first element of a non-empty slice.
func hostPtr[T any](s []T) unsafe.Pointer {
	return unsafe.Pointer(&s[0])
}
