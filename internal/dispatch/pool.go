package dispatch

import (
	"time"

	"github.com/loomtest/loom/internal/ipc"
	"github.com/loomtest/loom/internal/testtree"
)

// Conn is a dispatcher's view of one live worker: the control-channel
// codec pair plus a close callback the concrete Launcher supplies to
// actually tear the underlying process (or, in tests, goroutine) down.
// Launch is expected to have already completed the init/ready handshake
// before returning a Conn.
type Conn struct {
	Index  int
	Writer *ipc.ParentWriter
	Reader *ipc.WorkerReader

	close func(grace time.Duration)
}

// Close tears the worker down, granting it grace before a harder measure
// (process SIGKILL for a real subprocess, nothing for an in-process fake)
// kicks in. Safe to call more than once.
func (c *Conn) Close(grace time.Duration) {
	if c.close != nil {
		c.close(grace)
		c.close = nil
	}
}

// slot is one entry in the dispatcher's worker pool.
type slot struct {
	index int
	hash  string
	conn  *Conn

	busy      bool
	retiring  bool // Stop already sent; its Done never returns it to the free list, and its disconnect is not a crash
	test      *testtree.Test
	attempt   int
	startTime time.Time
	stdout    []string
	stderr    []string
}

// pool is the dispatcher's bookkeeping for live workers: a bounded set of
// slots, with free ones tracked in oldest-first order for LRU eviction.
type pool struct {
	capacity int
	slots    []*slot
	free     []*slot // oldest-first; free[0] is the least-recently-used
}

func newPool(capacity int) *pool {
	return &pool{capacity: capacity}
}

func (p *pool) hasCapacity() bool { return len(p.slots) < p.capacity }

// takeFreeForHash removes and returns a free slot already bound to hash,
// if one exists.
func (p *pool) takeFreeForHash(hash string) *slot {
	for i, s := range p.free {
		if s.hash == hash {
			p.free = append(p.free[:i], p.free[i+1:]...)
			return s
		}
	}
	return nil
}

// evictLRU removes and returns the least-recently-freed slot, if any,
// from both the free list and the slot set (the caller is responsible
// for actually terminating its worker).
func (p *pool) evictLRU() *slot {
	if len(p.free) == 0 {
		return nil
	}
	s := p.free[0]
	p.free = p.free[1:]
	p.removeSlot(s)
	return s
}

func (p *pool) addFree(s *slot) {
	s.busy = false
	s.test = nil
	p.free = append(p.free, s)
}

func (p *pool) addSlot(s *slot) {
	p.slots = append(p.slots, s)
}

func (p *pool) removeSlot(s *slot) {
	for i, x := range p.slots {
		if x == s {
			p.slots = append(p.slots[:i], p.slots[i+1:]...)
			break
		}
	}
	for i, x := range p.free {
		if x == s {
			p.free = append(p.free[:i], p.free[i+1:]...)
			break
		}
	}
}

func (p *pool) busySlots() []*slot {
	var out []*slot
	for _, s := range p.slots {
		if s.busy {
			out = append(out, s)
		}
	}
	return out
}
