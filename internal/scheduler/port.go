package scheduler

// Port carries semaphore signal packets from arbitrary goroutines to the
// dispatch loop. Signal is the only scheduler entry point that is safe to
// call off the dispatch goroutine; everything else funnels through the loop.
type Port struct {
	packets chan uint64
}

// NewPort creates a port with the given packet buffer. A zero or negative
// buffer gets a default large enough that signalers never block in practice.
func NewPort(buffer int) *Port {
	if buffer <= 0 {
		buffer = 256
	}
	return &Port{packets: make(chan uint64, buffer)}
}

// Signal queues a packet for the key. Blocks only if the dispatch loop has
// fallen a full buffer behind.
func (p *Port) Signal(key uint64) {
	p.packets <- key
}

// Packets exposes the receive side for the dispatch loop to drain.
func (p *Port) Packets() <-chan uint64 {
	return p.packets
}
