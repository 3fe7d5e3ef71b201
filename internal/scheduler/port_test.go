package scheduler

import "testing"

func TestPort_SignalDelivers(t *testing.T) {
	p := NewPort(4)
	p.Signal(7)
	p.Signal(9)

	if got := <-p.Packets(); got != 7 {
		t.Errorf("first packet = %d, want 7", got)
	}
	if got := <-p.Packets(); got != 9 {
		t.Errorf("second packet = %d, want 9", got)
	}
	select {
	case extra := <-p.Packets():
		t.Errorf("unexpected extra packet %d", extra)
	default:
	}
}

func TestPort_DefaultBuffer(t *testing.T) {
	p := NewPort(0)
	// Must absorb a burst without a reader.
	for i := 0; i < 100; i++ {
		p.Signal(uint64(i))
	}
	if got := <-p.Packets(); got != 0 {
		t.Errorf("first packet = %d, want 0", got)
	}
}
