package stream

// accumulator is the cumulative receive buffer for one connection attempt.
// Bytes are appended by feed and consumed front to back by the decoder.
// Consumed bytes stay in place until the buffer either drains completely
// (then it is released) or survives discardAfter feed cycles without
// draining (then the consumed prefix is compacted away). Compaction moves
// memory, so it is refused while any taken view is still pinned.
type accumulator struct {
	buf   []byte
	off   int // bytes already consumed
	feeds int // feed cycles since the last drain
	pins  int // outstanding views into buf
}

// grow copies p onto the end of the arena. The caller may reuse p.
func (a *accumulator) grow(p []byte) {
	a.buf = append(a.buf, p...)
}

// size returns the number of unconsumed bytes.
func (a *accumulator) size() int {
	return len(a.buf) - a.off
}

// take consumes n bytes and returns them as a view into the arena. The
// view is valid until the next compact or release, so callers that hold
// it across a feed boundary must pin the arena first.
func (a *accumulator) take(n int) []byte {
	v := a.buf[a.off : a.off+n]
	a.off += n
	return v
}

func (a *accumulator) pin()   { a.pins++ }
func (a *accumulator) unpin() { a.pins-- }

// endFeed applies the buffer hygiene rules after one feed loop: release
// on full drain, otherwise compact once discardAfter non-draining cycles
// have passed and no pinned view blocks the move.
func (a *accumulator) endFeed(discardAfter int) {
	if a.size() == 0 {
		a.release()
		return
	}
	a.feeds++
	if discardAfter > 0 && a.feeds >= discardAfter {
		a.compact()
	}
}

// compact drops the consumed prefix, keeping capacity. No-op while pinned.
func (a *accumulator) compact() {
	if a.pins > 0 || a.off == 0 {
		return
	}
	n := copy(a.buf, a.buf[a.off:])
	a.buf = a.buf[:n]
	a.off = 0
	a.feeds = 0
}

// release drops the arena entirely so idle periods hold no memory.
func (a *accumulator) release() {
	a.buf = nil
	a.off = 0
	a.feeds = 0
}
