package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorReleasesOnDrain(t *testing.T) {
	var a accumulator
	a.grow([]byte("abcdef"))

	require.Equal(t, 6, a.size())
	assert.Equal(t, []byte("abc"), a.take(3))
	assert.Equal(t, []byte("def"), a.take(3))
	require.Equal(t, 0, a.size())

	a.endFeed(4)
	assert.Nil(t, a.buf, "drained arena should be released")
	assert.Equal(t, 0, a.off)
	assert.Equal(t, 0, a.feeds)
}

func TestAccumulatorGrowCopiesInput(t *testing.T) {
	var a accumulator
	p := []byte{1, 2, 3}
	a.grow(p)
	p[0] = 9

	assert.Equal(t, []byte{1, 2, 3}, a.take(3))
}

func TestAccumulatorCompactsAfterThreshold(t *testing.T) {
	var a accumulator
	a.grow([]byte("hhhhrest"))
	a.take(4)

	a.endFeed(3)
	a.endFeed(3)
	assert.Equal(t, 4, a.off, "below threshold, consumed prefix stays")

	a.endFeed(3)
	assert.Equal(t, 0, a.off, "threshold reached, prefix compacted")
	assert.Equal(t, 4, a.size())
	assert.Equal(t, []byte("rest"), a.take(4))
}

func TestAccumulatorCompactRefusedWhilePinned(t *testing.T) {
	var a accumulator
	a.grow([]byte("xxxxtail"))
	v := a.take(4)

	a.pin()
	a.endFeed(1)
	assert.Equal(t, 4, a.off, "pinned arena must not move")
	assert.Equal(t, []byte("xxxx"), v, "pinned view stays valid")

	a.unpin()
	a.endFeed(1)
	assert.Equal(t, 0, a.off)
	assert.Equal(t, []byte("tail"), a.take(4))
}

func TestAccumulatorZeroThresholdNeverCompacts(t *testing.T) {
	var a accumulator
	a.grow([]byte("abcd"))
	a.take(2)

	for i := 0; i < 10; i++ {
		a.endFeed(0)
	}
	assert.Equal(t, 2, a.off)
	assert.Equal(t, 2, a.size())
}
