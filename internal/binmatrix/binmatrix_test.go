package binmatrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWidthFor(t *testing.T) {
	assert.Equal(t, Width8, WidthFor(2))
	assert.Equal(t, Width8, WidthFor(256))
	assert.Equal(t, Width16, WidthFor(257))
	assert.Equal(t, Width16, WidthFor(1<<16))
	assert.Equal(t, Width32, WidthFor(1<<16+1))
}

func TestMatrix_GetSet(t *testing.T) {
	m := New[uint8](3, 2)
	m.Set(0, 0, 5)
	m.Set(2, 1, 255)

	assert.Equal(t, uint32(5), m.Get(0, 0))
	assert.Equal(t, uint32(0), m.Get(0, 1))
	assert.Equal(t, uint32(255), m.Get(2, 1))
	assert.Equal(t, 3, m.Rows())
	assert.Equal(t, 2, m.Cols())
}

func TestNewForMaxBins_PicksNarrowestWidth(t *testing.T) {
	small := NewForMaxBins(10, 4, 4)
	_, ok := small.(*Matrix[uint8])
	assert.True(t, ok)

	mid := NewForMaxBins(1000, 4, 4)
	_, ok = mid.(*Matrix[uint16])
	assert.True(t, ok)

	big := NewForMaxBins(1<<20, 4, 4)
	_, ok = big.(*Matrix[uint32])
	assert.True(t, ok)
}

func TestAnyMatrix_RoundTripThroughInterface(t *testing.T) {
	var m AnyMatrix = NewForMaxBins(64, 2, 3)
	m.Set(1, 2, 63)
	assert.Equal(t, uint32(63), m.Get(1, 2))
}

func TestShapeError_Message(t *testing.T) {
	err := &ShapeError{Expected: 4, Got: 3}
	assert.Contains(t, err.Error(), "expected 4")
	assert.Contains(t, err.Error(), "got 3")
}
