package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Slice())
	assert.Equal(t, 3, r.At(0))
}

func TestRing_Last(t *testing.T) {
	r := NewRing[int](5)
	r.Push(1)
	r.Push(2)

	assert.Equal(t, []int{1, 2}, r.Last(10))
	assert.Equal(t, []int{2}, r.Last(1))

	for i := 3; i <= 8; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{6, 7, 8}, r.Last(3))
}

func TestRing_DefaultCapacity(t *testing.T) {
	r := NewRing[string](0)
	assert.Equal(t, DefaultHistorySize, r.Cap())
	assert.Empty(t, r.Slice())
}
