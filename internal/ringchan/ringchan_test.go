package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_SendWithinCapacity(t *testing.T) {
	r := New[int](3)

	assert.False(t, r.Send(1))
	assert.False(t, r.Send(2))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, Stats{Written: 2}, r.Stats())
}

func TestRing_OverflowDropsOldest(t *testing.T) {
	r := New[int](3)
	for i := 0; i < 10; i++ {
		r.Send(i)
	}
	r.Close()

	var got []int
	for v := range r.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got)
	stats := r.Stats()
	assert.Equal(t, int64(10), stats.Written)
	assert.Equal(t, int64(7), stats.Dropped)
}

func TestRing_SendReportsDrop(t *testing.T) {
	r := New[string](1)

	require.False(t, r.Send("a"))
	assert.True(t, r.Send("b"))
	assert.Equal(t, "b", <-r.C())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
