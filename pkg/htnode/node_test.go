package htnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/histtree/pkg/htinterval"
)

func TestLeafTryAppendOrdersByEndTime(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)

	assert.True(t, n.TryAppend(htinterval.Interval{Start: 0, End: 30, Quark: 1, Value: htinterval.IntValue(1)}))
	assert.True(t, n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 2, Value: htinterval.IntValue(2)}))
	assert.True(t, n.TryAppend(htinterval.Interval{Start: 0, End: 20, Quark: 3, Value: htinterval.IntValue(3)}))

	require.Equal(t, 3, n.IntervalCount())
	got := n.IntervalsIntersecting(0)
	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].End)
	assert.Equal(t, int64(20), got[1].End)
	assert.Equal(t, int64(30), got[2].End)
}

func TestLeafTryAppendRejectsWhenFull(t *testing.T) {
	iv := htinterval.Interval{Start: 0, End: 1, Quark: 1, Value: htinterval.StringValue("0123456789")}
	sz, err := iv.Size()
	require.NoError(t, err)

	// room for exactly one interval's worth of space beyond the header.
	n := NewLeaf(0, -1, 0, LeafHeaderSize()+sz)

	ok1 := n.TryAppend(iv)
	ok2 := n.TryAppend(iv)
	assert.True(t, ok1)
	assert.False(t, ok2)
}

func TestIntervalsIntersectingFiltersByStart(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	n.TryAppend(htinterval.Interval{Start: 50, End: 100, Quark: 1, Value: htinterval.NullValue()})

	assert.Empty(t, n.IntervalsIntersecting(10))
	assert.Len(t, n.IntervalsIntersecting(75), 1)
	assert.Empty(t, n.IntervalsIntersecting(101))
}

func TestRelevantIntervalByQuark(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 1, Value: htinterval.IntValue(1)})
	n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 2, Value: htinterval.IntValue(2)})

	iv, ok := n.RelevantInterval(2, 5)
	require.True(t, ok)
	assert.Equal(t, int32(2), iv.Quark)

	_, ok = n.RelevantInterval(99, 5)
	assert.False(t, ok)
}

func TestPartialIntersectingStopsEarlyViaRemaining(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 1, Value: htinterval.IntValue(1)})
	n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 2, Value: htinterval.IntValue(2)})
	n.TryAppend(htinterval.Interval{Start: 0, End: 10, Quark: 3, Value: htinterval.IntValue(3)})

	remaining := map[int32]bool{1: true, 3: true}
	got := n.PartialIntersecting(5, remaining)
	assert.Len(t, got, 2)
	assert.Empty(t, remaining)
}

func TestCloseTakesMaxOfObservedAndRequested(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	n.TryAppend(htinterval.Interval{Start: 0, End: 50, Quark: 1, Value: htinterval.NullValue()})

	n.Close(10)
	end, ok := n.End()
	require.True(t, ok)
	assert.Equal(t, int64(50), end)
}

func TestCloseEmptyNodeAtZeroIsNudgedOpenSentinel(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	n.Close(0)
	end, ok := n.End()
	require.True(t, ok)
	assert.Equal(t, int64(1), end)
}

func TestCoreLinkChildRespectsMaxChildren(t *testing.T) {
	n := NewCore(0, -1, 0, 4096, 2)
	require.NoError(t, n.LinkChild(1, 0))
	require.NoError(t, n.LinkChild(2, 100))
	assert.ErrorIs(t, n.LinkChild(3, 200), ErrChildrenFull)
}

func TestCoreSelectNextChildNewestFirst(t *testing.T) {
	n := NewCore(0, -1, 0, 4096, 4)
	require.NoError(t, n.LinkChild(1, 0))
	require.NoError(t, n.LinkChild(2, 100))
	require.NoError(t, n.LinkChild(3, 200))

	seq, ok := n.SelectNextChild(250)
	require.True(t, ok)
	assert.EqualValues(t, 3, seq)

	seq, ok = n.SelectNextChild(150)
	require.True(t, ok)
	assert.EqualValues(t, 2, seq)

	seq, ok = n.SelectNextChild(0)
	require.True(t, ok)
	assert.EqualValues(t, 1, seq)

	_, ok = n.SelectNextChild(-1)
	assert.False(t, ok)
}

func TestLeafChildOperationsFail(t *testing.T) {
	n := NewLeaf(0, -1, 0, 4096)
	assert.ErrorIs(t, n.LinkChild(1, 0), ErrNotCore)
	_, ok := n.SelectNextChild(0)
	assert.False(t, ok)
}
