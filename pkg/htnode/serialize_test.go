package htnode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/histtree/pkg/htinterval"
)

func TestLeafSerializeRoundTrip(t *testing.T) {
	n := NewLeaf(3, 1, 100, 4096)
	n.TryAppend(htinterval.Interval{Start: 100, End: 150, Quark: 1, Value: htinterval.IntValue(42)})
	n.TryAppend(htinterval.Interval{Start: 100, End: 120, Quark: 2, Value: htinterval.StringValue("x")})
	n.Close(150)

	buf, err := n.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, buf, 4096)

	got, err := UnmarshalNode(buf, 4096, 0)
	require.NoError(t, err)
	assert.True(t, got.IsLeaf())
	assert.EqualValues(t, 3, got.Sequence)
	assert.EqualValues(t, 1, got.Parent())
	assert.Equal(t, int64(100), got.Start())
	end, ok := got.End()
	require.True(t, ok)
	assert.Equal(t, int64(150), end)
	assert.Equal(t, 2, got.IntervalCount())
}

func TestCoreSerializeRoundTrip(t *testing.T) {
	n := NewCore(5, -1, 0, 4096, 8)
	require.NoError(t, n.LinkChild(1, 0))
	require.NoError(t, n.LinkChild(2, 500))
	n.Close(900)

	buf, err := n.MarshalBinary()
	require.NoError(t, err)

	got, err := UnmarshalNode(buf, 4096, 8)
	require.NoError(t, err)
	assert.True(t, got.IsCore())
	assert.Equal(t, 2, got.ChildCount())

	seq, ok := got.SelectNextChild(600)
	require.True(t, ok)
	assert.EqualValues(t, 2, seq)
}

func TestUnmarshalNodeRejectsBadVariant(t *testing.T) {
	buf := make([]byte, 4096)
	buf[0] = 0x7F
	_, err := UnmarshalNode(buf, 4096, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshalNodeRejectsTruncatedHeader(t *testing.T) {
	_, err := UnmarshalNode(make([]byte, 4), 4096, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnmarshalNodeRejectsChildCountOverflow(t *testing.T) {
	n := NewCore(0, -1, 0, 4096, 2)
	require.NoError(t, n.LinkChild(1, 0))
	buf, err := n.MarshalBinary()
	require.NoError(t, err)

	// shrink maxChildren below the encoded child count on decode.
	_, err = UnmarshalNode(buf, 4096, 0)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestMarshalBinaryStaysWithinBlockSizeAfterRejectedAppend(t *testing.T) {
	n := NewLeaf(0, -1, 0, LeafHeaderSize()+5)
	n.TryAppend(htinterval.Interval{Start: 0, End: 1, Quark: 1, Value: htinterval.StringValue("way too long for this tiny block")})
	_, err := n.MarshalBinary()
	// TryAppend should have refused the interval, leaving the node
	// empty and well within its block size.
	assert.NoError(t, err)
	assert.Equal(t, 0, n.IntervalCount())
}
