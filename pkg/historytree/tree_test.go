package historytree

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thanhpk/randstr"

	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htlog"
)

// smallTreeBlockSize is still large enough to satisfy Resolve's "must fit
// one max-size interval" floor, but small enough that a few thousand
// tiny intervals will force several node splits in the growth test
// below.
const smallTreeBlockSize = 80000

func smallConfig() Config {
	return Config{
		BlockSize:   smallTreeBlockSize,
		MaxChildren: 4,
		CacheSize:   16,
	}
}

// tinyTreeBlockSize sits just above Resolve's floor (one max-size
// interval plus a core header), which is itself far larger than any
// realistic handful of small intervals. Forcing a split therefore takes
// thousands of intervals, not a "small" block in absolute terms — but
// it is the smallest block this data model allows.
const tinyTreeBlockSize = 65700

// TestFullWidthIntervalsSurviveTreeGrowth guards against the defect
// where full-width intervals inserted before a split become
// unreachable once the tree grows past a single node: since every
// quark's interval here starts at the tree's own start time, none of
// them fit a freshly split leaf (which always starts strictly later),
// so they must be pushed up to whichever ancestor still starts at 0 —
// exactly the node a query at an early timestamp will be routed to.
func TestFullWidthIntervalsSurviveTreeGrowth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := Config{BlockSize: tinyTreeBlockSize, MaxChildren: 4, CacheSize: 16}
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)

	const n = 6000
	const end = 5000
	for q := int32(0); q < n; q++ {
		require.NoError(t, tr.InsertPastState(0, end, q, htinterval.LongValue(int64(q))))
	}
	require.NoError(t, tr.FinishBuilding(end, nil))
	defer tr.Dispose()

	assert.Greater(t, tr.nextSeq, int32(1), "expected the tree to have grown past a single node")

	for _, ts := range []int64{0, 1, 2500, end} {
		for q := int32(0); q < n; q++ {
			iv, ok, err := tr.DoSingularQuery(ts, q)
			require.NoError(t, err)
			require.True(t, ok, "t=%d q=%d", ts, q)
			got, err := iv.Value.AsLong()
			require.NoError(t, err)
			assert.Equal(t, int64(q), got)
		}
	}
}

// TestFullWidthIntervals is scenario S1: one interval per quark spanning
// the whole tree, queried at every boundary timestamp.
func TestFullWidthIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)

	const n = 1000
	for q := int32(0); q < n; q++ {
		require.NoError(t, tr.InsertPastState(0, 1000, q, htinterval.LongValue(int64(q))))
	}
	require.NoError(t, tr.FinishBuilding(1000, nil))
	defer tr.Dispose()

	for _, ts := range []int64{0, 1, 500, 999, 1000} {
		for q := int32(0); q < n; q++ {
			iv, ok, err := tr.DoSingularQuery(ts, q)
			require.NoError(t, err)
			require.True(t, ok, "t=%d q=%d", ts, q)
			got, err := iv.Value.AsLong()
			require.NoError(t, err)
			assert.Equal(t, int64(q), got)
		}
	}
}

// TestCascadingIntervals is scenario S2: a sliding window of intervals
// across a small set of quarks, verified for total coverage at every t.
func TestCascadingIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)

	const nQuarks = 10
	const window = 10
	for ts := int64(1); ts <= 1010; ts++ {
		start := ts - window
		if start < 0 {
			start = 0
		}
		end := ts - 1
		if end > 1000 {
			end = 1000
		}
		if start > end {
			continue
		}
		q := int32(ts % nQuarks)
		require.NoError(t, tr.InsertPastState(start, end, q, htinterval.LongValue(ts)))
	}
	require.NoError(t, tr.FinishBuilding(1000, nil))
	defer tr.Dispose()

	for ts := int64(0); ts <= 1000; ts++ {
		full, err := tr.DoQuery(ts)
		require.NoError(t, err)
		assert.Len(t, full, nQuarks, "t=%d", ts)
		for quark, iv := range full {
			assert.True(t, iv.Intersects(ts), "t=%d quark=%d", ts, quark)
		}
	}
}

// TestRoundTripAllValueKinds is scenario S3: build, close, dispose,
// reopen, and verify every inserted interval is retrievable with an
// identical typed value.
func TestRoundTripAllValueKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)

	type want struct {
		quark int32
		ts    int64
		value htinterval.Value
	}
	values := []htinterval.Value{
		htinterval.NullValue(),
		htinterval.BoolValue(true),
		htinterval.BoolValue(false),
		htinterval.IntValue(0),
		htinterval.IntValue(-1),
		htinterval.IntValue(2147483647),
		htinterval.LongValue(math.MinInt64),
		htinterval.DoubleValue(0),
		htinterval.DoubleValue(math.Copysign(0, -1)),
		htinterval.DoubleValue(3.14159265358979),
		htinterval.StringValue(""),
		htinterval.StringValue("a"),
		htinterval.StringValue(repeatASCII(1024)),
		htinterval.StringValue(randstr.String(512)),
		htinterval.StringValue("日本語のテスト文字列"),
	}

	var wants []want
	for i, v := range values {
		q := int32(i)
		require.NoError(t, tr.InsertPastState(0, 100, q, v))
		wants = append(wants, want{quark: q, ts: 50, value: v})
	}
	require.NoError(t, tr.FinishBuilding(100, []byte("attr-blob")))
	require.NoError(t, tr.Dispose())

	reopened, err := Open(path, Config{}, htlog.Discard{})
	require.NoError(t, err)
	defer reopened.Dispose()

	for _, w := range wants {
		iv, ok, err := reopened.DoSingularQuery(w.ts, w.quark)
		require.NoError(t, err)
		require.True(t, ok, "quark %d", w.quark)
		assert.True(t, w.value.Equal(iv.Value), "quark %d: want %s got %s", w.quark, spew.Sdump(w.value), spew.Sdump(iv.Value))
	}

	blob, err := reopened.ReadAttrTreeBlob()
	require.NoError(t, err)
	assert.Equal(t, []byte("attr-blob"), blob)
}

func repeatASCII(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return string(b)
}

// TestReopenRejectsProviderVersionMismatch is scenario S4.
func TestReopenRejectsProviderVersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := smallConfig()
	cfg.ProviderVersion = "v1"
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)
	require.NoError(t, tr.InsertPastState(0, 10, 0, htinterval.IntValue(1)))
	require.NoError(t, tr.FinishBuilding(10, nil))
	require.NoError(t, tr.Dispose())

	_, err = Open(path, Config{ProviderVersion: "v1"}, htlog.Discard{})
	require.NoError(t, err)

	_, err = Open(path, Config{ProviderVersion: "v2"}, htlog.Discard{})
	assert.ErrorIs(t, err, ErrProviderVersionMismatch)
}

// TestQueryOutsideRangeFails is scenario S6.
func TestQueryOutsideRangeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := smallConfig()
	cfg.StartTime = 100
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)
	require.NoError(t, tr.InsertPastState(100, 200, 0, htinterval.IntValue(1)))
	require.NoError(t, tr.FinishBuilding(200, nil))
	defer tr.Dispose()

	_, _, err = tr.DoSingularQuery(100, 0)
	assert.NoError(t, err)
	_, _, err = tr.DoSingularQuery(200, 0)
	assert.NoError(t, err)

	_, _, err = tr.DoSingularQuery(99, 0)
	assert.ErrorIs(t, err, ErrTimeRange)
	_, _, err = tr.DoSingularQuery(201, 0)
	assert.ErrorIs(t, err, ErrTimeRange)
}

func TestInsertRejectsInvertedRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)
	defer tr.Dispose()

	err = tr.InsertPastState(10, 5, 0, htinterval.IntValue(1))
	assert.ErrorIs(t, err, ErrTimeRange)
}

func TestInsertRejectsStartBeforeTreeStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := smallConfig()
	cfg.StartTime = 50
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)
	defer tr.Dispose()

	err = tr.InsertPastState(10, 60, 0, htinterval.IntValue(1))
	assert.ErrorIs(t, err, ErrTimeRange)
}

// TestTreeGrowsMultipleLevels forces enough insertions that leaves,
// then cores, then the root itself fill up and the tree grows a level,
// exercising growBranchAt's recursive-close and new-root paths.
func TestTreeGrowsMultipleLevels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := Config{BlockSize: smallTreeBlockSize, MaxChildren: 2, CacheSize: 16}
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)

	const total = 20000
	for i := int64(0); i < total; i++ {
		require.NoError(t, tr.InsertPastState(i, i, int32(i%50), htinterval.LongValue(i)))
	}
	require.NoError(t, tr.FinishBuilding(total-1, nil))
	defer tr.Dispose()

	assert.Greater(t, tr.nextSeq, int32(10), "expected the tree to have grown past a single leaf")

	iv, ok, err := tr.DoSingularQuery(total-1, int32((total-1)%50))
	require.NoError(t, err)
	require.True(t, ok)
	got, err := iv.Value.AsLong()
	require.NoError(t, err)
	assert.Equal(t, int64(total-1), got)
}

func TestFinishBuildingIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)
	defer tr.Dispose()

	require.NoError(t, tr.InsertPastState(0, 10, 0, htinterval.IntValue(1)))
	require.NoError(t, tr.FinishBuilding(10, nil))
	require.NoError(t, tr.FinishBuilding(10, nil))

	err = tr.InsertPastState(11, 20, 0, htinterval.IntValue(2))
	assert.ErrorIs(t, err, ErrAlreadyBuilt)
}

func TestDisposeDuringBuildDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)
	require.NoError(t, tr.InsertPastState(0, 10, 0, htinterval.IntValue(1)))
	require.NoError(t, tr.Dispose())

	_, err = Open(path, Config{}, htlog.Discard{})
	assert.Error(t, err)
}

func TestDoQueryAndDoSingularQueryAgree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := Config{BlockSize: smallTreeBlockSize, MaxChildren: 3, CacheSize: 16}
	tr, err := Create(path, cfg, htlog.Discard{})
	require.NoError(t, err)

	const nQuarks = 20
	for ts := int64(0); ts < 500; ts += 5 {
		q := int32(ts % nQuarks)
		require.NoError(t, tr.InsertPastState(ts, ts+4, q, htinterval.LongValue(ts)))
	}
	require.NoError(t, tr.FinishBuilding(499, nil))
	defer tr.Dispose()

	for ts := int64(0); ts < 500; ts += 17 {
		full, err := tr.DoQuery(ts)
		require.NoError(t, err)
		for q := int32(0); q < nQuarks; q++ {
			single, ok, err := tr.DoSingularQuery(ts, q)
			require.NoError(t, err)
			fullIv, fullOk := full[q]
			require.Equal(t, fullOk, ok, "t=%d q=%d", ts, q)
			if ok {
				assert.True(t, single.Value.Equal(fullIv.Value))
				assert.Equal(t, single.Start, fullIv.Start)
				assert.Equal(t, single.End, fullIv.End)
			}
		}
	}
}

func TestDoPartialQueryRestrictsDoQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)

	for q := int32(0); q < 30; q++ {
		require.NoError(t, tr.InsertPastState(0, 100, q, htinterval.LongValue(int64(q))))
	}
	require.NoError(t, tr.FinishBuilding(100, nil))
	defer tr.Dispose()

	full, err := tr.DoQuery(50)
	require.NoError(t, err)

	subset := []int32{3, 7, 19, 29}
	partial, err := tr.DoPartialQuery(50, subset)
	require.NoError(t, err)
	require.Len(t, partial, len(subset))
	for _, q := range subset {
		assert.True(t, partial[q].Value.Equal(full[q].Value))
	}
}

func TestAverageNodeUsageWithinBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	tr, err := Create(path, smallConfig(), htlog.Discard{})
	require.NoError(t, err)

	for q := int32(0); q < 200; q++ {
		require.NoError(t, tr.InsertPastState(0, 100, q, htinterval.StringValue("some-value")))
	}
	require.NoError(t, tr.FinishBuilding(100, nil))
	defer tr.Dispose()

	usage, err := tr.AverageNodeUsage()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, usage, 0.0)
	assert.LessOrEqual(t, usage, 100.0)
}
