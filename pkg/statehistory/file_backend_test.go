package statehistory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/histtree/pkg/historytree"
	"github.com/vorteil/histtree/pkg/htinterval"
	"github.com/vorteil/histtree/pkg/htlog"
)

func fileBackendConfig() historytree.Config {
	return historytree.Config{
		BlockSize:   80000,
		MaxChildren: 4,
		CacheSize:   16,
		QueueSize:   0,
	}
}

func TestFileBackendBuildAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	fb, err := NewFileBackend(path, "ssid-1", fileBackendConfig(), htlog.Discard{})
	require.NoError(t, err)

	attrs := NewAttributeTree()
	quark := attrs.Insert("/proc/cpus/0/state")
	require.NoError(t, fb.InsertPastState(0, 99, quark, htinterval.StringValue("running")))

	blob, err := attrs.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, fb.SupplyAttrTreeWriter(blob))
	require.NoError(t, fb.FinishBuilding(99))
	require.NoError(t, fb.Dispose())

	reopened, err := OpenFileBackend(path, "ssid-1", historytree.Config{}, htlog.Discard{})
	require.NoError(t, err)
	defer reopened.Dispose()

	readBlob, err := reopened.SupplyAttrTreeReader()
	require.NoError(t, err)
	readAttrs, err := UnmarshalAttributeTree(readBlob)
	require.NoError(t, err)

	gotQuark, ok := readAttrs.Lookup("/proc/cpus/0/state")
	require.True(t, ok)
	assert.Equal(t, quark, gotQuark)

	iv, ok, err := reopened.DoSingularQuery(50, gotQuark)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := iv.Value.AsString()
	require.NoError(t, err)
	assert.Equal(t, "running", v)
}

func TestFileBackendRemoveFilesDeletesBackingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	fb, err := NewFileBackend(path, "ssid-1", fileBackendConfig(), htlog.Discard{})
	require.NoError(t, err)
	require.NoError(t, fb.InsertPastState(0, 10, 0, htinterval.IntValue(1)))
	require.NoError(t, fb.FinishBuilding(10))
	require.NoError(t, fb.RemoveFiles())

	_, err = OpenFileBackend(path, "ssid-1", historytree.Config{}, htlog.Discard{})
	assert.Error(t, err)
}

func TestFileBackendThreadedQueueIntegration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.bin")
	cfg := fileBackendConfig()
	cfg.QueueSize = 32
	fb, err := NewFileBackend(path, "ssid-1", cfg, htlog.Discard{})
	require.NoError(t, err)
	defer fb.Dispose()

	for q := int32(0); q < 100; q++ {
		require.NoError(t, fb.InsertPastState(0, 50, q, htinterval.LongValue(int64(q))))
	}
	require.NoError(t, fb.FinishBuilding(50))

	iv, ok, err := fb.DoSingularQuery(25, 42)
	require.NoError(t, err)
	require.True(t, ok)
	v, err := iv.Value.AsLong()
	require.NoError(t, err)
	assert.EqualValues(t, 42, v)
}

var _ Backend = (*FileBackend)(nil)
