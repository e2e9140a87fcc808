package debugcapture

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrowship/arrowship/internal/arrowtest"
	"github.com/arrowship/arrowship/pkg/batch"
	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/transport"
)

func newCapture(t *testing.T, rows bool) (*Capture, string) {
	t.Helper()
	dir := t.TempDir()
	c := New(config.DebugConfig{
		Enabled:          true,
		OutputDir:        dir,
		Rows:             rows,
		MaxFileSizeMB:    config.DefaultMaxFileSizeMB,
		MaxFilesRetained: config.DefaultMaxFilesRetained,
	})
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })
	return c, dir
}

func readCounts(t *testing.T, mem memory.Allocator, path string) []int64 {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var counts []int64
	err = batch.ReadStreams(mem, f, func(rec arrow.Record) error {
		counts = append(counts, rec.NumRows())
		return nil
	})
	require.NoError(t, err)
	return counts
}

// bigRows encodes to well over one megabyte.
const bigRows = 100_000

func newSmallCapture(t *testing.T) *Capture {
	t.Helper()
	c := New(config.DebugConfig{
		Enabled:          true,
		OutputDir:        t.TempDir(),
		MaxFileSizeMB:    1,
		MaxFilesRetained: 5,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Disabled(t *testing.T) {
	c := New(config.DebugConfig{})
	assert.Nil(t, c)
	c.Batch("t", nil)
	c.Rows("t", "id", []transport.Row{{Index: 0}})
	assert.NoError(t, c.Close())
}

func TestCapture_BatchesAreReplayable(t *testing.T) {
	c, dir := newCapture(t, false)

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)
	for _, n := range []int{2, 4} {
		rec := arrowtest.Record(mem, n)
		c.Batch("main.events", rec)
		rec.Release()
	}
	require.NoError(t, c.Close())

	path := filepath.Join(dir, "arrowship", "arrow", "main.events.arrows")
	assert.Equal(t, path, c.ArrowPath("main.events"))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var counts []int64
	err = batch.ReadStreams(mem, f, func(rec arrow.Record) error {
		counts = append(counts, rec.NumRows())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4}, counts)

	_, err = os.Stat(c.RowsPath("main.events"))
	assert.True(t, os.IsNotExist(err), "rows file written without debug.rows")
}

func TestCapture_BatchLargerThanMaxSize(t *testing.T) {
	c := newSmallCapture(t)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := arrowtest.Record(mem, bigRows)
	c.Batch("t", rec)
	rec.Release()
	require.NoError(t, c.Close())

	info, err := os.Stat(c.ArrowPath("t"))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(1024*1024))
	assert.Equal(t, []int64{bigRows}, readCounts(t, mem, c.ArrowPath("t")))
}

func TestCapture_LargeBatchGetsOwnFile(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	tests := []struct {
		name    string
		sizes   []int
		current []int64
	}{
		{"small then large", []int{2, bigRows}, []int64{bigRows}},
		{"large then small", []int{bigRows, 3}, []int64{3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newSmallCapture(t)
			for _, n := range tt.sizes {
				rec := arrowtest.Record(mem, n)
				c.Batch("t", rec)
				rec.Release()
			}
			require.NoError(t, c.Close())

			assert.Equal(t, tt.current, readCounts(t, mem, c.ArrowPath("t")))

			files, err := filepath.Glob(filepath.Join(filepath.Dir(c.ArrowPath("t")), "*.arrows"))
			require.NoError(t, err)
			require.Len(t, files, 2)
			var all []int64
			for _, f := range files {
				all = append(all, readCounts(t, mem, f)...)
			}
			sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
			want := []int64{int64(tt.sizes[0]), int64(tt.sizes[1])}
			sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
			assert.Equal(t, want, all)
		})
	}
}

func TestCapture_Rows(t *testing.T) {
	c, _ := newCapture(t, true)
	c.Rows("t", "req-1", []transport.Row{
		{Index: 0, Values: map[string]any{"id": 1}},
		{Index: 3, Values: map[string]any{"id": 4}},
	})
	require.NoError(t, c.Close())

	f, err := os.Open(c.RowsPath("t"))
	require.NoError(t, err)
	defer f.Close()

	var lines []rowLine
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l rowLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, "req-1", lines[1].RequestID)
	assert.Equal(t, 3, lines[1].Index)
}

func TestCapture_CloseIsIdempotentAndStopsWrites(t *testing.T) {
	c, _ := newCapture(t, false)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	rec := arrowtest.Record(memory.DefaultAllocator, 1)
	defer rec.Release()
	c.Batch("t", rec)
	_, err := os.Stat(c.ArrowPath("t"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileName_StaysInsideDirectory(t *testing.T) {
	assert.Equal(t, "_etc_passwd", fileName("/etc/passwd"))
	assert.Equal(t, "a.b.c", fileName("a.b.c"))
	assert.Equal(t, "__x", fileName("../x"))
}
