package accounting_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/gkatanacio/rangestream/accounting"
)

func Test_CounterFile_Record(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats", "downloads.count")
	counter := accounting.NewCounterFile(path)

	total, err := counter.Total()
	require.NoError(t, err)
	assert.Zero(t, total)

	require.NoError(t, counter.Record(context.Background(), 100, "a.txt"))
	require.NoError(t, counter.Record(context.Background(), 250, "b.txt"))

	total, err = counter.Total()
	require.NoError(t, err)
	assert.Equal(t, int64(350), total)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "350", string(raw))
}

func Test_CounterFile_ConcurrentRecords(t *testing.T) {
	counter := accounting.NewCounterFile(filepath.Join(t.TempDir(), "downloads.count"))

	var eg errgroup.Group
	for i := 0; i < 50; i++ {
		eg.Go(func() error {
			return counter.Record(context.Background(), 10, "file.txt")
		})
	}
	require.NoError(t, eg.Wait())

	total, err := counter.Total()
	require.NoError(t, err)
	assert.Equal(t, int64(500), total)
}

func Test_CounterFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "downloads.count")
	require.NoError(t, os.WriteFile(path, []byte("not a number"), 0o644))

	err := accounting.NewCounterFile(path).Record(context.Background(), 1, "x")
	assert.Error(t, err)
}

func Test_SQLiteLedger(t *testing.T) {
	ledger, err := accounting.OpenSQLiteLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer ledger.Close()

	ctx := context.Background()
	require.NoError(t, ledger.Record(ctx, 100, "report.pdf"))
	require.NoError(t, ledger.Record(ctx, 40, "report.pdf"))
	require.NoError(t, ledger.Record(ctx, 500, "video.mp4"))

	entries, err := ledger.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "video.mp4", entries[0].Name)
	assert.Equal(t, int64(500), entries[0].BytesSent)
	assert.Equal(t, int64(1), entries[0].Downloads)

	assert.Equal(t, "report.pdf", entries[1].Name)
	assert.Equal(t, int64(140), entries[1].BytesSent)
	assert.Equal(t, int64(2), entries[1].Downloads)
	assert.False(t, entries[1].LastDownload.IsZero())

	total, err := ledger.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(640), total)
}

type failingSink struct{ err error }

func (f failingSink) Record(context.Context, int64, string) error { return f.err }

func Test_Tee_Record(t *testing.T) {
	counter := accounting.NewCounterFile(filepath.Join(t.TempDir(), "downloads.count"))
	boom := errors.New("boom")

	tee := accounting.Tee{counter, failingSink{err: boom}}
	err := tee.Record(context.Background(), 64, "file.txt")
	assert.ErrorIs(t, err, boom)

	total, err := counter.Total()
	require.NoError(t, err)
	assert.Equal(t, int64(64), total)
}
