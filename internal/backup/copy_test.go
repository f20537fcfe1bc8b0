package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hughe/cf-backup/internal/progress"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCopyRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		files := genTree(rt)
		fs := afero.NewMemMapFs()
		writeTree(rt, fs, "/src", files)

		c := &Copier{Fs: fs, ProgressEvery: 20}
		stats, err := c.Copy(context.Background(), "/src", "/vol/SDBackup/run")
		require.NoError(rt, err)

		src, err := Count(context.Background(), fs, "/src", progress.PhaseInitial, progress.NewChannel(1))
		require.NoError(rt, err)
		dst, err := Count(context.Background(), fs, "/vol/SDBackup/run", progress.PhaseVerify, progress.NewChannel(1))
		require.NoError(rt, err)

		assert.Equal(rt, src, dst)
		assert.Equal(rt, src.Files, stats.Files)
		assert.Equal(rt, src.Bytes, stats.Bytes)

		for rel, content := range files {
			got, err := afero.ReadFile(fs, "/vol/SDBackup/run/"+rel)
			require.NoError(rt, err)
			assert.Equal(rt, content, string(got))
		}
	})
}

func TestCopyProgressCallback(t *testing.T) {
	tests := []struct {
		name  string
		files int
		every int
		want  []int64
	}{
		{name: "empty tree", files: 0, every: 20, want: []int64{0}},
		{name: "below interval", files: 3, every: 20, want: []int64{3}},
		{name: "exact multiple", files: 40, every: 20, want: []int64{20, 40}},
		{name: "with remainder", files: 41, every: 20, want: []int64{20, 40, 41}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			files := make(map[string]string, tt.files)
			for i := range tt.files {
				files[fmt.Sprintf("f%03d.jpg", i)] = "x"
			}
			writeTree(t, fs, "/src", files)

			var got []int64
			c := &Copier{Fs: fs, ProgressEvery: tt.every, OnProgress: func(n int64) { got = append(got, n) }}
			_, err := c.Copy(context.Background(), "/src", "/dst")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCopyChecksums(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a/b.jpg": "abc", "c.jpg": ""})

	c := &Copier{Fs: fs, ProgressEvery: 20, Checksums: true}
	stats, err := c.Copy(context.Background(), "/src", "/dst")
	require.NoError(t, err)

	require.Len(t, stats.Entries, 2)
	assert.Equal(t, "a/b.jpg", stats.Entries[0].Path)
	assert.Equal(t, int64(3), stats.Entries[0].Size)
	assert.Equal(t, "6437b3ac38465133ffb63b75273a8db548c558465d79db03fd359c6cd5bd9d85", stats.Entries[0].Blake3Hash)
	assert.Equal(t, "c.jpg", stats.Entries[1].Path)
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", stats.Entries[1].Blake3Hash)
}

func TestCopyPreservesMetadata(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"DCIM/a.jpg": "data"})
	mtime := time.Date(2020, 5, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chmod("/src/DCIM/a.jpg", 0o600))
	require.NoError(t, fs.Chtimes("/src/DCIM/a.jpg", mtime, mtime))
	require.NoError(t, fs.Chtimes("/src/DCIM", mtime, mtime))

	c := &Copier{Fs: fs, ProgressEvery: 20}
	_, err := c.Copy(context.Background(), "/src", "/dst")
	require.NoError(t, err)

	info, err := fs.Stat("/dst/DCIM/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))

	dirInfo, err := fs.Stat("/dst/DCIM")
	require.NoError(t, err)
	assert.True(t, dirInfo.ModTime().Equal(mtime))
}

func TestCopyRefusals(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(fs afero.Fs)
		src     string
		dst     string
		wantErr error
	}{
		{
			name:    "destination exists",
			setup:   func(fs afero.Fs) { _ = fs.MkdirAll("/dst", 0o755) },
			src:     "/src",
			dst:     "/dst",
			wantErr: ErrDestinationExists,
		},
		{
			name:  "destination inside source",
			setup: func(fs afero.Fs) {},
			src:   "/src",
			dst:   "/src/backup",
		},
		{
			name:  "missing source",
			setup: func(fs afero.Fs) {},
			src:   "/missing",
			dst:   "/dst",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeTree(t, fs, "/src", map[string]string{"a.jpg": "a"})
			tt.setup(fs)

			_, err := (&Copier{Fs: fs}).Copy(context.Background(), tt.src, tt.dst)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCopyStopsOnCancel(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTree(t, fs, "/src", map[string]string{"a.jpg": "a", "b.jpg": "b", "c.jpg": "c"})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Copier{Fs: fs, ProgressEvery: 1, OnProgress: func(n int64) {
		if n == 1 {
			cancel()
		}
	}}

	stats, err := c.Copy(ctx, "/src", "/dst")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(1), stats.Files)
}

func TestCopySkipsSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.jpg"), []byte("aa"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(src, "a.jpg"), filepath.Join(src, "link.jpg")))

	dst := filepath.Join(dir, "vol", "SDBackup", "run")
	stats, err := (&Copier{Fs: afero.NewOsFs(), ProgressEvery: 20}).Copy(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)

	_, err = os.Lstat(filepath.Join(dst, "link.jpg"))
	assert.True(t, os.IsNotExist(err))
}
