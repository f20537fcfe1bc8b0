package manifest

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRead(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := &Backup{
		JobID:       "6f1c",
		Datetime:    1700000000,
		System:      SystemInfo{Hostname: "pi", OS: "raspbian 12", Kernel: "6.1"},
		Source:      "/media/pi/CARD",
		Destination: "/media/pi/DISK/SDBackup/2023-11-14-22-13-20",
		SourceFiles: 2,
		SourceBytes: 30,
		DestFiles:   2,
		DestBytes:   30,
		Status:      "verified",
		Files: []FileInfo{
			{Path: "DCIM/a.jpg", Size: 10, Blake3Hash: "aa"},
			{Path: "DCIM/b.jpg", Size: 20, Blake3Hash: "bb"},
		},
	}

	path := "/media/pi/DISK/SDBackup/2023-11-14-22-13-20.yaml"
	require.NoError(t, Write(fs, path, m))

	got, err := Read(fs, path)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestReadErrors(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := Read(fs, "/missing.yaml")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/bad.yaml", []byte("files: {"), 0o644))
	_, err = Read(fs, "/bad.yaml")
	assert.Error(t, err)
}

func TestGetSystemInfo(t *testing.T) {
	info := GetSystemInfo(context.Background())
	assert.NotEmpty(t, info.Hostname)
	assert.NotEmpty(t, info.OS)
	assert.NotEmpty(t, info.Kernel)
}
