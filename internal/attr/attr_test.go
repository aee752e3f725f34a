package attr

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromOriginMasksWriteBits(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	s := NewSynthesizer(0)
	rec, err := s.FromOrigin(file)
	require.NoError(t, err)

	assert.Equal(t, uint64(5), rec.Size)
	assert.False(t, rec.IsDir())
	assert.Zero(t, rec.Mode&0o222, "write bits must be cleared")
	assert.Equal(t, uint32(syscall.S_IFREG), rec.Mode&uint32(syscall.S_IFMT))
}

func TestFromOriginDirectory(t *testing.T) {
	s := NewSynthesizer(0)
	rec, err := s.FromOrigin(t.TempDir())
	require.NoError(t, err)
	assert.True(t, rec.IsDir())
	assert.Zero(t, rec.Mode&0o222)
}

func TestFromOriginBrokenSymlink(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "dangling")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), link))

	// A dangling symlink is still a directory entry and must stat.
	s := NewSynthesizer(0)
	rec, err := s.FromOrigin(link)
	require.NoError(t, err)
	assert.Equal(t, uint32(syscall.S_IFLNK), rec.Mode&uint32(syscall.S_IFMT))
}

func TestFromOriginMissing(t *testing.T) {
	s := NewSynthesizer(0)
	_, err := s.FromOrigin(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestFromLinkDoesNotFollow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("data"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	s := NewSynthesizer(0)
	rec, err := s.FromLink(link)
	require.NoError(t, err)
	assert.Equal(t, uint32(syscall.S_IFLNK), rec.Mode&uint32(syscall.S_IFMT))
}

func TestWithSizeCopies(t *testing.T) {
	orig := &Record{Mode: syscall.S_IFREG | 0o444, Size: 10}
	sized := orig.WithSize(42)

	assert.Equal(t, uint64(42), sized.Size)
	assert.Equal(t, uint64(10), orig.Size, "the receiver must not change")
	assert.Equal(t, orig.Mode, sized.Mode)
}

func TestDefaultFile(t *testing.T) {
	s := NewSynthesizer(0)
	rec := s.DefaultFile()

	assert.Equal(t, uint64(DefaultUnknownSize), rec.Size)
	assert.Equal(t, uint32(syscall.S_IFREG|0o444), rec.Mode)
	assert.Equal(t, uint32(os.Getuid()), rec.UID)

	s = NewSynthesizer(1024)
	assert.Equal(t, uint64(1024), s.DefaultFile().Size)
}

func TestDefaultDir(t *testing.T) {
	rec := NewSynthesizer(0).DefaultDir()
	assert.True(t, rec.IsDir())
	assert.Equal(t, uint32(syscall.S_IFDIR|0o555), rec.Mode)
	assert.Equal(t, uint32(2), rec.Nlink)
}
