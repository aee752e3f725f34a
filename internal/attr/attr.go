// Package attr builds the read-only POSIX attribute records served by
// OnceFS. Attributes are either derived from an existing file on disk
// (the "origin") or synthesized from configured defaults, and write
// permission is always masked off.
package attr

import (
	"os"
	"syscall"
	"time"
)

// DefaultUnknownSize is the size reported for regular files whose
// content has not been generated yet. It is deliberately large so a
// reader that races generation never mistakes a short read for EOF.
const DefaultUnknownSize = 1 << 30

const writeBits = 0o222

// Record holds the POSIX attributes of one virtual file.
type Record struct {
	Mode  uint32
	Nlink uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// IsDir reports whether the record describes a directory.
func (r *Record) IsDir() bool {
	return r.Mode&syscall.S_IFMT == syscall.S_IFDIR
}

// WithSize returns a copy of the record reporting the given size. The
// receiver is not modified, so a shared origin record can be reused
// while swapping only the reported length.
func (r *Record) WithSize(size uint64) *Record {
	out := *r
	out.Size = size
	return &out
}

// Synthesizer produces Records for virtual paths.
type Synthesizer struct {
	// UnknownSize is reported for regular files with no origin.
	UnknownSize uint64

	// UID and GID stamped on every synthesized record.
	UID uint32
	GID uint32
}

// NewSynthesizer returns a Synthesizer owned by the calling process,
// reporting files as owned by the current user.
func NewSynthesizer(unknownSize uint64) *Synthesizer {
	if unknownSize == 0 {
		unknownSize = DefaultUnknownSize
	}
	return &Synthesizer{
		UnknownSize: unknownSize,
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
	}
}

// FromOrigin builds a record from the file at origin. Stat is used so
// symlinks describe their target, except for broken symlinks, whose
// own link stat is used instead of failing. Write bits are cleared.
func (s *Synthesizer) FromOrigin(origin string) (*Record, error) {
	info, err := os.Stat(origin)
	if err != nil {
		// A dangling symlink still exists as a directory entry.
		linfo, lerr := os.Lstat(origin)
		if lerr != nil {
			return nil, err
		}
		info = linfo
	}
	return s.fromInfo(info), nil
}

// FromLink builds a record from the link stat of origin, never
// following symlinks.
func (s *Synthesizer) FromLink(origin string) (*Record, error) {
	info, err := os.Lstat(origin)
	if err != nil {
		return nil, err
	}
	return s.fromInfo(info), nil
}

func (s *Synthesizer) fromInfo(info os.FileInfo) *Record {
	rec := &Record{
		Nlink: 1,
		UID:   s.UID,
		GID:   s.GID,
		Size:  uint64(info.Size()),
		Mtime: info.ModTime(),
	}
	rec.Atime = rec.Mtime
	rec.Ctime = rec.Mtime

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		rec.Mode = uint32(st.Mode) &^ writeBits
		rec.Nlink = uint32(st.Nlink)
		rec.UID = st.Uid
		rec.GID = st.Gid
		rec.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
		rec.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
		return rec
	}

	mode := uint32(info.Mode().Perm()) &^ writeBits
	switch {
	case info.IsDir():
		mode |= syscall.S_IFDIR
		rec.Nlink = 2
	case info.Mode()&os.ModeSymlink != 0:
		mode |= syscall.S_IFLNK
	default:
		mode |= syscall.S_IFREG
	}
	rec.Mode = mode
	return rec
}

// DefaultFile returns the record for a regular file whose content is
// not yet known. The reported size is the configured placeholder.
func (s *Synthesizer) DefaultFile() *Record {
	now := time.Now()
	return &Record{
		Mode:  syscall.S_IFREG | 0o444,
		Nlink: 1,
		UID:   s.UID,
		GID:   s.GID,
		Size:  s.UnknownSize,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// DefaultDir returns the record for a synthesized directory.
func (s *Synthesizer) DefaultDir() *Record {
	now := time.Now()
	return &Record{
		Mode:  syscall.S_IFDIR | 0o555,
		Nlink: 2,
		UID:   s.UID,
		GID:   s.GID,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}
