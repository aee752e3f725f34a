package fuse

import (
	"io"
	"os"

	"github.com/pkarhu/oncefs/internal/gen"
)

// diskHandle serves a real or fully published cache file.
type diskHandle struct {
	file *os.File
}

func (h *diskHandle) ReadAt(dest []byte, off int64) (int, error) {
	n, err := h.file.ReadAt(dest, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (h *diskHandle) Release() {
	h.file.Close()
}

// bytesHandle serves synthesized in-memory content.
type bytesHandle struct {
	data []byte
}

func (h *bytesHandle) ReadAt(dest []byte, off int64) (int, error) {
	if off >= int64(len(h.data)) {
		return 0, nil
	}
	return copy(dest, h.data[off:]), nil
}

func (h *bytesHandle) Release() {}

// pendingHandle serves a file whose generation is in flight. The
// underlying gen.Pending is shared between all concurrent opens of the
// same path, so Release must not tear it down.
type pendingHandle struct {
	p *gen.Pending
}

func (h *pendingHandle) ReadAt(dest []byte, off int64) (int, error) {
	return h.p.ReadAt(dest, off)
}

func (h *pendingHandle) Release() {
	h.p.Release()
}
