package fuse

import (
	"context"
	"syscall"
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
)

func TestMutatingOpsReturnEROFS(t *testing.T) {
	fsys := newTestFS(t, testConfig(t))
	n := &Node{root: fsys, path: "a.txt"}
	ctx := context.Background()

	assert.Equal(t, syscall.EROFS,
		n.Setattr(ctx, nil, &fuse.SetAttrIn{}, &fuse.AttrOut{}))

	_, _, _, errno := n.Create(ctx, "new", 0, 0o644, &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	_, errno = n.Mkdir(ctx, "new", 0o755, &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	assert.Equal(t, syscall.EROFS, n.Rmdir(ctx, "child"))
	assert.Equal(t, syscall.EROFS, n.Rename(ctx, "a", n, "b", 0))

	_, errno = n.Symlink(ctx, "target", "link", &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	_, errno = n.Link(ctx, n, "link", &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	_, errno = n.Mknod(ctx, "dev", 0o644, 0, &fuse.EntryOut{})
	assert.Equal(t, syscall.EROFS, errno)

	written, errno := n.Write(ctx, nil, []byte("x"), 0)
	assert.Equal(t, syscall.EROFS, errno)
	assert.Zero(t, written)

	assert.Equal(t, syscall.EROFS, n.Fsync(ctx, nil, 0))

	// Unlink only succeeds for summaries; everywhere else it mutates.
	assert.Equal(t, syscall.EROFS, n.Unlink(ctx, "child"))
}
