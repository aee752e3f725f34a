package fuse

import (
	"log/slog"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/pkarhu/oncefs/internal/config"
	"github.com/pkarhu/oncefs/internal/provider"
)

// Mount builds the resolver and mounts it. The caller owns the
// returned server and must Unmount (or Wait) on it; the returned FS
// exposes the resolver's stats.
func Mount(cfg *config.Config, p provider.Provider, logger *slog.Logger) (*fuse.Server, *FS, error) {
	fsys, err := NewFS(cfg, p, logger)
	if err != nil {
		return nil, nil, err
	}

	entryTimeout := attrTTL
	attrTimeout := attrTTL
	opts := &fs.Options{
		EntryTimeout: &entryTimeout,
		AttrTimeout:  &attrTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "oncefs",
			Name:       "oncefs",
			AllowOther: cfg.Mount.AllowOther,
		},
	}

	server, err := fs.Mount(cfg.Mount.Mountpoint, NewRoot(fsys), opts)
	if err != nil {
		return nil, nil, err
	}

	fsys.logger.Info("filesystem mounted",
		"mountpoint", cfg.Mount.Mountpoint,
		"cache", cfg.Mount.CacheDir,
		"real", cfg.Mount.RealDir,
		"metadata", fsys.metaEnabled(),
	)
	return server, fsys, nil
}
