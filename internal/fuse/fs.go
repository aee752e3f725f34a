// Package fuse implements the OnceFS virtual file resolver and its
// FUSE surface: the merge of real files, cached generated files, and
// files still being generated, plus the synthesized metadata subtree.
package fuse

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/pkarhu/oncefs/internal/attr"
	"github.com/pkarhu/oncefs/internal/cache"
	"github.com/pkarhu/oncefs/internal/config"
	"github.com/pkarhu/oncefs/internal/gen"
	"github.com/pkarhu/oncefs/internal/metadata"
	"github.com/pkarhu/oncefs/internal/provider"
)

// Stats counts resolver activity. Counters are logged at unmount.
type Stats struct {
	Lookups            atomic.Uint64
	CacheHits          atomic.Uint64
	GenerationsStarted atomic.Uint64
	BytesRead          atomic.Uint64
}

// FS is the per-mount resolver state. Resolution order for a virtual
// path is fixed: a real file wins, then a published cache file, then a
// freshly started generation.
type FS struct {
	realRoot   string // empty when no real-files root is configured
	cacheRoot  string
	mountCanon string // canonical absolute mount path, fixed at mount time

	provider provider.Provider
	engine   *gen.Engine
	inflight *gen.Inflight
	dirs     *cache.DirCache
	attrs    *attr.Synthesizer
	meta     *metadata.Tree // nil when the metadata subtree is disabled

	genCfg config.GenerationConfig
	logger *slog.Logger

	Stats Stats
}

// NewFS builds the resolver for one mount. The mountpoint must exist:
// its canonical path is resolved once here and reused for every
// cache-path computation, so two mounts sharing a cache root can never
// collide even when mount paths contain symlinks.
func NewFS(cfg *config.Config, p provider.Provider, logger *slog.Logger) (*FS, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(cfg.Mount.Mountpoint)
	if err != nil {
		return nil, fmt.Errorf("resolving mountpoint: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving mountpoint %s: %w", abs, err)
	}

	if err := os.MkdirAll(cfg.Mount.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	f := &FS{
		realRoot:   cfg.Mount.RealDir,
		cacheRoot:  cfg.Mount.CacheDir,
		mountCanon: canon,
		provider:   p,
		engine:     gen.NewEngine(cfg.Generation.Shell, logger),
		inflight:   gen.NewInflight(cfg.Caches.InflightLow, cfg.Caches.InflightHigh),
		dirs:       cache.NewDirCache(cfg.Caches.DirLow, cfg.Caches.DirHigh, cfg.Caches.MinListing),
		attrs:      attr.NewSynthesizer(cfg.Generation.UnknownSize),
		genCfg:     cfg.Generation,
		logger:     logger.With("component", "fuse"),
	}

	if cfg.Mount.ClearCache {
		sub := f.CachePath("")
		f.logger.Info("clearing cache subtree", "dir", sub)
		if err := os.RemoveAll(sub); err != nil {
			f.logger.Warn("failed to clear cache subtree", "error", err)
		}
	}

	f.dirs.SeedPermanent("", f.attrs.DefaultDir())
	if !cfg.Mount.DisableMetadata {
		f.meta = metadata.NewTree(p, cfg.Caches.MetadataLow, cfg.Caches.MetadataHigh, logger)
		f.dirs.SeedPermanent(metadata.DirName, f.attrs.DefaultDir())
		f.dirs.SeedPermanent(metadata.FilesDirPath, f.attrs.DefaultDir())
		f.dirs.SeedPermanent(metadata.SummariesDirPath, f.attrs.DefaultDir())
	}
	return f, nil
}

// CachePath maps a virtual path to its absolute cache location:
// <cacheRoot>/<canonical mount path>/<virtual path>.
func (f *FS) CachePath(virt string) string {
	return filepath.Join(f.cacheRoot, f.mountCanon, filepath.FromSlash(virt))
}

// realPath maps a virtual path into the real-files root. ok is false
// when no real root is configured.
func (f *FS) realPath(virt string) (string, bool) {
	if f.realRoot == "" {
		return "", false
	}
	return filepath.Join(f.realRoot, filepath.FromSlash(virt)), true
}

// realExists reports whether a real file (including a broken symlink)
// exists for the virtual path.
func (f *FS) realExists(virt string) (string, bool) {
	rp, ok := f.realPath(virt)
	if !ok {
		return "", false
	}
	if _, err := os.Lstat(rp); err != nil {
		return "", false
	}
	return rp, true
}

func (f *FS) metaEnabled() bool { return f.meta != nil }

func isMetaPath(virt string) bool {
	return virt == metadata.DirName || strings.HasPrefix(virt, metadata.DirName+"/")
}

// Resolve returns the attributes of the file at the virtual path, or
// ENOENT when it has no real, cached, or generatable origin.
func (f *FS) Resolve(virt string) (*attr.Record, syscall.Errno) {
	f.Stats.Lookups.Add(1)

	if rec, ok := f.dirs.Getattr(virt); ok {
		f.Stats.CacheHits.Add(1)
		return rec, 0
	}

	if isMetaPath(virt) {
		if !f.metaEnabled() {
			return nil, syscall.ENOENT
		}
		return f.resolveMeta(virt)
	}

	if rp, ok := f.realExists(virt); ok {
		rec, err := f.attrs.FromOrigin(rp)
		if err != nil {
			f.logger.Warn("stat of real file failed", "path", virt, "error", err)
			return nil, syscall.EIO
		}
		return rec, 0
	}

	if rec, err := f.attrs.FromOrigin(f.CachePath(virt)); err == nil {
		return rec, 0
	}

	if _, ok := f.provider.FileCommand(virt); ok {
		return f.attrs.DefaultFile(), 0
	}

	// A generated directory: present when the provider contributes it
	// to its parent's listing.
	if e, ok := f.generatedEntry(virt); ok && e.Dir {
		return f.attrs.DefaultDir(), 0
	}

	return nil, syscall.ENOENT
}

// generatedEntry finds virt in its parent's provider listing.
func (f *FS) generatedEntry(virt string) (provider.Entry, bool) {
	if virt == "" {
		return provider.Entry{}, false
	}
	parent, name := splitVirt(virt)
	entries, err := f.provider.EntryNames(parent)
	if err != nil {
		f.logger.Warn("provider listing failed", "path", parent, "error", err)
		return provider.Entry{}, false
	}
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return provider.Entry{}, false
}

func splitVirt(virt string) (parent, name string) {
	parent = path.Dir(virt)
	if parent == "." {
		parent = ""
	}
	return parent, path.Base(virt)
}

// resolveMeta resolves paths under the metadata top directory.
func (f *FS) resolveMeta(virt string) (*attr.Record, syscall.Errno) {
	switch virt {
	case metadata.DirName, metadata.FilesDirPath, metadata.SummariesDirPath:
		return f.attrs.DefaultDir(), 0
	}

	if name, ok := strings.CutPrefix(virt, metadata.SummariesDirPath+"/"); ok {
		if strings.Contains(name, "/") {
			return nil, syscall.ENOENT
		}
		if _, ok := f.provider.SummaryCommand(name); !ok {
			return nil, syscall.ENOENT
		}
		if rec, err := f.attrs.FromOrigin(f.CachePath(virt)); err == nil {
			return rec, 0
		}
		return f.attrs.DefaultFile(), 0
	}

	rel, ok := strings.CutPrefix(virt, metadata.FilesDirPath+"/")
	if !ok {
		return nil, syscall.ENOENT
	}
	// The mirror never contains the metadata subtree itself.
	if isMetaPath(rel) {
		return nil, syscall.ENOENT
	}

	// A mirror directory exists wherever the described tree has one.
	if rec, errno := f.Resolve(rel); errno == 0 && rec.IsDir() {
		return f.attrs.DefaultDir(), 0
	}

	dir, name := splitVirt(rel)
	described, cat, ok := metadata.SplitFileName(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	data, err := f.meta.Content(path.Join(dir, described), cat)
	if err != nil {
		return nil, syscall.ENOENT
	}
	// The exact synthesized length, or reads would silently truncate.
	return f.attrs.DefaultFile().WithSize(uint64(len(data))), 0
}

// Entry is one merged directory entry with its attribute snapshot.
type Entry struct {
	Name string
	Rec  *attr.Record
}

// List returns the merged listing of a virtual directory: the union of
// real entries and provider entries, real hiding generated, plus the
// metadata top directory at the root when enabled.
func (f *FS) List(virt string) ([]Entry, syscall.Errno) {
	if names, ok := f.dirs.Readdir(virt); ok {
		f.Stats.CacheHits.Add(1)
		return f.entriesFromCache(virt, names), 0
	}

	if isMetaPath(virt) {
		if !f.metaEnabled() {
			return nil, syscall.ENOENT
		}
		return f.listMeta(virt)
	}

	entries, errno := f.listMerged(virt)
	if errno != 0 {
		return nil, errno
	}
	f.cacheListing(virt, entries)
	return entries, 0
}

// entriesFromCache rebuilds Entry values for a cached listing. A child
// without a snapshot (every regular file, by the cache's retention
// rule) is re-resolved, so a file that published since the listing was
// taken surfaces its real attributes instead of the placeholder.
func (f *FS) entriesFromCache(virt string, names []string) []Entry {
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		child := joinVirt(virt, name)
		rec, ok := f.dirs.Getattr(child)
		if !ok {
			var errno syscall.Errno
			rec, errno = f.Resolve(child)
			if errno != 0 {
				continue
			}
		}
		entries = append(entries, Entry{Name: name, Rec: rec})
	}
	return entries
}

func (f *FS) listMerged(virt string) ([]Entry, syscall.Errno) {
	seen := make(map[string]bool)
	var entries []Entry

	// Real entries are authoritative for both presence and attributes.
	if rp, ok := f.realPath(virt); ok {
		realEntries, err := os.ReadDir(rp)
		if err != nil && !os.IsNotExist(err) {
			f.logger.Warn("listing real directory failed", "path", virt, "error", err)
			return nil, syscall.EIO
		}
		for _, de := range realEntries {
			rec, err := f.attrs.FromOrigin(filepath.Join(rp, de.Name()))
			if err != nil {
				continue
			}
			seen[de.Name()] = true
			entries = append(entries, Entry{Name: de.Name(), Rec: rec})
		}
	}

	generated, err := f.provider.EntryNames(virt)
	if err != nil {
		f.logger.Warn("provider listing failed", "path", virt, "error", err)
		return nil, syscall.EIO
	}
	for _, e := range generated {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		child := joinVirt(virt, e.Name)
		var rec *attr.Record
		switch {
		case e.Dir:
			rec = f.attrs.DefaultDir()
		default:
			if r, err := f.attrs.FromOrigin(f.CachePath(child)); err == nil {
				rec = r
			} else {
				rec = f.attrs.DefaultFile()
			}
		}
		entries = append(entries, Entry{Name: e.Name, Rec: rec})
	}

	if virt == "" && f.metaEnabled() && !seen[metadata.DirName] {
		entries = append(entries, Entry{Name: metadata.DirName, Rec: f.attrs.DefaultDir()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, 0
}

// listMeta lists directories inside the metadata subtree.
func (f *FS) listMeta(virt string) ([]Entry, syscall.Errno) {
	dirRec := f.attrs.DefaultDir()

	switch virt {
	case metadata.DirName:
		return []Entry{
			{Name: metadata.FilesDirName, Rec: dirRec},
			{Name: metadata.SummariesDirName, Rec: dirRec},
		}, 0

	case metadata.SummariesDirPath:
		var entries []Entry
		for _, name := range f.provider.Summaries() {
			rec, errno := f.resolveMeta(joinVirt(virt, name))
			if errno != 0 {
				continue
			}
			entries = append(entries, Entry{Name: name, Rec: rec})
		}
		f.cacheListing(virt, entries)
		return entries, 0
	}

	rel, ok := strings.CutPrefix(virt, metadata.FilesDirPath)
	if !ok {
		return nil, syscall.ENOENT
	}
	rel = strings.TrimPrefix(rel, "/")
	if isMetaPath(rel) {
		return nil, syscall.ENOENT
	}

	// Mirror the described tree: directories keep their shape, every
	// described file becomes one entry per metadata category.
	described, errno := f.List(rel)
	if errno != 0 {
		return nil, errno
	}
	var entries []Entry
	for _, e := range described {
		if rel == "" && e.Name == metadata.DirName {
			continue
		}
		if e.Rec.IsDir() {
			entries = append(entries, Entry{Name: e.Name, Rec: f.attrs.DefaultDir()})
			continue
		}
		child := joinVirt(rel, e.Name)
		if !f.meta.Described(child) {
			continue
		}
		for _, cat := range metadata.Categories() {
			data, err := f.meta.Content(child, cat)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Name: cat.FileName(e.Name),
				Rec:  f.attrs.DefaultFile().WithSize(uint64(len(data))),
			})
		}
	}
	f.cacheListing(virt, entries)
	return entries, 0
}

// cacheListing records a listing and its child snapshots in the
// directory cache; the cache decides which tier, if any, retains it.
func (f *FS) cacheListing(virt string, entries []Entry) {
	f.dirs.StartReaddir(virt)
	for _, e := range entries {
		f.dirs.AddEntry(virt, e.Name, joinVirt(virt, e.Name), e.Rec)
	}
	f.dirs.EndReaddir(virt)
}

func joinVirt(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Handle serves reads for one opened file.
type Handle interface {
	io.ReaderAt
	Release()
}

// OpenFile resolves the byte source for a virtual path and returns a
// read handle: the real file, the published cache file, the
// synthesized metadata text, or a being-generated handle backed by the
// in-flight cache.
func (f *FS) OpenFile(virt string) (Handle, syscall.Errno) {
	if isMetaPath(virt) {
		if !f.metaEnabled() {
			return nil, syscall.ENOENT
		}
		return f.openMeta(virt)
	}

	if rp, ok := f.realExists(virt); ok {
		return f.openDisk(rp)
	}

	cp := f.CachePath(virt)
	if _, err := os.Stat(cp); err == nil {
		// Published: the deduplication record is no longer needed.
		f.inflight.Forget(virt)
		return f.openDisk(cp)
	}

	cmd, ok := f.provider.FileCommand(virt)
	if !ok {
		return nil, syscall.ENOENT
	}
	return f.openGenerated(virt, cmd, cp)
}

func (f *FS) openMeta(virt string) (Handle, syscall.Errno) {
	if name, ok := strings.CutPrefix(virt, metadata.SummariesDirPath+"/"); ok {
		cmd, ok := f.provider.SummaryCommand(name)
		if !ok {
			return nil, syscall.ENOENT
		}
		cp := f.CachePath(virt)
		if _, err := os.Stat(cp); err == nil {
			f.inflight.Forget(virt)
			return f.openDisk(cp)
		}
		return f.openGenerated(virt, cmd, cp)
	}

	rel, ok := strings.CutPrefix(virt, metadata.FilesDirPath+"/")
	if !ok {
		return nil, syscall.ENOENT
	}
	dir, name := splitVirt(rel)
	described, cat, ok := metadata.SplitFileName(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	data, err := f.meta.Content(path.Join(dir, described), cat)
	if err != nil {
		return nil, syscall.ENOENT
	}
	return &bytesHandle{data: data}, 0
}

func (f *FS) openDisk(diskPath string) (Handle, syscall.Errno) {
	file, err := os.Open(diskPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, syscall.ENOENT
		}
		f.logger.Warn("opening file failed", "path", diskPath, "error", err)
		return nil, syscall.EIO
	}
	return &diskHandle{file: file}, 0
}

// openGenerated hands out the single being-generated handle for the
// path, starting generation if none is running.
func (f *FS) openGenerated(virt, cmd, cachePath string) (Handle, syscall.Errno) {
	p, err := f.inflight.Acquire(virt, func() (*gen.Pending, error) {
		f.Stats.GenerationsStarted.Add(1)
		temp, err := f.engine.Start(cmd, cachePath)
		if err != nil {
			return nil, err
		}
		return gen.NewPending(gen.PendingOptions{
			Path:      virt,
			TempPath:  temp,
			CachePath: cachePath,
			Regen: func() (string, error) {
				f.Stats.GenerationsStarted.Add(1)
				return f.engine.Start(cmd, cachePath)
			},
			MinBytes:     f.genCfg.MinBytes,
			ReadDelay:    f.genCfg.ReadDelay,
			ReadAttempts: f.genCfg.ReadAttempts,
			Logger:       f.logger,
		}), nil
	})
	if err != nil {
		f.logger.Warn("starting generation failed", "path", virt, "error", err)
		return nil, syscall.EIO
	}
	return &pendingHandle{p: p}, 0
}

// ForgetSummary discards the cached copy of a summary file so it
// regenerates on next access. Deleting anything else is rejected by
// the read-only surface.
func (f *FS) ForgetSummary(name string) syscall.Errno {
	if _, ok := f.provider.SummaryCommand(name); !ok {
		return syscall.ENOENT
	}
	virt := metadata.SummariesDirPath + "/" + name
	if err := os.Remove(f.CachePath(virt)); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("removing cached summary failed", "name", name, "error", err)
		return syscall.EIO
	}
	f.inflight.Forget(virt)
	f.dirs.Invalidate(metadata.SummariesDirPath)
	f.logger.Info("cached summary forgotten", "name", name)
	return 0
}
