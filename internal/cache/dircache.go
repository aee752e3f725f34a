package cache

import (
	"sync"

	"github.com/pkarhu/oncefs/internal/attr"
)

// DirCache caches directory listings together with the attribute
// snapshot of every listed child directory.
//
// It has two tiers. The permanent tier holds a fixed set of always
// valid directories (the root and the engine's synthesized top-level
// directories) seeded at mount time and never evicted. The bounded
// tier holds listings that reached a minimum size: small directories
// are cheap to re-list, large synthesized ones are not.
//
// Only directory children are snapshotted. A regular file's attributes
// change the moment its generation publishes, so files must always
// re-resolve against their origin.
//
// A listing and its child snapshots live and die together: evicting a
// listing from the bounded tier cascades through the removal hook and
// drops the snapshots of all of its child directories.
type DirCache struct {
	mu sync.Mutex

	minListing int

	permanent map[string]*dirRecord
	bounded   *Recency[string, *dirRecord]

	// attrs indexes the child snapshots of every cached listing, plus
	// the seeded attributes of permanent directories themselves.
	attrs map[string]*attr.Record

	building map[string]*dirRecord
}

type dirRecord struct {
	names      []string
	childPaths []string
}

// NewDirCache returns a DirCache whose bounded tier compacts from high
// to low entries and only admits listings of at least minListing names.
func NewDirCache(low, high, minListing int) *DirCache {
	d := &DirCache{
		minListing: minListing,
		permanent:  make(map[string]*dirRecord),
		attrs:      make(map[string]*attr.Record),
		building:   make(map[string]*dirRecord),
	}
	d.bounded = NewAddedOrder(low, high, func(path string, rec *dirRecord) {
		for _, child := range rec.childPaths {
			delete(d.attrs, child)
		}
	})
	return d
}

// SeedPermanent installs path in the permanent tier with the given
// attributes and no listing yet. Seeded paths always stat successfully
// and their listings, once built, are never evicted.
func (d *DirCache) SeedPermanent(path string, rec *attr.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.permanent[path]; !ok {
		d.permanent[path] = nil
	}
	d.attrs[path] = rec
}

// StartReaddir begins collecting a listing for path. Any previously
// collected but unfinished listing for the path is discarded.
func (d *DirCache) StartReaddir(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.building[path] = &dirRecord{}
}

// AddEntry records one child of path: its name in the listing and, for
// directory children only, its attribute snapshot under childPath.
func (d *DirCache) AddEntry(path, name, childPath string, rec *attr.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.building[path]
	if !ok {
		return
	}
	b.names = append(b.names, name)
	if rec.IsDir() {
		b.childPaths = append(b.childPaths, childPath)
		d.attrs[childPath] = rec
	}
}

// EndReaddir finalizes the listing for path and returns the collected
// names. The listing is retained permanently for seeded paths, in the
// bounded tier when it reached the minimum size, and otherwise its
// child attributes are discarded again.
func (d *DirCache) EndReaddir(path string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.building[path]
	if !ok {
		return nil
	}
	delete(d.building, path)

	if _, seeded := d.permanent[path]; seeded {
		d.permanent[path] = b
		return b.names
	}
	if len(b.names) >= d.minListing {
		d.bounded.Add(path, b)
		return b.names
	}
	for _, child := range b.childPaths {
		delete(d.attrs, child)
	}
	return b.names
}

// Readdir returns the cached listing for path, if any.
func (d *DirCache) Readdir(path string) ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.permanent[path]; ok && rec != nil {
		return rec.names, true
	}
	if rec, ok := d.bounded.Get(path); ok {
		return rec.names, true
	}
	return nil, false
}

// Getattr returns the cached attribute snapshot for path, if any.
func (d *DirCache) Getattr(path string) (*attr.Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.attrs[path]
	return rec, ok
}

// Invalidate drops the cached listing for path, the child attribute
// snapshots belonging to it, and any snapshot of path itself. Seeded
// paths keep their permanent attributes but lose their listing.
func (d *DirCache) Invalidate(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rec, ok := d.permanent[path]; ok {
		if rec != nil {
			for _, child := range rec.childPaths {
				delete(d.attrs, child)
			}
			d.permanent[path] = nil
		}
		return
	}
	d.bounded.Remove(path)
	delete(d.attrs, path)
}
