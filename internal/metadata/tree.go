package metadata

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkarhu/oncefs/internal/cache"
	"github.com/pkarhu/oncefs/internal/provider"
)

// Tree synthesizes category file contents for described files,
// memoizing the rendered text so repeated stats and reads of the same
// metadata file do not re-query the provider.
//
// The exact byte length of the synthesized text matters: the resolver
// reports it as the file size, and a mismatch would silently truncate
// reads.
type Tree struct {
	provider provider.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	content *cache.Recency[string, []byte]
}

// NewTree returns a Tree caching up to high rendered category files,
// compacting to low.
func NewTree(p provider.Provider, low, high int, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{
		provider: p,
		logger:   logger.With("component", "metadata"),
		content:  cache.NewUsedOrder[string, []byte](low, high, nil),
	}
}

// Content returns the serialized facts of one category for the
// described file at virtPath. An empty category yields empty content;
// provider.ErrNotDescribed passes through and means the metadata file
// does not exist at all.
func (t *Tree) Content(virtPath string, cat Category) ([]byte, error) {
	key := cat.FileName(virtPath)

	t.mu.Lock()
	data, ok := t.content.Get(key)
	t.mu.Unlock()
	if ok {
		return data, nil
	}

	facts, err := t.facts(virtPath, cat)
	if err != nil {
		return nil, err
	}
	data = Serialize(facts)

	t.mu.Lock()
	t.content.Add(key, data)
	t.mu.Unlock()

	t.logger.Debug("synthesized metadata",
		"path", virtPath,
		"category", cat.String(),
		"bytes", len(data),
	)
	return data, nil
}

func (t *Tree) facts(virtPath string, cat Category) (map[string]string, error) {
	switch cat {
	case CategoryTags:
		return t.provider.Tags(virtPath)
	case CategoryOrigins:
		return t.provider.Origins(virtPath)
	case CategoryDerived:
		return t.provider.Derived(virtPath)
	case CategoryPathname:
		// The pathname category only applies to described files, so
		// probe the provider before synthesizing it.
		if _, err := t.provider.Tags(virtPath); err != nil {
			return nil, err
		}
		return PathnameFacts(virtPath), nil
	}
	return nil, fmt.Errorf("unknown metadata category %d", cat)
}

// Described reports whether the provider describes virtPath at all.
func (t *Tree) Described(virtPath string) bool {
	_, err := t.provider.Tags(virtPath)
	return err == nil
}

// Forget drops memoized content for every category of virtPath.
func (t *Tree) Forget(virtPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, cat := range Categories() {
		t.content.Remove(cat.FileName(virtPath))
	}
}
