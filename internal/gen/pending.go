package gen

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pkarhu/oncefs/internal/cache"
)

// Polling defaults: 150 attempts at 100ms is roughly fifteen seconds
// before a read gives up on a slow producer.
const (
	DefaultMinBytes     = 4096
	DefaultReadDelay    = 100 * time.Millisecond
	DefaultReadAttempts = 150
)

// RegenFunc restarts generation for a handle's path and returns the
// new temporary path.
type RegenFunc func() (tempPath string, err error)

// PendingOptions configures a being-generated read handle.
type PendingOptions struct {
	// Path is the virtual path, for logging.
	Path string

	// TempPath is where the producer is currently writing. It may be
	// empty if the handle was created after the temp file vanished.
	TempPath string

	// CachePath is the final published location.
	CachePath string

	// Regen restarts generation when both paths are gone.
	Regen RegenFunc

	// MinBytes is how much of the temp file must exist before reads
	// are served from it. Zero means DefaultMinBytes.
	MinBytes int64

	// ReadDelay and ReadAttempts bound the polling loop. Zero means
	// the package defaults.
	ReadDelay    time.Duration
	ReadAttempts int

	Logger *slog.Logger
}

// Pending is a read handle over a file whose generation has started
// but may not have completed. Reads poll the temporary and final paths
// and retry with a fixed delay while the producer catches up. After
// the retry budget is exhausted an empty result is returned; callers
// cannot distinguish that from a genuinely empty file, which is a
// documented soft spot of the polling handoff.
type Pending struct {
	path      string
	cachePath string
	minBytes  int64
	delay     time.Duration
	attempts  int
	regen     RegenFunc
	logger    *slog.Logger

	mu       sync.Mutex
	tempPath string // cleared once known absent
}

// NewPending returns a handle for a file being generated.
func NewPending(opts PendingOptions) *Pending {
	if opts.MinBytes == 0 {
		opts.MinBytes = DefaultMinBytes
	}
	if opts.ReadDelay == 0 {
		opts.ReadDelay = DefaultReadDelay
	}
	if opts.ReadAttempts == 0 {
		opts.ReadAttempts = DefaultReadAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pending{
		path:      opts.Path,
		cachePath: opts.CachePath,
		minBytes:  opts.MinBytes,
		delay:     opts.ReadDelay,
		attempts:  opts.ReadAttempts,
		regen:     opts.Regen,
		logger:    logger.With("component", "gen", "path", opts.Path),
		tempPath:  opts.TempPath,
	}
}

// ReadAt reads len(dest) bytes at off from whichever of the temporary
// or final file currently exists. If neither exists, generation is
// restarted once via the regeneration callback; if that fails the read
// fails with a not-exist error. Short or empty reads of a still
// growing temp file are retried up to the configured budget, after
// which an empty result is returned and a warning logged.
func (p *Pending) ReadAt(dest []byte, off int64) (int, error) {
	regenerated := false
	for attempt := 0; attempt < p.attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(p.delay)
		}
		n, done, err := p.tryRead(dest, off, &regenerated)
		if err != nil {
			return 0, err
		}
		if done {
			return n, nil
		}
	}
	p.logger.Warn("generated file still incomplete after retries, returning empty read",
		"offset", off,
		"attempts", p.attempts,
	)
	return 0, nil
}

// tryRead makes one pass over the final and temporary paths. done is
// true when a definitive result was obtained.
func (p *Pending) tryRead(dest []byte, off int64, regenerated *bool) (int, bool, error) {
	// The final path wins: once published it is complete.
	if f, err := os.Open(p.cachePath); err == nil {
		defer f.Close()
		n, rerr := f.ReadAt(dest, off)
		if rerr != nil && rerr != io.EOF {
			return 0, false, rerr
		}
		return n, true, nil
	}

	p.mu.Lock()
	temp := p.tempPath
	p.mu.Unlock()

	if temp != "" {
		f, err := os.Open(temp)
		switch {
		case err == nil:
			defer f.Close()
			info, serr := f.Stat()
			if serr != nil {
				return 0, false, serr
			}
			if info.Size() < p.minBytes {
				return 0, false, nil
			}
			n, rerr := f.ReadAt(dest, off)
			if rerr != nil && rerr != io.EOF {
				return 0, false, rerr
			}
			if n > 0 {
				return n, true, nil
			}
			// Offset beyond what the producer has written so far.
			return 0, false, nil
		case os.IsNotExist(err):
			// The producer finished (rename) or its output vanished.
			p.mu.Lock()
			if p.tempPath == temp {
				p.tempPath = ""
			}
			p.mu.Unlock()
			return 0, false, nil
		default:
			return 0, false, err
		}
	}

	// Neither temp nor final exists: the cache was evicted or the
	// job failed. Restart generation, once per read.
	if *regenerated || p.regen == nil {
		return 0, false, nil
	}
	*regenerated = true
	p.logger.Debug("temp and cache files gone, restarting generation")
	newTemp, err := p.regen()
	if err != nil {
		return 0, false, fmt.Errorf("regenerating %s: %w", p.path, os.ErrNotExist)
	}
	p.mu.Lock()
	p.tempPath = newTemp
	p.mu.Unlock()
	return 0, false, nil
}

// Release is a no-op: the handle holds no OS resources between reads.
func (p *Pending) Release() {}

// Inflight deduplicates concurrent opens of the same not-yet-complete
// file: at most one Pending handle exists per virtual path, so N
// simultaneous readers of an uncached path share one generation job.
// Entries are bounded by watermarks; evicting one only drops the
// deduplication record, never an open handle.
type Inflight struct {
	mu      sync.Mutex
	entries *cache.Recency[string, *Pending]
}

// NewInflight returns an Inflight bounded by the given watermarks.
func NewInflight(low, high int) *Inflight {
	return &Inflight{
		entries: cache.NewUsedOrder[string, *Pending](low, high, nil),
	}
}

// Acquire returns the existing handle for path, or installs the one
// produced by create. create runs under the cache lock, so two
// concurrent acquirers can never both create.
func (i *Inflight) Acquire(path string, create func() (*Pending, error)) (*Pending, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if p, ok := i.entries.Get(path); ok {
		return p, nil
	}
	p, err := create()
	if err != nil {
		return nil, err
	}
	i.entries.TryToAdd(path, p)
	return p, nil
}

// Forget drops the handle for path, typically once the final file has
// been observed published.
func (i *Inflight) Forget(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.entries.Remove(path)
}

// Len reports the number of tracked handles.
func (i *Inflight) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.entries.Len()
}
