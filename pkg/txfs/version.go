package txfs

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// versionCacheSize bounds the per-file LRU cache of materialized
// versions. Versions are immutable, so cached entries never go stale.
const versionCacheSize = 16

// VersionedFile stores a file's edit history as an append-only chain
// of diffs over an empty baseline. Version 0 is the empty content
// established at creation; version i is reconstructed by folding
// diffs 1..i over the baseline.
//
// Diffs are never rewritten in place, only appended. [VersionedFile.RevertTo]
// moves the current pointer without truncating the chain, so versions
// past the pointer stay addressable for in-flight readers.
//
// All methods are safe for concurrent use.
type VersionedFile struct {
	mu sync.Mutex

	id   string
	name string

	// baseline is the content of version base. Both start at the
	// empty version 0 and only advance when an unreferenced chain is
	// compacted.
	baseline string
	base     int

	// diffs[i] transforms version base+i into version base+i+1.
	diffs []fileDiff

	cur  int
	refs int

	cache *lru.Cache[int, string]
}

// NewVersionedFile returns a file whose chain holds only the empty
// version 0.
func NewVersionedFile(name string) *VersionedFile {
	cache, err := lru.New[int, string](versionCacheSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}

	return &VersionedFile{
		id:    uuid.NewString(),
		name:  name,
		cache: cache,
	}
}

// ID returns the file's stable identity. Lock keys and snapshot maps
// use this id, so renames and moves do not disturb them.
func (f *VersionedFile) ID() string {
	return f.id
}

// Current returns the index of the current version.
func (f *VersionedFile) Current() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.cur
}

// Read reconstructs version v. It fails with [ErrNoSuchVersion] when
// v is negative, past the chain head, or older than the compacted
// baseline.
func (f *VersionedFile) Read(v int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.readLocked(v)
}

// AppendVersion computes the diff from the chain head to content,
// appends it, and advances the current pointer to the new version.
// The diff is computed against the head (not the current pointer) so
// reconstruction stays a linear fold over the chain even after a
// revert.
func (f *VersionedFile) AppendVersion(content string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	headContent, err := f.readLocked(f.head())
	if err != nil {
		return 0, fmt.Errorf("append version: %w", err)
	}

	d := computeDiff(splitLines(headContent), splitLines(content))
	f.diffs = append(f.diffs, d)
	f.cur = f.head()
	f.cache.Add(f.cur, content)

	versionsAppendedTotal.Inc()

	return f.cur, nil
}

// RevertTo moves the current pointer to v without truncating the
// chain. Fails with [ErrNoSuchVersion] when v is out of range.
func (f *VersionedFile) RevertTo(v int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if v < f.base || v > f.head() {
		return fmt.Errorf("%w: %s@%d", ErrNoSuchVersion, f.name, v)
	}

	f.cur = v

	return nil
}

// Retain pins the file on behalf of a transaction. Pinned files are
// never compacted, so every version a live transaction may observe
// stays addressable.
func (f *VersionedFile) Retain() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs++
}

// Release drops one pin. When the last pin is gone and the current
// pointer sits at the chain head, the chain is folded into the
// baseline; version numbering is preserved and versions older than
// the new baseline stop being addressable.
func (f *VersionedFile) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs--

	if f.refs <= 0 && f.cur == f.head() && len(f.diffs) > 0 {
		f.compactLocked()
	}
}

func (f *VersionedFile) head() int {
	return f.base + len(f.diffs)
}

func (f *VersionedFile) readLocked(v int) (string, error) {
	if v < f.base || v > f.head() {
		return "", fmt.Errorf("%w: %s@%d", ErrNoSuchVersion, f.name, v)
	}

	if content, ok := f.cache.Get(v); ok {
		return content, nil
	}

	lines := splitLines(f.baseline)
	for i := f.base; i < v; i++ {
		lines = applyDiff(lines, f.diffs[i-f.base])
	}

	content := joinLines(lines)
	f.cache.Add(v, content)

	return content, nil
}

func (f *VersionedFile) compactLocked() {
	content, err := f.readLocked(f.cur)
	if err != nil {
		// The chain is always reconstructible up to its head; an
		// error here is a programmer error. Leave the chain alone,
		// compaction is an optimization.
		return
	}

	f.baseline = content
	f.base = f.cur
	f.diffs = nil
	f.cache.Purge()
	f.cache.Add(f.cur, content)
}
