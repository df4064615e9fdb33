package fsbuf

import (
	"path"
	"strings"
	"sync"
)

// DefaultCapacity is the initial allocation size for a fresh buffer (§3).
const DefaultCapacity = 16 << 20 // 16 MiB

// MaxCapacity is the hard ceiling on buffer size: offsets are little-endian
// 32-bit, so a buffer can never exceed 4 GiB (§4.1 "Internal algorithm notes").
const MaxCapacity = 1 << 32

// Buffer is a compact, preorder-serialized tree of filesystem names rooted
// at RootPath. It is the in-memory/on-disk "FS buffer" of spec.md §3/§4.1.
//
// Buffer is safe for concurrent readers (Search, GetPathRange, ...) against
// each other, and every mutation (InsertPath, RemovePath, RenamePath, the
// Builder's appends) holds the buffer exclusively. Each method takes the
// embedded RWMutex itself, matching spec.md §5's "simpler (a)"
// growth/mutation model; callers do no locking of their own.
type Buffer struct {
	mu sync.RWMutex

	rootPath string
	data     []byte // arena; only [0, tail) is meaningful
	tail     uint32
	firstName uint32
	closed    bool
}

// New allocates an empty buffer rooted at rootPath with the given capacity.
// capacity is rounded to at least 64 bytes; it fails with KindOutOfMemory if
// capacity exceeds MaxCapacity.
func New(capacity uint32, rootPath string) (*Buffer, error) {
	if capacity < 64 {
		capacity = 64
	}
	if uint64(capacity) > MaxCapacity {
		return nil, newErr(KindOutOfMemory, "requested capacity exceeds 4 GiB")
	}
	rp := normalizeRoot(rootPath)
	b := &Buffer{
		rootPath:  rp,
		data:      make([]byte, 0, capacity),
		firstName: 0,
		tail:      0,
	}
	return b, nil
}

func normalizeRoot(p string) string {
	if p == "/" {
		return "/"
	}
	return strings.TrimSuffix(p, "/")
}

// RootPath returns the tree's root path.
func (b *Buffer) RootPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rootPath
}

// Tail returns the current tail offset (one past the last used byte).
func (b *Buffer) Tail() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail
}

// FirstName returns the offset of the first child name record.
func (b *Buffer) FirstName() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.firstName
}

// WellFormed reports whether the invariants of spec.md §4.1 "State
// validation" hold: firstName <= tail <= capacity and all back-links point
// backward. An empty tree (tail == firstName) is well-formed — spec.md §9
// resolves the ambiguity in the teacher's equivalent check explicitly.
func (b *Buffer) WellFormed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.firstName > b.tail || uint64(b.tail) > uint64(cap(b.data)) {
		return false
	}
	off := b.firstName
	for off < b.tail {
		h := decodeHeader(b.data, off)
		if h.parent != rootParent && h.parent >= off {
			return false
		}
		off += recHeaderSize + uint32(h.nameLen)
	}
	return true
}

// Free releases the buffer's backing storage. Further operations on a freed
// buffer return KindInvalidArgs. In Go there is no explicit region to
// release beyond letting the GC reclaim data, but Free exists for parity
// with the C API (new_fs_buf/free_fs_buf) that spec.md §4.1 specifies, and
// lets callers eagerly drop large arenas instead of waiting on a GC cycle.
func (b *Buffer) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	b.closed = true
}

func (b *Buffer) ensureOpen() error {
	if b.closed {
		return newErr(KindInvalidArgs, "use of a freed buffer")
	}
	return nil
}

// grow ensures capacity for at least n more bytes beyond tail, doubling
// geometrically and capping at MaxCapacity (§4.1 "Growth strategy").
func (b *Buffer) grow(n uint32) error {
	need := uint64(b.tail) + uint64(n)
	if need > MaxCapacity {
		return newErr(KindOutOfMemory, "buffer would exceed 4 GiB")
	}
	if need <= uint64(cap(b.data)) {
		return nil
	}
	newCap := uint64(cap(b.data))
	if newCap == 0 {
		newCap = DefaultCapacity
	}
	for newCap < need {
		newCap *= 2
		if newCap > MaxCapacity {
			newCap = MaxCapacity
			break
		}
	}
	if newCap < need {
		return newErr(KindOutOfMemory, "buffer would exceed 4 GiB")
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
	return nil
}

// spanEnd scans forward from start (the offset of a directory's first
// child, or firstName for the root) and returns the offset of the sentinel
// record that terminates this level — i.e. the exclusive end of the span.
// This is the "computable end offset" of spec.md §3 invariant 4.
func spanEnd(data []byte, start uint32) uint32 {
	pos := start
	depth := 0
	for {
		h := decodeHeader(data, pos)
		sz := recHeaderSize + uint32(h.nameLen)
		if h.kind == recKindSentinel {
			if depth == 0 {
				return pos
			}
			depth--
			pos += sz
			continue
		}
		if h.kind == recKindDir {
			depth++
		}
		pos += sz
	}
}

// nextSibling returns the offset of the record immediately following the
// record at off at the same nesting level (skipping over off's entire
// subtree, including its own sentinel, when off is a directory).
func nextSibling(data []byte, off uint32) uint32 {
	h := decodeHeader(data, off)
	after := off + recHeaderSize + uint32(h.nameLen)
	if h.kind != recKindDir {
		return after
	}
	end := spanEnd(data, after)
	return end + sentinelSize()
}

// childrenRangeOf returns [start, end) for the children of the directory
// whose own record begins at dirOff; end is the offset of that directory's
// terminating sentinel. dirOff must be a real directory record: the root's
// children come from rootChildrenRange instead.
func (b *Buffer) childrenRangeOf(dirOff uint32) (start, end uint32) {
	h := decodeHeader(b.data, dirOff)
	start = dirOff + recHeaderSize + uint32(h.nameLen)
	end = spanEnd(b.data, start)
	return
}

// rootChildrenRange returns the [start, end) span of the root's direct
// children. Unlike a nested directory, the root never has a trailing
// sentinel record: its own children list is unambiguously terminated by
// tail, since nothing in the buffer follows it.
func (b *Buffer) rootChildrenRange() (start, end uint32) {
	return b.firstName, b.tail
}

// findChild performs a linear scan of the direct children in [start, end)
// for an exact byte-wise match of name, per invariant 1's unsigned
// byte-ordering (findChild does not assume sortedness is exploitable beyond
// documenting it; a linear scan keeps the mutation code simple and mirrors
// the teacher's own unindexed sibling scan).
func findChild(data []byte, start, end uint32, name []byte) (off uint32, found bool) {
	pos := start
	for pos < end {
		n := recordName(data, pos)
		if bytesEqual(n, name) {
			return pos, true
		}
		pos = nextSibling(data, pos)
	}
	return 0, false
}

// insertionPoint returns the offset within [start, end) before which name
// should be inserted to keep direct children in unsigned byte order, and
// whether a sibling with that exact name already exists.
func insertionPoint(data []byte, start, end uint32, name []byte) (at uint32, exists bool) {
	pos := start
	for pos < end {
		n := recordName(data, pos)
		c := bytesCompare(n, name)
		if c == 0 {
			return pos, true
		}
		if c > 0 {
			return pos, false
		}
		pos = nextSibling(data, pos)
	}
	return end, false
}

func bytesEqual(a, b []byte) bool { return bytesCompare(a, b) == 0 }

func bytesCompare(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case la < lb:
		return -1
	case la > lb:
		return 1
	default:
		return 0
	}
}

// splitPath splits an absolute path relative to the buffer's root into
// components. It returns ok=false if p is not rooted under RootPath.
func (b *Buffer) splitPath(p string) (components []string, ok bool) {
	p = path.Clean(p)
	root := b.rootPath
	if root == "/" {
		if p == "/" {
			return nil, true
		}
		if !strings.HasPrefix(p, "/") {
			return nil, false
		}
		rest := strings.TrimPrefix(p, "/")
		if rest == "" {
			return nil, true
		}
		return strings.Split(rest, "/"), true
	}
	if p == root {
		return nil, true
	}
	if !strings.HasPrefix(p, root+"/") {
		return nil, false
	}
	rest := strings.TrimPrefix(p, root+"/")
	if rest == "" {
		return nil, true
	}
	return strings.Split(rest, "/"), true
}
