package fsbuf

import (
	"strings"
)

// GetPathRange resolves queryPath (which must be RootPath or a descendant
// of it) to the half-open byte range [start, end) covering the immediate
// and transitive descendants of that directory, in preorder, along with
// the offset of queryPath's own record (pathOff).
//
// If queryPath does not exist in the buffer, it returns a nil error with
// start == 0 and end == 0 (an empty range), matching spec.md §4.1's
// "returns successfully (empty range)" contract. If queryPath names a file,
// start == end == the file's own record offset.
func (b *Buffer) GetPathRange(queryPath string) (pathOff, start, end uint32, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpen(); err != nil {
		return 0, 0, 0, err
	}
	return b.pathRangeLocked(queryPath)
}

// pathRangeLocked is GetPathRange's body, callable while b.mu is already
// held (read or write) by the caller.
func (b *Buffer) pathRangeLocked(queryPath string) (pathOff, start, end uint32, err error) {
	comps, ok := b.splitPath(queryPath)
	if !ok {
		return 0, 0, 0, nil
	}
	if len(comps) == 0 {
		start, end = b.rootChildrenRange()
		return 0, start, end, nil
	}

	curStart, curEnd := b.rootChildrenRange()
	var curOff uint32
	for i, name := range comps {
		off, found := findChild(b.data, curStart, curEnd, []byte(name))
		if !found {
			return 0, 0, 0, nil
		}
		curOff = off
		h := decodeHeader(b.data, off)
		last := i == len(comps)-1
		if h.kind == recKindFile {
			if !last {
				return 0, 0, 0, nil
			}
			return off, off, off, nil
		}
		curStart, curEnd = b.childrenRangeOf(off)
	}
	return curOff, curStart, curEnd, nil
}

// dirRangeLocked resolves p to a directory's children range, failing with
// KindParentMissing if p does not name an existing directory (or the root).
// dirOff is rootParent (not 0) when p is the buffer's root, since offset 0
// can be a legitimate record offset and must not be overloaded as "root".
func (b *Buffer) dirRangeLocked(p string) (dirOff, start, end uint32, err error) {
	comps, ok := b.splitPath(p)
	if !ok {
		return 0, 0, 0, newErr(KindParentMissing, "path is not under this buffer's root: "+p)
	}
	if len(comps) == 0 {
		start, end = b.rootChildrenRange()
		return rootParent, start, end, nil
	}
	off, kind, found := b.resolveLocked(p)
	if !found {
		return 0, 0, 0, newErr(KindParentMissing, "no such directory: "+p)
	}
	if kind == recKindFile {
		return 0, 0, 0, newErr(KindParentMissing, "not a directory: "+p)
	}
	start, end = b.childrenRangeOf(off)
	return off, start, end, nil
}

// resolveLocked walks fullPath component by component from the root and
// returns the offset and kind of its own record. found is false both when
// fullPath is not under the buffer's root and when it is but names nothing
// in the tree; callers cannot tell these apart, which is fine since both
// mean "does not exist" to every caller of resolveLocked.
func (b *Buffer) resolveLocked(fullPath string) (off uint32, kind byte, found bool) {
	comps, ok := b.splitPath(fullPath)
	if !ok || len(comps) == 0 {
		return 0, 0, false
	}
	start, end := b.rootChildrenRange()
	for i, name := range comps {
		o, ok := findChild(b.data, start, end, []byte(name))
		if !ok {
			return 0, 0, false
		}
		h := decodeHeader(b.data, o)
		last := i == len(comps)-1
		if h.kind == recKindFile {
			if !last {
				return 0, 0, false
			}
			return o, h.kind, true
		}
		if last {
			return o, h.kind, true
		}
		start, end = b.childrenRangeOf(o)
	}
	return 0, 0, false
}

// GetPathByNameOff reconstructs the absolute path of the record at nameOff
// by walking parent back-links to the root, per spec.md §3's "O(depth) path
// reconstruction" invariant.
func (b *Buffer) GetPathByNameOff(nameOff uint32) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpen(); err != nil {
		return "", err
	}
	return b.pathByNameOffLocked(nameOff)
}

func (b *Buffer) pathByNameOffLocked(nameOff uint32) (string, error) {
	if nameOff >= b.tail {
		return "", newErr(KindInvalidArgs, "name offset out of range")
	}
	var segs []string
	off := nameOff
	for {
		h := decodeHeader(b.data, off)
		segs = append(segs, string(recordName(b.data, off)))
		if h.parent == rootParent {
			break
		}
		off = h.parent
	}
	// segs were collected leaf-to-root; reverse.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	if b.rootPath == "/" {
		return "/" + strings.Join(segs, "/"), nil
	}
	return b.rootPath + "/" + strings.Join(segs, "/"), nil
}
