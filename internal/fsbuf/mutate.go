package fsbuf

import "path"

// InsertPath adds a new file or directory record as a child of the resolved
// parent directory of fullPath, keeping siblings in unsigned byte order
// (invariant 1). It fails with KindAlreadyExists if an entry with that name
// already exists under the parent, and KindParentMissing if the parent
// directory does not exist.
func (b *Buffer) InsertPath(fullPath string, isDir bool) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return Change{}, err
	}

	parentPath := path.Dir(fullPath)
	name := path.Base(fullPath)
	if name == "" || name == "." || name == "/" {
		return Change{}, newErr(KindInvalidArgs, "invalid path: "+fullPath)
	}
	nameBytes := []byte(name)
	if len(nameBytes) > 0xFFFF {
		return Change{}, newErr(KindInvalidArgs, "name exceeds 65535 bytes: "+name)
	}

	dirOff, start, end, err := b.dirRangeLocked(parentPath)
	if err != nil {
		return Change{}, err
	}

	at, exists := insertionPoint(b.data, start, end, nameBytes)
	if exists {
		return Change{}, newErr(KindAlreadyExists, "path already exists: "+fullPath)
	}

	kind := byte(recKindFile)
	if isDir {
		kind = recKindDir
	}
	headerSize := recHeaderSize + uint32(len(nameBytes))
	total := headerSize
	if isDir {
		// A newly inserted directory starts empty; its terminating
		// sentinel is written immediately after its own header so that
		// childrenRangeOf resolves an empty [X, X) span right away.
		total += sentinelSize()
	}

	if err := b.grow(total); err != nil {
		return Change{}, err
	}

	oldTail := b.tail
	b.data = b.data[:oldTail+total]
	copy(b.data[at+total:oldTail+total], b.data[at:oldTail])

	var hdr [recHeaderSize]byte
	encodeHeader(hdr[:], recordHeader{kind: kind, parent: dirOff, nameLen: uint16(len(nameBytes))})
	copy(b.data[at:at+recHeaderSize], hdr[:])
	copy(b.data[at+recHeaderSize:at+headerSize], nameBytes)
	if isDir {
		var shdr [recHeaderSize]byte
		encodeHeader(shdr[:], recordHeader{kind: recKindSentinel, parent: at, nameLen: 0})
		copy(b.data[at+headerSize:at+total], shdr[:])
	}
	b.tail = oldTail + total

	fixupParentsAfterShift(b.data, at+total, b.tail, at, int64(total))

	return Change{Kind: ChangeInsert, Path: fullPath, IsDir: isDir}, nil
}

// RemovePath deletes fullPath's record (and, if it names a directory, its
// entire subtree) from the buffer, shifting the remaining bytes left and
// fixing up any back-links that pointed past the removed block. It fails
// with KindNotFound if fullPath does not name an existing record.
func (b *Buffer) RemovePath(fullPath string) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return Change{}, err
	}

	off, kind, found := b.resolveLocked(fullPath)
	if !found {
		return Change{}, newErr(KindNotFound, "no such path: "+fullPath)
	}

	blockStart, blockEnd := b.recordBlock(off, kind)
	size := blockEnd - blockStart

	copy(b.data[blockStart:b.tail-size], b.data[blockEnd:b.tail])
	b.tail -= size
	b.data = b.data[:b.tail]

	fixupParentsAfterShift(b.data, blockStart, b.tail, blockEnd, -int64(size))

	return Change{Kind: ChangeRemove, Path: fullPath, IsDir: kind == recKindDir}, nil
}

// RenamePath moves the record at oldPath to newPath, which may change its
// name, its parent directory, or both. It is implemented generally as a
// remove-then-insert of the record's whole raw byte block (header, name,
// and — for a directory — its full subtree and terminating sentinel) so
// that descendants are preserved verbatim rather than rebuilt, and so that
// the destination's sorted-sibling position is always correct even when
// the rename crosses directories or changes sort order. It fails with
// KindNotFound if oldPath does not exist, and KindAlreadyExists if newPath
// already does.
func (b *Buffer) RenamePath(oldPath, newPath string) (Change, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return Change{}, err
	}

	off, kind, found := b.resolveLocked(oldPath)
	if !found {
		return Change{}, newErr(KindNotFound, "no such path: "+oldPath)
	}

	newParentPath := path.Dir(newPath)
	newName := path.Base(newPath)
	if newName == "" || newName == "." || newName == "/" {
		return Change{}, newErr(KindInvalidArgs, "invalid path: "+newPath)
	}
	newNameBytes := []byte(newName)
	if len(newNameBytes) > 0xFFFF {
		return Change{}, newErr(KindInvalidArgs, "name exceeds 65535 bytes: "+newName)
	}

	blockStart, blockEnd := b.recordBlock(off, kind)
	block := append([]byte(nil), b.data[blockStart:blockEnd]...)
	oldTopHeaderSize := recHeaderSize + int(decodeHeader(block, 0).nameLen)

	// Remove the block from its current location.
	size := blockEnd - blockStart
	copy(b.data[blockStart:b.tail-size], b.data[blockEnd:b.tail])
	b.tail -= size
	b.data = b.data[:b.tail]
	fixupParentsAfterShift(b.data, blockStart, b.tail, blockEnd, -int64(size))

	// Resolve the destination parent against the now-shrunk tree.
	newDirOff, newStart, newEnd, err := b.dirRangeLocked(newParentPath)
	if err != nil {
		return Change{}, err
	}
	at, exists := insertionPoint(b.data, newStart, newEnd, newNameBytes)
	if exists {
		return Change{}, newErr(KindAlreadyExists, "path already exists: "+newPath)
	}

	newTopHeaderSize := recHeaderSize + len(newNameBytes)
	delta := newTopHeaderSize - oldTopHeaderSize
	newBlockSize := len(block) + delta
	if newBlockSize < 0 {
		return Change{}, newErr(KindInvalidArgs, "renamed block shrank below zero size")
	}

	if err := b.grow(uint32(newBlockSize)); err != nil {
		return Change{}, err
	}
	oldTail := b.tail
	total := uint32(newBlockSize)
	b.data = b.data[:oldTail+total]
	copy(b.data[at+total:oldTail+total], b.data[at:oldTail])

	// Rewrite the top record's header with the new parent/name, then copy
	// the rest of the block (its subtree, if any) translating internal
	// back-links: a reference to the old top offset becomes the new top
	// offset; any other internal reference is, by construction, strictly
	// greater than the old top offset (preorder: parent precedes child) and
	// shifts by the constant difference between the two headers' end
	// offsets.
	var hdr [recHeaderSize]byte
	encodeHeader(hdr[:], recordHeader{kind: kind, parent: newDirOff, nameLen: uint16(len(newNameBytes))})
	copy(b.data[at:at+recHeaderSize], hdr[:])
	copy(b.data[at+recHeaderSize:at+uint32(newTopHeaderSize)], newNameBytes)

	if len(block) > oldTopHeaderSize {
		rest := block[oldTopHeaderSize:]
		destStart := at + uint32(newTopHeaderSize)
		copy(b.data[destStart:destStart+uint32(len(rest))], rest)
		absDelta := int64(at) - int64(blockStart) + int64(delta)
		fixupTranslatedBlock(b.data, destStart, destStart+uint32(len(rest)), blockStart, at, absDelta)
	}

	b.tail = oldTail + total
	fixupParentsAfterShift(b.data, at+total, b.tail, at, int64(total))

	return Change{Kind: ChangeRename, Path: oldPath, NewPath: newPath, IsDir: kind == recKindDir}, nil
}

// fixupTranslatedBlock rewrites parent back-links within a just-relocated
// subtree's body (everything after its own top header). A back-link that
// pointed to the subtree's old top offset (oldTop) now points to newTop;
// every other back-link is internal to the subtree and shifts by delta.
func fixupTranslatedBlock(data []byte, regionStart, regionEnd, oldTop, newTop uint32, delta int64) {
	pos := regionStart
	for pos < regionEnd {
		h := decodeHeader(data, pos)
		sz := recHeaderSize + uint32(h.nameLen)
		switch h.parent {
		case oldTop:
			h.parent = newTop
		default:
			h.parent = uint32(int64(h.parent) + delta)
		}
		var hdr [recHeaderSize]byte
		encodeHeader(hdr[:], h)
		copy(data[pos:pos+recHeaderSize], hdr[:])
		pos += sz
	}
}

// recordBlock returns the half-open byte range covering off's own record
// and, if kind is a directory, its entire subtree including its
// terminating sentinel.
func (b *Buffer) recordBlock(off uint32, kind byte) (start, end uint32) {
	h := decodeHeader(b.data, off)
	start = off
	bodyStart := off + recHeaderSize + uint32(h.nameLen)
	if kind != recKindDir {
		return start, bodyStart
	}
	childEnd := spanEnd(b.data, bodyStart)
	return start, childEnd + sentinelSize()
}

// fixupParentsAfterShift adjusts parent back-links within [regionStart,
// regionEnd) that referenced an offset >= threshold (in the buffer's
// pre-shift addressing) by delta, which is positive for an insertion and
// negative for a removal. Records whose parent referenced an offset before
// threshold are left untouched, since the preorder invariant (a parent
// record always precedes its children) guarantees no parent offset can fall
// inside a block that was itself entirely removed or entirely inserted.
func fixupParentsAfterShift(data []byte, regionStart, regionEnd, threshold uint32, delta int64) {
	pos := regionStart
	for pos < regionEnd {
		h := decodeHeader(data, pos)
		sz := recHeaderSize + uint32(h.nameLen)
		if h.parent != rootParent && h.parent >= threshold {
			h.parent = uint32(int64(h.parent) + delta)
			var hdr [recHeaderSize]byte
			encodeHeader(hdr[:], h)
			copy(data[pos:pos+recHeaderSize], hdr[:])
		}
		pos += sz
	}
}
