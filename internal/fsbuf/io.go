package fsbuf

import (
	"encoding/binary"
	"io"
	"os"
)

// cacheMagic is the authoritative on-disk format marker of spec.md §6. Its
// big-endian spelling is "LFTB"; Save writes it little-endian, so a cache
// file's first four bytes are "BTFL".
const cacheMagic uint32 = 0x4C465442

// cacheVersion is the only version this package writes or accepts.
const cacheVersion uint32 = 1

// Save writes buffer to filename in the cache file format: magic, version,
// root_path_len + root_path bytes, tail, then tail bytes of name-record
// data verbatim.
func Save(b *Buffer, filename string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpen(); err != nil {
		return err
	}

	f, err := os.CreateTemp(dirOf(filename), ".tmp-lftb-*")
	if err != nil {
		return wrapErr(KindIo, "create temp cache file", err)
	}
	tmpName := f.Name()
	ok := false
	defer func() {
		f.Close()
		if !ok {
			os.Remove(tmpName)
		}
	}()

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], cacheMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], cacheVersion)
	if _, err := f.Write(hdr[:]); err != nil {
		return wrapErr(KindIo, "write cache header", err)
	}

	rootBytes := []byte(b.rootPath)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rootBytes)))
	if _, err := f.Write(lenBuf[:]); err != nil {
		return wrapErr(KindIo, "write root_path_len", err)
	}
	if _, err := f.Write(rootBytes); err != nil {
		return wrapErr(KindIo, "write root_path", err)
	}

	binary.LittleEndian.PutUint32(lenBuf[:], b.tail)
	if _, err := f.Write(lenBuf[:]); err != nil {
		return wrapErr(KindIo, "write tail", err)
	}
	if _, err := f.Write(b.data[:b.tail]); err != nil {
		return wrapErr(KindIo, "write name records", err)
	}
	if err := f.Sync(); err != nil {
		return wrapErr(KindIo, "sync cache file", err)
	}
	if err := f.Close(); err != nil {
		return wrapErr(KindIo, "close cache file", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return wrapErr(KindIo, "rename cache file into place", err)
	}
	ok = true
	return nil
}

// Load reads filename in the cache file format and returns a fresh Buffer.
// It fails with KindIo for filesystem errors, and KindBadFormat (wrapping a
// more specific message) for a bad magic, an unsupported version, or a
// truncated file.
func Load(filename string) (*Buffer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, wrapErr(KindIo, "open cache file", err)
	}
	defer f.Close()

	var hdr [8]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, wrapErr(KindBadFormat, "truncated cache header", err)
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != cacheMagic {
		return nil, newErr(KindBadFormat, "bad magic in cache file")
	}
	version := binary.LittleEndian.Uint32(hdr[4:8])
	if version != cacheVersion {
		return nil, newErr(KindBadFormat, "unsupported cache file version")
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, wrapErr(KindBadFormat, "truncated root_path_len", err)
	}
	rootLen := binary.LittleEndian.Uint32(lenBuf[:])
	rootBytes := make([]byte, rootLen)
	if _, err := io.ReadFull(f, rootBytes); err != nil {
		return nil, wrapErr(KindBadFormat, "truncated root_path", err)
	}

	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, wrapErr(KindBadFormat, "truncated tail", err)
	}
	tail := binary.LittleEndian.Uint32(lenBuf[:])

	capacity := tail
	if capacity < DefaultCapacity {
		capacity = DefaultCapacity
	}
	b, err := New(capacity, string(rootBytes))
	if err != nil {
		return nil, err
	}

	b.data = b.data[:tail]
	if _, err := io.ReadFull(f, b.data); err != nil {
		return nil, wrapErr(KindBadFormat, "truncated name records", err)
	}
	b.tail = tail
	b.firstName = 0

	if !b.WellFormed() {
		return nil, newErr(KindBadFormat, "loaded buffer failed well-formedness check")
	}
	return b, nil
}

func dirOf(filename string) string {
	i := len(filename) - 1
	for i >= 0 && filename[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return filename[:i]
}
