package fsbuf

import "encoding/binary"

// Kind tags for a name record, exactly as laid out in spec.md §6.
const (
	recKindFile     byte = 0x00
	recKindDir      byte = 0x01
	recKindSentinel byte = 0x7F
)

// recHeaderSize is the fixed-width portion of a record: 1 byte kind,
// 4 bytes little-endian parent back-link, 2 bytes little-endian name length.
const recHeaderSize = 1 + 4 + 2

// rootParent is the reserved parent back-link value meaning "this record's
// parent is the buffer's (unstored) root", used by every top-level entry.
const rootParent uint32 = 0xFFFFFFFF

type recordHeader struct {
	kind    byte
	parent  uint32
	nameLen uint16
}

func decodeHeader(data []byte, off uint32) recordHeader {
	b := data[off : off+recHeaderSize]
	return recordHeader{
		kind:    b[0],
		parent:  binary.LittleEndian.Uint32(b[1:5]),
		nameLen: binary.LittleEndian.Uint16(b[5:7]),
	}
}

func encodeHeader(dst []byte, h recordHeader) {
	dst[0] = h.kind
	binary.LittleEndian.PutUint32(dst[1:5], h.parent)
	binary.LittleEndian.PutUint16(dst[5:7], h.nameLen)
}

// recordSize returns the total on-disk size of the record at off.
func recordSize(data []byte, off uint32) uint32 {
	h := decodeHeader(data, off)
	return recHeaderSize + uint32(h.nameLen)
}

func recordName(data []byte, off uint32) []byte {
	h := decodeHeader(data, off)
	start := off + recHeaderSize
	return data[start : start+uint32(h.nameLen)]
}

// encodeRecord appends a full record (header+name) for kind/parent/name to dst.
func encodeRecord(dst []byte, kind byte, parent uint32, name []byte) []byte {
	var hdr [recHeaderSize]byte
	encodeHeader(hdr[:], recordHeader{kind: kind, parent: parent, nameLen: uint16(len(name))})
	dst = append(dst, hdr[:]...)
	dst = append(dst, name...)
	return dst
}

func sentinelSize() uint32 { return recHeaderSize }

func encodeSentinel(dst []byte, parent uint32) []byte {
	var hdr [recHeaderSize]byte
	encodeHeader(hdr[:], recordHeader{kind: recKindSentinel, parent: parent, nameLen: 0})
	return append(dst, hdr[:]...)
}
