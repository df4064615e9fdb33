package fsbuf

// CompareFunc reports whether the given name record matches; it returns
// true for a match, matching the teacher's "compare_fn returns 0 means
// match" convention but expressed as a Go bool for clarity at the call
// site. name is only valid for the duration of the call.
type CompareFunc func(name []byte) bool

// ProgressFunc is polled during a scan batch; returning true aborts the
// scan early (e.g. a search deadline has elapsed).
type ProgressFunc func() bool

// SearchFiles scans name records from cursor (inclusive) up to end
// (exclusive), testing each non-sentinel record's name against match, and
// appends matching offsets to out until out reaches cap(out), cursor
// reaches end, or progress returns true. It returns the matches found and
// the updated cursor — the byte offset of the next unexamined record —
// which the caller can resume from. This is the cursor-resumable contract
// spec.md §4.1 calls "load-bearing for bounded-time queries".
func (b *Buffer) SearchFiles(cursor, end uint32, out []uint32, match CompareFunc, progress ProgressFunc) (matches []uint32, nextCursor uint32, err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.ensureOpen(); err != nil {
		return nil, cursor, err
	}
	if end > b.tail {
		end = b.tail
	}
	// A search scans every record in the range record-by-record (not
	// nextSibling-skipping), since a directory's matching descendants are
	// interleaved in the flat preorder sequence between cursor and end.
	pos := cursor
	n := 0
	max := cap(out)
	for pos < end {
		h := decodeHeader(b.data, pos)
		size := recHeaderSize + uint32(h.nameLen)
		if h.kind != recKindSentinel {
			if n >= max {
				break
			}
			if match(recordName(b.data, pos)) {
				out = out[:n+1]
				out[n] = pos
				n++
			}
		}
		pos += size
		if n >= max {
			break
		}
		if progress != nil && progress() {
			break
		}
	}
	return out[:n], pos, nil
}
