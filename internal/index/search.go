package index

import (
	"bytes"
	"regexp"
	"time"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
)

// SearchResult is one match returned by Search.
type SearchResult struct {
	Path string
}

// searchBatchSize is the most matches one SearchFiles call collects before
// Search checks its limits again.
const searchBatchSize = 100

// Cursor resumes a bounded search across calls, per spec.md §4.1's
// cursor-resumable contract.
type Cursor struct {
	Start uint32
	End   uint32
}

// Search performs a substring (regex=false) or regular-expression
// (regex=true) search over the index rooted at (or containing) root,
// case-insensitively, resuming from cur if non-nil and stopping once
// maxCount results have been collected or deadline elapses.
func (m *Manager) Search(root, pattern string, regex bool, maxCount int, deadline time.Time, cur *Cursor) ([]SearchResult, Cursor, error) {
	m.mu.Lock()
	e, mount := m.resolveQueryLocked(root)
	m.mu.Unlock()
	if e == nil {
		return nil, Cursor{}, newErr(KindNotFound, "no index covers: "+root)
	}

	match, err := compareFunc(pattern, regex)
	if err != nil {
		return nil, Cursor{}, newErr(KindInvalidArgs, "bad search pattern: "+err.Error())
	}

	// root may be an alias whose embedded root differs from the buffer's
	// own; GetPathRange requires a path expressed relative to the buffer's
	// real root, and results must be translated back the other way before
	// they reach the caller.
	bufferRoot := e.buffer.RootPath()
	canonicalRoot := translateRoot(root, mount, bufferRoot)

	_, start, end, ferr := e.buffer.GetPathRange(canonicalRoot)
	if ferr != nil {
		return nil, Cursor{}, fromFsbufErr(ferr)
	}
	if cur != nil {
		start, end = cur.Start, cur.End
	}

	if maxCount <= 0 {
		maxCount = 1 << 30
	}
	var results []SearchResult
	cursor := start
	for cursor < end && len(results) < maxCount {
		batch := maxCount - len(results)
		if batch > searchBatchSize {
			batch = searchBatchSize
		}
		offs, next, ferr := e.buffer.SearchFiles(cursor, end, make([]uint32, 0, batch), match, deadlineProgress(deadline))
		if ferr != nil {
			return nil, Cursor{}, fromFsbufErr(ferr)
		}
		for _, off := range offs {
			p, perr := e.buffer.GetPathByNameOff(off)
			if perr != nil {
				continue
			}
			results = append(results, SearchResult{Path: translateRoot(p, bufferRoot, mount)})
		}
		if next == cursor {
			break
		}
		cursor = next
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
	}

	if m.metrics != nil {
		m.metrics.SearchesTotal.Inc()
	}
	return results, Cursor{Start: cursor, End: end}, nil
}

func deadlineProgress(deadline time.Time) fsbuf.ProgressFunc {
	if deadline.IsZero() {
		return nil
	}
	return func() bool { return time.Now().After(deadline) }
}

func compareFunc(pattern string, regex bool) (fsbuf.CompareFunc, error) {
	if regex {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, err
		}
		return func(name []byte) bool { return re.Match(name) }, nil
	}
	needle := asciiLower([]byte(pattern))
	return func(name []byte) bool {
		return bytes.Contains(asciiLower(name), needle)
	}, nil
}

// asciiLower returns a copy of b with 'A'-'Z' folded to 'a'-'z'; every
// other byte, including non-ASCII ones, is left as it is.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

// InsertFile, RemoveFile, and RenameFile apply a live change event to
// whichever buffer owns the affected path, marking it dirty.

func (m *Manager) InsertFile(fullPath string, isDir bool) error {
	e, canon, err := m.entryForMutation(fullPath)
	if err != nil {
		return err
	}
	if _, ferr := e.buffer.InsertPath(canon, isDir); ferr != nil {
		return fromFsbufErr(ferr)
	}
	m.markDirty(e)
	m.countChange("insert")
	return nil
}

func (m *Manager) RemoveFile(fullPath string) error {
	e, canon, err := m.entryForMutation(fullPath)
	if err != nil {
		return err
	}
	if _, ferr := e.buffer.RemovePath(canon); ferr != nil {
		return fromFsbufErr(ferr)
	}
	m.markDirty(e)
	m.countChange("remove")
	return nil
}

func (m *Manager) RenameFile(oldPath, newPath string) error {
	e, oldCanon, err := m.entryForMutation(oldPath)
	if err != nil {
		return err
	}
	e2, newCanon, err := m.entryForMutation(newPath)
	if err != nil {
		return err
	}
	if e != e2 {
		return newErr(KindInvalidArgs, "cross-buffer rename is not supported: "+oldPath+" -> "+newPath)
	}
	if _, ferr := e.buffer.RenamePath(oldCanon, newCanon); ferr != nil {
		return fromFsbufErr(ferr)
	}
	m.markDirty(e)
	m.countChange("rename")
	return nil
}

func (m *Manager) countChange(kind string) {
	if m.metrics != nil {
		m.metrics.ChangesApplied.WithLabelValues(kind).Inc()
	}
}

// entryForMutation finds the buffer whose root (or one of its aliases)
// covers path, and returns that path rewritten relative to the buffer's
// own root path, so a change event observed through a bind-mounted alias
// reaches the same buffer, and the same records, a change on the
// canonical root would. This is the same upward-walk buffer lookup Search
// uses for queries.
func (m *Manager) entryForMutation(fullPath string) (e *entry, canonical string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, mount := m.resolveQueryLocked(fullPath)
	if e == nil {
		return nil, "", newErr(KindNotFound, "no index covers: "+fullPath)
	}
	return e, translateRoot(fullPath, mount, e.buffer.RootPath()), nil
}

func hasPathPrefix(path, root string) bool {
	if root == "/" {
		return true
	}
	return len(path) > len(root) && path[:len(root)] == root && path[len(root)] == '/'
}

func (m *Manager) markDirty(e *entry) {
	m.mu.Lock()
	e.dirty = true
	m.mu.Unlock()
}
