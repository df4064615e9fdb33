package fsbuf

// ChangeKind classifies a mutation notification emitted by InsertPath,
// RemovePath, or RenamePath (the "fs_change" records of spec.md §4.1).
type ChangeKind int

const (
	// ChangeInsert records a newly inserted file or directory.
	ChangeInsert ChangeKind = iota
	// ChangeRemove records a removed file or directory.
	ChangeRemove
	// ChangeRename records any successful RenamePath, including one that
	// moves the entry to another directory or to another sibling
	// position; such a move is reported as this single record, not as a
	// ChangeRemove/ChangeInsert pair.
	ChangeRename
)

// Change is one record of a buffer mutation.
type Change struct {
	Kind    ChangeKind
	Path    string
	NewPath string // only meaningful for ChangeRename
	IsDir   bool
}
