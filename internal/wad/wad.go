package wad

// Header is the fixed header at the start of a WAD archive.
type Header struct {
	Magic     [4]byte            // "AGAR" for valid archives
	Reserved  [ReservedSize]byte // unknown, kept only for diagnostics
	FileCount int32              // number of flat index entries
}

// FlatEntry is one record of the flat file index, the only table that
// knows where payload bytes live.
type FlatEntry struct {
	Path   string // archive-relative path as stored
	Length int32  // payload size in bytes
	Offset int32  // relative to Archive.BaseOffset, NOT absolute
}

// Folder is one record of the folder table. Folders are a flat list;
// nesting exists only through the names joined at extraction time.
type Folder struct {
	Name     string // empty for the root folder
	Children []Child
}

// Child is a named entry inside a Folder.
type Child struct {
	Name string
	Kind EntryKind
}

// Archive is a fully decoded WAD table set. Both tables are read-only
// after decoding.
type Archive struct {
	Header  Header
	Entries []FlatEntry
	Folders []Folder

	// BaseOffset is the stream position right after the folder table.
	// Every FlatEntry.Offset is relative to it.
	BaseOffset int64
	// Size is the total archive size in bytes.
	Size int64
}

// FileCount returns the number of FILE children across all folders.
func (a *Archive) FileCount() int {
	n := 0
	for _, f := range a.Folders {
		for _, c := range f.Children {
			if c.Kind == EntryKindFile {
				n++
			}
		}
	}
	return n
}

// DataSize returns the number of bytes between BaseOffset and the end of
// the archive.
func (a *Archive) DataSize() int64 {
	if a.Size < a.BaseOffset {
		return 0
	}
	return a.Size - a.BaseOffset
}
