package wad

import "fmt"

// Magic is the signature at offset 0 of every supported archive ("AGAR")
var Magic = [4]byte{'A', 'G', 'A', 'R'}

const (
	// ReservedSize is the length of the header region following the magic.
	// Its contents are never interpreted.
	ReservedSize = 12

	// FlatEntryUnusedSize is the width of each of the two unused fields
	// that follow length and offset in a flat index entry.
	FlatEntryUnusedSize = 4
)

// EntryKind is the type tag stored after each child name in the folder table.
type EntryKind uint8

const (
	// EntryKindFile (0x00) marks a child that carries a payload located
	// through the flat index.
	EntryKindFile EntryKind = iota
	// EntryKindFolder (0x01) marks a child that is a directory. It has no
	// payload and no nested children in the table it appears in.
	EntryKindFolder
)

func (k EntryKind) String() string {
	switch k {
	case EntryKindFile:
		return "file"
	case EntryKindFolder:
		return "folder"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(k))
	}
}

// Valid reports whether k is one of the known tags.
func (k EntryKind) Valid() bool {
	return k == EntryKindFile || k == EntryKindFolder
}
