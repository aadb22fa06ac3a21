// Package wadtest builds synthetic AGAR archives for tests.
package wadtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/ossyrian/wadextract/internal/wad"
)

// Builder assembles an archive in memory. The zero value is not usable;
// call New.
type Builder struct {
	magic       [4]byte
	reserved    [wad.ReservedSize]byte
	entries     []wad.FlatEntry
	folders     []wad.Folder
	data        []byte
	fileCount   *int32
	folderCount *int32
}

// New returns a builder with the AGAR magic and an empty data section.
func New() *Builder {
	return &Builder{magic: wad.Magic}
}

// File returns a FILE child.
func File(name string) wad.Child { return wad.Child{Name: name, Kind: wad.EntryKindFile} }

// Dir returns a FOLDER child.
func Dir(name string) wad.Child { return wad.Child{Name: name, Kind: wad.EntryKindFolder} }

// WithMagic overrides the 4 magic bytes.
func (b *Builder) WithMagic(m string) *Builder {
	copy(b.magic[:], m)
	return b
}

// WithReserved sets the reserved header bytes.
func (b *Builder) WithReserved(r []byte) *Builder {
	copy(b.reserved[:], r)
	return b
}

// WithFileCount writes n as the header file count instead of the number
// of entries added.
func (b *Builder) WithFileCount(n int32) *Builder {
	b.fileCount = &n
	return b
}

// WithFolderCount writes n as the folder count instead of the number of
// folders added.
func (b *Builder) WithFolderCount(n int32) *Builder {
	b.folderCount = &n
	return b
}

// AddFile appends payload to the data section and indexes it under path.
func (b *Builder) AddFile(path string, payload []byte) *Builder {
	b.entries = append(b.entries, wad.FlatEntry{
		Path:   path,
		Length: int32(len(payload)),
		Offset: int32(len(b.data)),
	})
	b.data = append(b.data, payload...)
	return b
}

// AddEntry appends a raw flat index entry without touching the data section.
func (b *Builder) AddEntry(e wad.FlatEntry) *Builder {
	b.entries = append(b.entries, e)
	return b
}

// AppendData appends bytes to the data section without indexing them.
func (b *Builder) AppendData(p []byte) *Builder {
	b.data = append(b.data, p...)
	return b
}

// AddFolder appends a folder table record.
func (b *Builder) AddFolder(name string, children ...wad.Child) *Builder {
	b.folders = append(b.folders, wad.Folder{Name: name, Children: children})
	return b
}

// Entries returns the flat entries added so far.
func (b *Builder) Entries() []wad.FlatEntry { return b.entries }

// Folders returns the folder records added so far.
func (b *Builder) Folders() []wad.Folder { return b.folders }

// Data returns the data section.
func (b *Builder) Data() []byte { return b.data }

// TablesSize returns the encoded size of header and both tables, which is
// the base offset of the data section.
func (b *Builder) TablesSize() int64 {
	return int64(len(b.Bytes()) - len(b.data))
}

// Bytes encodes the archive.
func (b *Builder) Bytes() []byte {
	buf := new(bytes.Buffer)

	buf.Write(b.magic[:])
	buf.Write(b.reserved[:])

	fileCount := int32(len(b.entries))
	if b.fileCount != nil {
		fileCount = *b.fileCount
	}
	binary.Write(buf, binary.LittleEndian, fileCount)

	unused := make([]byte, wad.FlatEntryUnusedSize)
	for _, e := range b.entries {
		PutString(buf, e.Path)
		binary.Write(buf, binary.LittleEndian, e.Length)
		buf.Write(unused)
		binary.Write(buf, binary.LittleEndian, e.Offset)
		buf.Write(unused)
	}

	folderCount := int32(len(b.folders))
	if b.folderCount != nil {
		folderCount = *b.folderCount
	}
	binary.Write(buf, binary.LittleEndian, folderCount)

	for _, f := range b.folders {
		PutString(buf, f.Name)
		binary.Write(buf, binary.LittleEndian, int32(len(f.Children)))
		for _, c := range f.Children {
			PutString(buf, c.Name)
			buf.WriteByte(byte(c.Kind))
		}
	}

	buf.Write(b.data)
	return buf.Bytes()
}

// PutString writes s with its int32 little-endian byte count.
func PutString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, int32(len(s)))
	buf.WriteString(s)
}

// WriteFile writes the archive to dir/name and returns the full path.
func (b *Builder) WriteFile(t testing.TB, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write archive fixture: %v", err)
	}
	return path
}
