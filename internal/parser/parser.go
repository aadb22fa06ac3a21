package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ossyrian/wadextract/internal/wad"
)

// WadReader decodes the header and both tables of a WAD archive.
// All reads go through a single cursor, strictly in stream order.
type WadReader struct {
	cursor *wad.Cursor
	logger *slog.Logger
	header *wad.Header // set by ReadHeader
}

// NewWadReader wraps rs. A nil logger discards all output.
func NewWadReader(rs io.ReadSeeker, logger *slog.Logger) (*WadReader, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cursor, err := wad.NewCursor(rs)
	if err != nil {
		return nil, err
	}

	return &WadReader{
		cursor: cursor,
		logger: logger,
	}, nil
}

// Cursor exposes the underlying cursor, positioned wherever the last
// decode step left it.
func (r *WadReader) Cursor() *wad.Cursor { return r.cursor }

// ReadHeader reads header information from offset 0.
// This function reads 20 bytes and fails with wad.ErrUnsupportedFormat
// if the first 4 are not magic (wad.Magic).
func (r *WadReader) ReadHeader() (*wad.Header, error) {
	if err := r.cursor.SeekAbsolute(0); err != nil {
		return nil, err
	}

	h := &wad.Header{}

	magic, err := r.cursor.ReadBytes(len(h.Magic))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read magic: %w", wad.ErrUnsupportedFormat, err)
	}
	copy(h.Magic[:], magic)
	if h.Magic != wad.Magic {
		return nil, fmt.Errorf("%w: expected magic %q, got %q",
			wad.ErrUnsupportedFormat, wad.Magic[:], h.Magic[:])
	}

	reserved, err := r.cursor.ReadBytes(wad.ReservedSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read reserved header: %w", err)
	}
	copy(h.Reserved[:], reserved)

	h.FileCount, err = r.cursor.ReadI32LE()
	if err != nil {
		return nil, fmt.Errorf("failed to read file count: %w", err)
	}
	if h.FileCount < 0 {
		return nil, fmt.Errorf("%w: negative file count %d", wad.ErrMalformedArchive, h.FileCount)
	}

	r.logger.Info("header is valid",
		"magic", string(h.Magic[:]),
		"file_count", h.FileCount,
		"reserved", fmt.Sprintf("% x", h.Reserved),
	)

	r.header = h
	return h, nil
}

// ReadFlatEntry reads one flat index record.
func (r *WadReader) ReadFlatEntry() (wad.FlatEntry, error) {
	var (
		e   wad.FlatEntry
		err error
	)

	e.Path, err = r.cursor.ReadString()
	if err != nil {
		return e, fmt.Errorf("failed to read path: %w", err)
	}

	e.Length, err = r.cursor.ReadI32LE()
	if err != nil {
		return e, fmt.Errorf("failed to read length for %s: %w", e.Path, err)
	}
	if e.Length < 0 {
		return e, fmt.Errorf("%w: negative length %d for %s", wad.ErrMalformedArchive, e.Length, e.Path)
	}

	if err := r.cursor.SeekRelative(wad.FlatEntryUnusedSize); err != nil {
		return e, fmt.Errorf("failed to skip unused field for %s: %w", e.Path, err)
	}

	e.Offset, err = r.cursor.ReadI32LE()
	if err != nil {
		return e, fmt.Errorf("failed to read offset for %s: %w", e.Path, err)
	}
	if e.Offset < 0 {
		return e, fmt.Errorf("%w: negative offset %d for %s", wad.ErrMalformedArchive, e.Offset, e.Path)
	}

	if err := r.cursor.SeekRelative(wad.FlatEntryUnusedSize); err != nil {
		return e, fmt.Errorf("failed to skip unused field for %s: %w", e.Path, err)
	}

	return e, nil
}

// ReadFlatIndex reads fileCount flat index records in stream order, then
// the folder count that immediately follows the table.
func (r *WadReader) ReadFlatIndex(fileCount int32) ([]wad.FlatEntry, int32, error) {
	if fileCount < 0 {
		return nil, 0, fmt.Errorf("%w: negative file count %d", wad.ErrMalformedArchive, fileCount)
	}

	r.logger.Debug("reading file index",
		"file_count", fileCount,
		"offset", r.cursor.Position(),
	)

	entries := make([]wad.FlatEntry, 0, min(int(fileCount), 1<<16))
	for i := 0; i < int(fileCount); i++ {
		e, err := r.ReadFlatEntry()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read file entry %d: %w", i, err)
		}
		entries = append(entries, e)

		r.logger.Debug("read file entry",
			"index", i,
			"path", e.Path,
			"length", e.Length,
			"offset", e.Offset,
		)
	}

	folderCount, err := r.cursor.ReadI32LE()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read folder count: %w", err)
	}
	if folderCount < 0 {
		return nil, 0, fmt.Errorf("%w: negative folder count %d", wad.ErrMalformedArchive, folderCount)
	}

	r.logger.Info("read file index",
		"file_count", len(entries),
		"folder_count", folderCount,
	)

	return entries, folderCount, nil
}

// ReadFolder reads one folder record and its children.
// A zero-length name denotes the root folder and may appear at any index.
func (r *WadReader) ReadFolder() (wad.Folder, error) {
	var (
		f   wad.Folder
		err error
	)

	f.Name, err = r.cursor.ReadString()
	if err != nil {
		return f, fmt.Errorf("failed to read folder name: %w", err)
	}

	childCount, err := r.cursor.ReadI32LE()
	if err != nil {
		return f, fmt.Errorf("failed to read child count for %q: %w", f.Name, err)
	}
	if childCount < 0 {
		return f, fmt.Errorf("%w: negative child count %d for %q", wad.ErrMalformedArchive, childCount, f.Name)
	}

	f.Children = make([]wad.Child, 0, min(int(childCount), 1<<12))
	for i := 0; i < int(childCount); i++ {
		var c wad.Child

		c.Name, err = r.cursor.ReadString()
		if err != nil {
			return f, fmt.Errorf("failed to read child %d name in %q: %w", i, f.Name, err)
		}

		tag, err := r.cursor.ReadU8()
		if err != nil {
			return f, fmt.Errorf("failed to read type of %q in %q: %w", c.Name, f.Name, err)
		}
		c.Kind = wad.EntryKind(tag)
		if !c.Kind.Valid() {
			return f, fmt.Errorf("%w: unrecognized file type tag 0x%02X for %q in %q",
				wad.ErrMalformedArchive, tag, c.Name, f.Name)
		}

		f.Children = append(f.Children, c)
	}

	return f, nil
}

// ReadTree reads folderCount folder records in stream order.
func (r *WadReader) ReadTree(folderCount int32) ([]wad.Folder, error) {
	if folderCount < 0 {
		return nil, fmt.Errorf("%w: negative folder count %d", wad.ErrMalformedArchive, folderCount)
	}

	folders := make([]wad.Folder, 0, min(int(folderCount), 1<<16))
	for i := 0; i < int(folderCount); i++ {
		f, err := r.ReadFolder()
		if err != nil {
			return nil, fmt.Errorf("failed to read folder %d: %w", i, err)
		}
		folders = append(folders, f)

		r.logger.Debug("read folder",
			"index", i,
			"name", f.Name,
			"children", len(f.Children),
		)
	}

	r.logger.Info("read folder table",
		"folder_count", len(folders),
	)

	return folders, nil
}

// Parse decodes the header, the flat index and the folder table, and
// records where the data section begins.
func (r *WadReader) Parse(ctx context.Context) (*wad.Archive, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return nil, err
	}

	entries, folderCount, err := r.ReadFlatIndex(h.FileCount)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	folders, err := r.ReadTree(folderCount)
	if err != nil {
		return nil, err
	}

	a := &wad.Archive{
		Header:     *h,
		Entries:    entries,
		Folders:    folders,
		BaseOffset: r.cursor.Position(),
		Size:       r.cursor.Size(),
	}

	r.logger.Info("parsed archive",
		"files", len(a.Entries),
		"folders", len(a.Folders),
		"base_offset", a.BaseOffset,
		"data_size", a.DataSize(),
	)

	return a, nil
}

// Parse decodes the archive in rs using the default logger enriched with name.
func Parse(ctx context.Context, rs io.ReadSeeker, name string) (*wad.Archive, *WadReader, error) {
	logger := slog.With(
		"file", name,
	)

	logger.Info("starting")

	reader, err := NewWadReader(rs, logger)
	if err != nil {
		return nil, nil, err
	}

	a, err := reader.Parse(ctx)
	if err != nil {
		return nil, nil, err
	}

	return a, reader, nil
}
