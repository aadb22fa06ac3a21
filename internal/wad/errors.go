package wad

import "errors"

// Sentinel errors for archive decoding and extraction. Match with errors.Is.
var (
	// ErrUnsupportedFormat means the magic bytes are not "AGAR".
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrMalformedArchive means a table is inconsistent: negative length or
	// count, unknown type tag, or a read past the end of the stream.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrMissingIndexEntry means a folder table entry has no flat index path.
	ErrMissingIndexEntry = errors.New("entry not found in file index")
	// ErrFilesystem means a destination directory or file could not be written.
	ErrFilesystem = errors.New("filesystem error")
	// ErrUnsafePath means an entry would resolve outside the destination root.
	ErrUnsafePath = errors.New("unsafe entry path")
)
