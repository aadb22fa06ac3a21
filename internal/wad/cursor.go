package wad

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// cursorBufferSize is the read-ahead used while walking the tables.
const cursorBufferSize = 64 * 1024

// Cursor is a bounds-checked sequential reader over a seekable archive.
// It is not safe for concurrent use.
type Cursor struct {
	rs   io.ReadSeeker
	br   *bufio.Reader
	pos  int64
	size int64
}

// NewCursor wraps rs and positions the cursor at offset 0.
// The stream size is probed once; reads past it fail with ErrMalformedArchive.
func NewCursor(rs io.ReadSeeker) (*Cursor, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to determine archive size: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind archive: %w", err)
	}

	return &Cursor{
		rs:   rs,
		br:   bufio.NewReaderSize(rs, cursorBufferSize),
		size: size,
	}, nil
}

// Position returns the absolute offset of the next byte to be read.
func (c *Cursor) Position() int64 { return c.pos }

// Size returns the total stream size.
func (c *Cursor) Size() int64 { return c.size }

// Remaining returns the number of bytes between Position and Size.
func (c *Cursor) Remaining() int64 { return c.size - c.pos }

// require fails before any read that would cross the end of the stream.
func (c *Cursor) require(n int64) error {
	if n < 0 || n > c.Remaining() {
		return fmt.Errorf("%w: need %d bytes at offset %d, %d remaining",
			ErrMalformedArchive, n, c.pos, c.Remaining())
	}
	return nil
}

// ReadBytes reads exactly n bytes.
func (c *Cursor) ReadBytes(n int) ([]byte, error) {
	if err := c.require(int64(n)); err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at offset %d: %w", n, c.pos, err)
	}
	c.pos += int64(n)
	return buf, nil
}

// ReadU8 reads a single byte.
func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.require(1); err != nil {
		return 0, err
	}

	b, err := c.br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("failed to read byte at offset %d: %w", c.pos, err)
	}
	c.pos++
	return b, nil
}

// ReadU32LE reads a little-endian uint32.
func (c *Cursor) ReadU32LE() (uint32, error) {
	b, err := c.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadI32LE reads a little-endian int32.
func (c *Cursor) ReadI32LE() (int32, error) {
	v, err := c.ReadU32LE()
	return int32(v), err
}

// ReadString reads an int32 byte count followed by that many bytes of
// UTF-8. Invalid sequences are replaced with U+FFFD rather than failing.
// A zero count yields "" and consumes nothing past the prefix.
func (c *Cursor) ReadString() (string, error) {
	start := c.pos

	length, err := c.ReadI32LE()
	if err != nil {
		return "", fmt.Errorf("failed to read string length: %w", err)
	}
	if length < 0 {
		return "", fmt.Errorf("%w: negative string length %d at offset %d",
			ErrMalformedArchive, length, start)
	}
	if length == 0 {
		return "", nil
	}

	raw, err := c.ReadBytes(int(length))
	if err != nil {
		return "", fmt.Errorf("failed to read string data: %w", err)
	}

	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode string at offset %d: %w", start, err)
	}
	return string(decoded), nil
}

// SeekAbsolute moves the cursor to pos.
func (c *Cursor) SeekAbsolute(pos int64) error {
	if pos < 0 || pos > c.size {
		return fmt.Errorf("%w: seek to %d outside archive of %d bytes",
			ErrMalformedArchive, pos, c.size)
	}
	if pos == c.pos {
		return nil
	}

	// stay inside the read-ahead buffer for short forward skips
	if delta := pos - c.pos; delta > 0 && delta <= int64(c.br.Buffered()) {
		if _, err := c.br.Discard(int(delta)); err != nil {
			return fmt.Errorf("failed to skip %d bytes: %w", delta, err)
		}
		c.pos = pos
		return nil
	}

	if _, err := c.rs.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to offset %d: %w", pos, err)
	}
	c.br.Reset(c.rs)
	c.pos = pos
	return nil
}

// SeekRelative moves the cursor by delta bytes from its current position.
func (c *Cursor) SeekRelative(delta int64) error {
	return c.SeekAbsolute(c.pos + delta)
}

// CopyN copies exactly n bytes from the current position to w.
func (c *Cursor) CopyN(w io.Writer, n int64) (int64, error) {
	if err := c.require(n); err != nil {
		return 0, err
	}

	written, err := io.CopyN(w, c.br, n)
	c.pos += written
	if err != nil {
		return written, fmt.Errorf("failed to copy %d bytes at offset %d: %w", n, c.pos-written, err)
	}
	return written, nil
}
