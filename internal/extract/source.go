package extract

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// concurrentReaderAt returns src as an io.ReaderAt when its ReadAt is
// known to be safe for concurrent callers, or nil.
func concurrentReaderAt(src io.ReadSeeker) io.ReaderAt {
	switch v := src.(type) {
	case *os.File:
		return v
	case *bytes.Reader:
		return v
	case *strings.Reader:
		return v
	default:
		return nil
	}
}

// handlePool serves ReadAt from independently opened handles of one
// archive, so concurrent readers never share a file offset.
type handlePool struct {
	fs   afero.Fs
	path string

	mu   sync.Mutex
	free []afero.File
	all  []afero.File
}

func newHandlePool(fs afero.Fs, path string) *handlePool {
	return &handlePool{fs: fs, path: path}
}

func (h *handlePool) ReadAt(p []byte, off int64) (int, error) {
	f, err := h.get()
	if err != nil {
		return 0, err
	}
	defer h.put(f)

	return f.ReadAt(p, off)
}

func (h *handlePool) get() (afero.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.free); n > 0 {
		f := h.free[n-1]
		h.free = h.free[:n-1]
		return f, nil
	}

	f, err := h.fs.Open(h.path)
	if err != nil {
		return nil, err
	}
	h.all = append(h.all, f)
	return f, nil
}

func (h *handlePool) put(f afero.File) {
	h.mu.Lock()
	h.free = append(h.free, f)
	h.mu.Unlock()
}

// Close closes every handle the pool opened.
func (h *handlePool) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for _, f := range h.all {
		errs = append(errs, f.Close())
	}
	h.all, h.free = nil, nil
	return errors.Join(errs...)
}
