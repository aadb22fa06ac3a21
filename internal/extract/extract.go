package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/ossyrian/wadextract/internal/parser"
	"github.com/ossyrian/wadextract/internal/progress"
	"github.com/ossyrian/wadextract/internal/wad"
)

const (
	dirMode  os.FileMode = 0o755
	fileMode os.FileMode = 0o644
)

// Options control an extraction run.
type Options struct {
	// Workers above 1 extract files concurrently when the archive source
	// supports io.ReaderAt. Otherwise files are copied one at a time
	// through the shared cursor.
	Workers int
	// DryRun reconciles the tables and reports what would be written
	// without touching the filesystem.
	DryRun bool
	// KeepGoing turns per-file filesystem errors into skips.
	KeepGoing bool
	// Include and Exclude are gitignore-style patterns on archive paths.
	Include []string
	Exclude []string

	Reporter progress.Reporter
	Logger   *slog.Logger
}

// SkippedEntry is a file that was not extracted.
type SkippedEntry struct {
	Path string
	Err  error
}

// Summary describes a finished extraction.
type Summary struct {
	Folders  int   // directories created or already present
	Files    int   // files written
	Bytes    int64 // payload bytes written
	Filtered int   // files left out by Include/Exclude
	Skipped  []SkippedEntry
}

// Extractor writes archive contents to a filesystem. It runs one
// extraction at a time.
type Extractor struct {
	fs       afero.Fs
	opts     Options
	filter   *filter
	reporter progress.Reporter
	logger   *slog.Logger

	mu      sync.Mutex
	summary *Summary
}

// New returns an Extractor writing to fs.
func New(fs afero.Fs, opts Options) (*Extractor, error) {
	f, err := newFilter(opts.Include, opts.Exclude)
	if err != nil {
		return nil, err
	}

	x := &Extractor{
		fs:       fs,
		opts:     opts,
		filter:   f,
		reporter: opts.Reporter,
		logger:   opts.Logger,
	}
	if x.reporter == nil {
		x.reporter = progress.Nop{}
	}
	if x.logger == nil {
		x.logger = slog.Default()
	}
	if x.opts.Workers < 1 {
		x.opts.Workers = 1
	}

	return x, nil
}

// ExtractFile opens archivePath on the extractor's filesystem, decodes it
// and extracts it under destRoot.
func (x *Extractor) ExtractFile(ctx context.Context, archivePath, destRoot string) (*Summary, error) {
	f, err := x.fs.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	reader, err := parser.NewWadReader(f, x.logger.With("file", archivePath))
	if err != nil {
		return nil, err
	}

	archive, err := reader.Parse(ctx)
	if err != nil {
		return nil, err
	}

	if x.opts.Workers > 1 {
		handles := newHandlePool(x.fs, archivePath)
		defer handles.Close()

		return x.extract(ctx, f, handles, archive, destRoot)
	}

	return x.extract(ctx, f, nil, archive, destRoot)
}

// Extract writes every file of archive, read from src, under destRoot.
// archive must have been decoded from src.
//
// Missing index entries and unsafe names are skipped and listed in the
// summary. Malformed payload locations and I/O errors abort the run, as do
// filesystem errors unless KeepGoing is set.
//
// Files are copied concurrently only when Workers > 1 and src is an
// *os.File or an in-memory reader; any other source goes through a single
// cursor.
func (x *Extractor) Extract(ctx context.Context, src io.ReadSeeker, archive *wad.Archive, destRoot string) (*Summary, error) {
	return x.extract(ctx, src, concurrentReaderAt(src), archive, destRoot)
}

// extract runs the plan serially over src, or on the worker pool over ra
// when it is non-nil.
func (x *Extractor) extract(ctx context.Context, src io.ReadSeeker, ra io.ReaderAt, archive *wad.Archive, destRoot string) (*Summary, error) {
	idx := wad.NewIndex(archive.Entries)
	for _, dup := range idx.Duplicates() {
		x.logger.Warn("duplicate path in file index, first entry wins", "path", dup)
	}

	p := buildPlan(archive, idx, x.filter)

	x.summary = &Summary{Filtered: p.filtered}
	x.reporter.Start(p.progress())
	defer x.reporter.Finish()

	x.logger.Info("reconciled tables",
		"folders", p.folders,
		"files", p.files,
		"filtered", p.filtered,
		"dest", destRoot,
		"dry_run", x.opts.DryRun,
	)

	var err error
	switch {
	case x.opts.DryRun:
		err = x.dryRun(p)
	case x.opts.Workers > 1 && ra != nil:
		err = x.runParallel(ctx, ra, archive, p, destRoot)
	default:
		err = x.runSerial(ctx, src, archive, p, destRoot)
	}
	if err != nil {
		return nil, err
	}

	return x.summary, nil
}

func (x *Extractor) dryRun(p *plan) error {
	for _, s := range p.steps {
		switch s.kind {
		case stepDir:
			x.folderDone(s.rel)
		case stepFile:
			x.fileDone(s.key, int64(s.entry.Length))
		case stepSkip:
			x.skip(s.key, s.err)
		}
	}
	return nil
}

// runSerial processes steps in folder table order through one cursor,
// returning it to the base offset after every file.
func (x *Extractor) runSerial(ctx context.Context, src io.ReadSeeker, a *wad.Archive, p *plan, destRoot string) error {
	c, err := wad.NewCursor(src)
	if err != nil {
		return err
	}
	if err := c.SeekAbsolute(a.BaseOffset); err != nil {
		return err
	}

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.kind {
		case stepDir:
			if err := x.mkdir(destRoot, s.rel); err != nil {
				return err
			}
		case stepSkip:
			x.skip(s.key, s.err)
		case stepFile:
			err := x.writeFile(a, destRoot, s, func(w io.Writer) (int64, error) {
				if err := c.SeekAbsolute(a.BaseOffset + int64(s.entry.Offset)); err != nil {
					return 0, err
				}
				return c.CopyN(w, int64(s.entry.Length))
			})
			if err := x.handleFileErr(s, err); err != nil {
				return err
			}
			if err := c.SeekAbsolute(a.BaseOffset); err != nil {
				return err
			}
		}
	}

	return nil
}

// runParallel creates every directory first, then copies files on a
// bounded pool, each through its own section of ra.
func (x *Extractor) runParallel(ctx context.Context, ra io.ReaderAt, a *wad.Archive, p *plan, destRoot string) error {
	for _, s := range p.steps {
		switch s.kind {
		case stepDir:
			if err := x.mkdir(destRoot, s.rel); err != nil {
				return err
			}
		case stepSkip:
			x.skip(s.key, s.err)
		}
	}

	wp := pool.New().
		WithMaxGoroutines(x.opts.Workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, s := range p.steps {
		if s.kind != stepFile {
			continue
		}

		wp.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			err := x.writeFile(a, destRoot, s, func(w io.Writer) (int64, error) {
				section := io.NewSectionReader(ra, a.BaseOffset+int64(s.entry.Offset), int64(s.entry.Length))
				return io.Copy(w, section)
			})
			return x.handleFileErr(s, err)
		})
	}

	return wp.Wait()
}

func (x *Extractor) mkdir(destRoot, rel string) error {
	dir := filepath.Join(destRoot, rel)
	if err := x.fs.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: cannot create folder %s: %w", wad.ErrFilesystem, dir, err)
	}
	x.folderDone(rel)
	return nil
}

// writeFile creates (or truncates) the destination of s and fills it with
// exactly s.entry.Length bytes produced by copyPayload.
func (x *Extractor) writeFile(a *wad.Archive, destRoot string, s step, copyPayload func(io.Writer) (int64, error)) error {
	end := int64(s.entry.Offset) + int64(s.entry.Length)
	if end > a.DataSize() {
		return fmt.Errorf("%w: %s spans [%d, %d) past data section of %d bytes",
			wad.ErrMalformedArchive, s.key, s.entry.Offset, end, a.DataSize())
	}

	dest := filepath.Join(destRoot, s.rel)
	if err := x.fs.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return fmt.Errorf("%w: cannot create folder for %s: %w", wad.ErrFilesystem, dest, err)
	}

	out, err := x.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("%w: cannot create %s: %w", wad.ErrFilesystem, dest, err)
	}

	w := &trackingWriter{w: out}
	n, copyErr := copyPayload(w)
	closeErr := out.Close()

	switch {
	case w.err != nil:
		return fmt.Errorf("%w: cannot write %s: %w", wad.ErrFilesystem, dest, w.err)
	case copyErr != nil:
		return fmt.Errorf("failed to read %s: %w", s.key, copyErr)
	case n != int64(s.entry.Length):
		return fmt.Errorf("%w: %s: read %d of %d bytes", wad.ErrMalformedArchive, s.key, n, s.entry.Length)
	case closeErr != nil:
		return fmt.Errorf("%w: cannot close %s: %w", wad.ErrFilesystem, dest, closeErr)
	}

	x.fileDone(s.key, n)
	return nil
}

// handleFileErr downgrades filesystem errors to skips under KeepGoing.
func (x *Extractor) handleFileErr(s step, err error) error {
	if err == nil {
		return nil
	}
	if x.opts.KeepGoing && errors.Is(err, wad.ErrFilesystem) {
		x.skip(s.key, err)
		return nil
	}
	return err
}

func (x *Extractor) folderDone(rel string) {
	x.mu.Lock()
	x.summary.Folders++
	x.mu.Unlock()

	x.reporter.FolderCreated(filepath.ToSlash(rel))
}

func (x *Extractor) fileDone(key string, n int64) {
	x.mu.Lock()
	x.summary.Files++
	x.summary.Bytes += n
	x.mu.Unlock()

	x.reporter.FileExtracted(key, n)
}

func (x *Extractor) skip(key string, err error) {
	x.mu.Lock()
	x.summary.Skipped = append(x.summary.Skipped, SkippedEntry{Path: key, Err: err})
	x.mu.Unlock()

	x.logger.Warn("attempted to fetch item but could not extract it", "path", key, "error", err)
	x.reporter.FileSkipped(key, err)
}

// trackingWriter remembers the first write error so that destination
// failures can be told apart from archive read failures.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}
	return n, err
}
