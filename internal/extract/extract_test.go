package extract_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/ossyrian/wadextract/internal/extract"
	"github.com/ossyrian/wadextract/internal/parser"
	"github.com/ossyrian/wadextract/internal/progress"
	"github.com/ossyrian/wadextract/internal/wad"
	"github.com/ossyrian/wadextract/internal/wad/wadtest"
)

const destRoot = "/out"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// run writes b to an in-memory filesystem and extracts it to destRoot.
func run(t *testing.T, fs afero.Fs, b *wadtest.Builder, opts extract.Options) (*extract.Summary, error) {
	t.Helper()

	if err := afero.WriteFile(fs, "/game.wad", b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}

	x, err := extract.New(fs, opts)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return x.ExtractFile(context.Background(), "/game.wad", destRoot)
}

func readOut(t *testing.T, fs afero.Fs, rel string) string {
	t.Helper()

	got, err := afero.ReadFile(fs, filepath.Join(destRoot, rel))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(got)
}

func assertNotExist(t *testing.T, fs afero.Fs, rel string) {
	t.Helper()

	if _, err := fs.Stat(filepath.Join(destRoot, rel)); !os.IsNotExist(err) {
		t.Errorf("%s exists (stat error %v), want absent", rel, err)
	}
}

func TestExtract_Example(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := wadtest.New().
		AddFile("a/b.txt", []byte("Hello")).
		AddFolder("a", wadtest.File("b.txt"))

	sum, err := run(t, fs, b, extract.Options{})
	if err != nil {
		t.Fatalf("ExtractFile() failed: %v", err)
	}

	if got := readOut(t, fs, "a/b.txt"); got != "Hello" {
		t.Errorf("a/b.txt = %q, want %q", got, "Hello")
	}
	if sum.Files != 1 || sum.Bytes != 5 || len(sum.Skipped) != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

// buildGameArchive returns an archive with files spread over the root,
// nested folders and a folder marker, with the root folder not first.
func buildGameArchive() (*wadtest.Builder, map[string]string) {
	files := map[string]string{
		"boot.bin":             "\x00\x01\x02\x03",
		"gfx/title.png":        strings.Repeat("P", 300),
		"gfx/ui/cursor.png":    "cursor",
		"snd/bgm/theme.ogg":    strings.Repeat("OggS", 1000),
		"snd/se/click.wav":     "",
		"script/chapter1.lin":  "line 1\nline 2\n",
		"script/chapter2.lin":  "line 3\n",
		"gfx/ui/font/font.dat": "glyphs",
	}

	// data section order deliberately differs from the folder table
	b := wadtest.New()
	for _, path := range []string{
		"snd/se/click.wav", "gfx/ui/font/font.dat", "script/chapter2.lin", "gfx/title.png",
		"boot.bin", "snd/bgm/theme.ogg", "gfx/ui/cursor.png", "script/chapter1.lin",
	} {
		b.AddFile(path, []byte(files[path]))
	}

	b.AddFolder("gfx", wadtest.File("title.png"), wadtest.Dir("ui")).
		AddFolder(`gfx\ui`, wadtest.File("cursor.png"), wadtest.Dir("font")).
		AddFolder("", wadtest.File("boot.bin"), wadtest.Dir("gfx"), wadtest.Dir("snd"), wadtest.Dir("script"), wadtest.Dir("movie")).
		AddFolder("gfx/ui/font", wadtest.File("font.dat")).
		AddFolder("snd", wadtest.Dir("bgm"), wadtest.Dir("se")).
		AddFolder("snd/bgm", wadtest.File("theme.ogg")).
		AddFolder("snd/se", wadtest.File("click.wav")).
		AddFolder("script", wadtest.File("chapter1.lin"), wadtest.File("chapter2.lin"))

	return b, files
}

func TestExtract_RoundTrip(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			fs := afero.NewMemMapFs()
			b, files := buildGameArchive()

			sum, err := run(t, fs, b, extract.Options{Workers: workers})
			if err != nil {
				t.Fatalf("ExtractFile() failed: %v", err)
			}

			var total int64
			for path, want := range files {
				if got := readOut(t, fs, path); got != want {
					t.Errorf("%s = %d bytes, want %d", path, len(got), len(want))
				}
				total += int64(len(want))
			}

			for _, e := range b.Entries() {
				info, err := fs.Stat(filepath.Join(destRoot, e.Path))
				if err != nil {
					t.Fatal(err)
				}
				if info.Size() != int64(e.Length) {
					t.Errorf("%s size = %d, want %d", e.Path, info.Size(), e.Length)
				}
				slice := b.Data()[e.Offset : e.Offset+e.Length]
				if got := readOut(t, fs, e.Path); !bytes.Equal([]byte(got), slice) {
					t.Errorf("%s differs from its data section slice", e.Path)
				}
			}

			if sum.Files != len(files) || sum.Bytes != total || len(sum.Skipped) != 0 {
				t.Errorf("summary = %+v, want %d files %d bytes", sum, len(files), total)
			}

			info, err := fs.Stat(filepath.Join(destRoot, "movie"))
			if err != nil || !info.IsDir() {
				t.Errorf("folder marker movie not created as directory: %v", err)
			}
		})
	}
}

func TestExtract_MissingIndexEntryIsSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := wadtest.New().
		AddFile("a/one.txt", []byte("one")).
		AddFile("a/three.txt", []byte("three")).
		AddFolder("a", wadtest.File("one.txt"), wadtest.File("two.txt"), wadtest.File("three.txt"))

	sum, err := run(t, fs, b, extract.Options{})
	if err != nil {
		t.Fatalf("ExtractFile() failed: %v", err)
	}

	if got := readOut(t, fs, "a/one.txt"); got != "one" {
		t.Errorf("a/one.txt = %q", got)
	}
	if got := readOut(t, fs, "a/three.txt"); got != "three" {
		t.Errorf("a/three.txt = %q", got)
	}
	assertNotExist(t, fs, "a/two.txt")

	if len(sum.Skipped) != 1 || sum.Skipped[0].Path != "a/two.txt" ||
		!errors.Is(sum.Skipped[0].Err, wad.ErrMissingIndexEntry) {
		t.Errorf("Skipped = %+v, want a/two.txt missing", sum.Skipped)
	}
}

func TestExtract_FatalDecodeErrorsWriteNothing(t *testing.T) {
	tests := []struct {
		name    string
		builder *wadtest.Builder
		wantErr error
	}{
		{
			name: "bad magic",
			builder: wadtest.New().WithMagic("XXXX").
				AddFile("a/b.txt", []byte("Hello")).
				AddFolder("a", wadtest.File("b.txt")),
			wantErr: wad.ErrUnsupportedFormat,
		},
		{
			name: "unknown type tag",
			builder: wadtest.New().
				AddFile("a/b.txt", []byte("Hello")).
				AddFolder("a", wadtest.File("b.txt"), wad.Child{Name: "c", Kind: 2}),
			wantErr: wad.ErrMalformedArchive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()

			_, err := run(t, fs, tt.builder, extract.Options{})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ExtractFile() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := fs.Stat(destRoot); !os.IsNotExist(err) {
				t.Errorf("destination was created: %v", err)
			}
		})
	}
}

func TestExtract_PayloadPastEnd(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := wadtest.New().
		AddEntry(wad.FlatEntry{Path: "big.bin", Length: 100, Offset: 0}).
		AppendData([]byte("tiny")).
		AddFolder("", wadtest.File("big.bin"))

	_, err := run(t, fs, b, extract.Options{})
	if !errors.Is(err, wad.ErrMalformedArchive) {
		t.Fatalf("ExtractFile() error = %v, want ErrMalformedArchive", err)
	}
	assertNotExist(t, fs, "big.bin")
}

func TestExtract_DryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	b, files := buildGameArchive()

	reporter := progress.NewLogReporter(quietLogger())
	sum, err := run(t, fs, b, extract.Options{DryRun: true, Reporter: reporter})
	if err != nil {
		t.Fatalf("ExtractFile() failed: %v", err)
	}

	if _, err := fs.Stat(destRoot); !os.IsNotExist(err) {
		t.Errorf("dry run created destination: %v", err)
	}
	if sum.Files != len(files) {
		t.Errorf("Files = %d, want %d", sum.Files, len(files))
	}
	if _, n, _, _ := reporter.Counts(); n != int64(len(files)) {
		t.Errorf("reporter saw %d files, want %d", n, len(files))
	}
}

func TestExtract_Filters(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		exclude []string
		want    []string
	}{
		{
			name:    "include by extension",
			include: []string{"*.png"},
			want:    []string{"gfx/title.png", "gfx/ui/cursor.png"},
		},
		{
			name:    "exclude directory",
			exclude: []string{"snd/", "script/"},
			want:    []string{"boot.bin", "gfx/title.png", "gfx/ui/cursor.png", "gfx/ui/font/font.dat"},
		},
		{
			name:    "exclude wins over include",
			include: []string{"*.lin"},
			exclude: []string{"chapter2.lin"},
			want:    []string{"script/chapter1.lin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			b, files := buildGameArchive()

			sum, err := run(t, fs, b, extract.Options{Include: tt.include, Exclude: tt.exclude})
			if err != nil {
				t.Fatalf("ExtractFile() failed: %v", err)
			}

			want := make(map[string]bool, len(tt.want))
			for _, p := range tt.want {
				want[p] = true
			}
			for path := range files {
				_, err := fs.Stat(filepath.Join(destRoot, path))
				if exists := err == nil; exists != want[path] {
					t.Errorf("%s exists = %v, want %v", path, exists, want[path])
				}
			}
			if sum.Files != len(tt.want) || sum.Filtered != len(files)-len(tt.want) {
				t.Errorf("summary = %+v", sum)
			}
		})
	}
}

func TestExtract_UnsafeNamesAreSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := wadtest.New().
		AddFile("../evil.txt", []byte("evil")).
		AddFile("ok.txt", []byte("ok")).
		AddFolder("", wadtest.File("../evil.txt"), wadtest.File("ok.txt"))

	sum, err := run(t, fs, b, extract.Options{})
	if err != nil {
		t.Fatalf("ExtractFile() failed: %v", err)
	}

	if _, err := fs.Stat("/evil.txt"); !os.IsNotExist(err) {
		t.Errorf("file escaped destination root")
	}
	if got := readOut(t, fs, "ok.txt"); got != "ok" {
		t.Errorf("ok.txt = %q", got)
	}
	if len(sum.Skipped) != 1 || !errors.Is(sum.Skipped[0].Err, wad.ErrUnsafePath) {
		t.Errorf("Skipped = %+v, want one unsafe path", sum.Skipped)
	}
}

func TestExtract_RerunOverwrites(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := wadtest.New().
		AddFile("a/b.txt", []byte("Hello")).
		AddFolder("a", wadtest.File("b.txt"))

	if err := fs.MkdirAll(filepath.Join(destRoot, "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, filepath.Join(destRoot, "a", "b.txt"), []byte("stale content, longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if _, err := run(t, fs, b, extract.Options{}); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	if got := readOut(t, fs, "a/b.txt"); got != "Hello" {
		t.Errorf("a/b.txt = %q, want %q", got, "Hello")
	}
}

// failingFs refuses to create one file.
type failingFs struct {
	afero.Fs
	name string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if filepath.Base(name) == f.name && flag&os.O_CREATE != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func TestExtract_FilesystemErrors(t *testing.T) {
	b := wadtest.New().
		AddFile("a/locked.txt", []byte("locked")).
		AddFile("a/open.txt", []byte("open")).
		AddFolder("a", wadtest.File("locked.txt"), wadtest.File("open.txt"))

	t.Run("fatal by default", func(t *testing.T) {
		fs := failingFs{Fs: afero.NewMemMapFs(), name: "locked.txt"}

		_, err := run(t, fs, b, extract.Options{})
		if !errors.Is(err, wad.ErrFilesystem) || !errors.Is(err, os.ErrPermission) {
			t.Fatalf("ExtractFile() error = %v, want ErrFilesystem wrapping permission denied", err)
		}
		assertNotExist(t, fs, "a/open.txt")
	})

	t.Run("skipped with KeepGoing", func(t *testing.T) {
		fs := failingFs{Fs: afero.NewMemMapFs(), name: "locked.txt"}

		sum, err := run(t, fs, b, extract.Options{KeepGoing: true})
		if err != nil {
			t.Fatalf("ExtractFile() failed: %v", err)
		}
		if got := readOut(t, fs, "a/open.txt"); got != "open" {
			t.Errorf("a/open.txt = %q", got)
		}
		if len(sum.Skipped) != 1 || !errors.Is(sum.Skipped[0].Err, wad.ErrFilesystem) {
			t.Errorf("Skipped = %+v", sum.Skipped)
		}
	})
}

func TestExtract_SharedStreamWithoutReaderAt(t *testing.T) {
	fs := afero.NewMemMapFs()
	b, files := buildGameArchive()
	input := b.Bytes()

	// bytes.Reader implements io.ReaderAt; hide it to force the cursor path
	src := struct{ io.ReadSeeker }{bytes.NewReader(input)}

	r, err := parser.NewWadReader(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	archive, err := r.Parse(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	x, err := extract.New(fs, extract.Options{Workers: 8, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := x.Extract(context.Background(), src, archive, destRoot)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}

	for path, want := range files {
		if got := readOut(t, fs, path); got != want {
			t.Errorf("%s differs", path)
		}
	}
	if sum.Files != len(files) {
		t.Errorf("Files = %d, want %d", sum.Files, len(files))
	}
}
