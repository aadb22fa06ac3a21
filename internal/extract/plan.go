package extract

import (
	"fmt"

	"github.com/ossyrian/wadextract/internal/progress"
	"github.com/ossyrian/wadextract/internal/wad"
)

type stepKind int

const (
	stepDir stepKind = iota
	stepFile
	stepSkip
)

// step is one unit of extraction work, in folder table order.
type step struct {
	kind  stepKind
	key   string // normalized archive path
	rel   string // destination path relative to the root
	entry wad.FlatEntry
	err   error // why a stepSkip was skipped
}

// plan is the reconciliation of the folder table against the flat index.
// Building it touches neither the archive stream nor the filesystem.
type plan struct {
	steps    []step
	folders  int
	files    int
	bytes    int64
	filtered int
}

// buildPlan walks folders in decode order. Each folder yields a directory
// step; FOLDER children yield directory steps; FILE children are looked up
// in the index and yield file steps, or skip steps when missing or unsafe.
func buildPlan(a *wad.Archive, idx *wad.Index, f *filter) *plan {
	p := &plan{}
	seenDirs := make(map[string]struct{})

	addDir := func(key string) {
		rel, err := destPath(key)
		if err != nil {
			p.steps = append(p.steps, step{kind: stepSkip, key: key, err: err})
			return
		}
		if _, ok := seenDirs[rel]; ok {
			return
		}
		seenDirs[rel] = struct{}{}
		p.steps = append(p.steps, step{kind: stepDir, key: key, rel: rel})
		p.folders++
	}

	for _, folder := range a.Folders {
		addDir(wad.NormalizePath(folder.Name))

		for _, child := range folder.Children {
			key := wad.LookupKey(folder.Name, child.Name)

			if child.Kind == wad.EntryKindFolder {
				addDir(key)
				continue
			}

			if !f.Selected(key) {
				p.filtered++
				continue
			}

			entry, ok := idx.Lookup(key)
			if !ok {
				p.steps = append(p.steps, step{
					kind: stepSkip,
					key:  key,
					err:  fmt.Errorf("%w: %s", wad.ErrMissingIndexEntry, key),
				})
				continue
			}

			rel, err := destPath(key)
			if err != nil {
				p.steps = append(p.steps, step{kind: stepSkip, key: key, err: err})
				continue
			}

			p.steps = append(p.steps, step{kind: stepFile, key: key, rel: rel, entry: entry})
			p.files++
			p.bytes += int64(entry.Length)
		}
	}

	return p
}

func (p *plan) progress() progress.Plan {
	return progress.Plan{
		Folders:    p.folders,
		Files:      p.files,
		TotalBytes: p.bytes,
	}
}
