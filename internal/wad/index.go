package wad

import (
	"strings"

	"github.com/samber/lo"
)

// NormalizePath converts archive separators to '/' and drops any leading
// separator so that tree keys and flat index paths compare equal.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return strings.TrimLeft(p, "/")
}

// LookupKey joins a folder name and a child name into the path used to
// find the child in the flat index. Children of the root folder key as
// their bare name.
func LookupKey(folder, child string) string {
	if folder == "" {
		return NormalizePath(child)
	}
	return NormalizePath(folder + "/" + child)
}

// Index maps normalized flat index paths to their entries.
// When a path repeats, the first entry in decode order wins.
type Index struct {
	byPath     map[string]int
	entries    []FlatEntry
	duplicates []string
}

// NewIndex builds a lookup over entries. The slice is not copied and must
// not be modified afterwards.
func NewIndex(entries []FlatEntry) *Index {
	idx := &Index{
		byPath:  make(map[string]int, len(entries)),
		entries: entries,
	}

	for i, e := range entries {
		key := NormalizePath(e.Path)
		if _, seen := idx.byPath[key]; seen {
			idx.duplicates = append(idx.duplicates, key)
			continue
		}
		idx.byPath[key] = i
	}

	return idx
}

// Lookup returns the entry stored under key. key is normalized first.
func (idx *Index) Lookup(key string) (FlatEntry, bool) {
	i, ok := idx.byPath[NormalizePath(key)]
	if !ok {
		return FlatEntry{}, false
	}
	return idx.entries[i], true
}

// Len returns the number of distinct paths.
func (idx *Index) Len() int { return len(idx.byPath) }

// Duplicates returns paths that appeared more than once, in decode order
// of their shadowed occurrences.
func (idx *Index) Duplicates() []string {
	return lo.Uniq(idx.duplicates)
}

// TotalBytes sums the payload length of every entry reachable by path.
func (idx *Index) TotalBytes() int64 {
	return lo.SumBy(lo.Values(idx.byPath), func(i int) int64 {
		return int64(idx.entries[i].Length)
	})
}
