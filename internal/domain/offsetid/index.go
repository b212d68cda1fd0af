// Package offsetid keeps the bijection between collection offsets and document ids.
package offsetid

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kailas-cloud/docarray/internal/domain"
)

// Entry pairs an offset with the id stored there.
type Entry struct {
	Offset int    `json:"offset"`
	ID     string `json:"id"`
}

// Index maps offsets 0..Len()-1 to unique ids and back.
type Index struct {
	ids     []string
	offsets map[string]int
}

// New returns an empty Index.
func New() *Index {
	return &Index{offsets: make(map[string]int)}
}

// FromEntries builds an Index from persisted entries.
func FromEntries(entries []Entry) (*Index, error) {
	idx := New()
	if err := idx.Rebuild(entries); err != nil {
		return nil, err
	}
	return idx, nil
}

// Len returns the number of entries.
func (x *Index) Len() int { return len(x.ids) }

// ID returns the id stored at offset. Negative offsets count from the end.
func (x *Index) ID(offset int) (string, error) {
	i, err := x.Normalize(offset)
	if err != nil {
		return "", err
	}
	return x.ids[i], nil
}

// Offset returns the offset of id.
func (x *Index) Offset(id string) (int, error) {
	if len(x.ids) == 0 {
		return 0, errors.Join(domain.ErrEmptyIndex, domain.NewIDError(id))
	}
	i, ok := x.offsets[id]
	if !ok {
		return 0, domain.NewIDError(id)
	}
	return i, nil
}

// Contains reports whether id is present.
func (x *Index) Contains(id string) bool {
	_, ok := x.offsets[id]
	return ok
}

// Normalize resolves a possibly negative offset into [0, Len()).
func (x *Index) Normalize(offset int) (int, error) {
	n := len(x.ids)
	i := offset
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		if n == 0 {
			return 0, errors.Join(domain.ErrEmptyIndex, domain.NewOffsetError(offset, n))
		}
		return 0, domain.NewOffsetError(offset, n)
	}
	return i, nil
}

// Append adds id at the end.
func (x *Index) Append(id string) error {
	return x.Insert(len(x.ids), id)
}

// Insert places id before offset k, shifting later entries by one.
// k may equal Len() to append; a negative k counts from the end.
func (x *Index) Insert(k int, id string) error {
	if id == "" {
		return fmt.Errorf("empty id: %w", domain.ErrInvalidArgument)
	}
	if x.Contains(id) {
		return fmt.Errorf("document %q: %w", id, domain.ErrAlreadyExists)
	}
	n := len(x.ids)
	i := k
	if i < 0 {
		i += n
	}
	if i < 0 || i > n {
		return domain.NewOffsetError(k, n+1)
	}
	x.ids = slices.Insert(x.ids, i, id)
	x.renumber(i)
	return nil
}

// Set replaces the id at offset with id. Replacing with the same id is a no-op.
func (x *Index) Set(offset int, id string) error {
	i, err := x.Normalize(offset)
	if err != nil {
		return err
	}
	old := x.ids[i]
	if old == id {
		return nil
	}
	if x.Contains(id) {
		return fmt.Errorf("document %q: %w", id, domain.ErrAlreadyExists)
	}
	delete(x.offsets, old)
	x.ids[i] = id
	x.offsets[id] = i
	return nil
}

// Delete removes the given offsets and renumbers the remainder contiguously.
// It returns the removed ids in ascending offset order.
func (x *Index) Delete(offsets ...int) ([]string, error) {
	if len(offsets) == 0 {
		return nil, nil
	}
	norm := make([]int, 0, len(offsets))
	for _, o := range offsets {
		i, err := x.Normalize(o)
		if err != nil {
			return nil, err
		}
		norm = append(norm, i)
	}
	slices.Sort(norm)
	norm = slices.Compact(norm)

	removed := make([]string, len(norm))
	for i, o := range norm {
		removed[i] = x.ids[o]
		delete(x.offsets, x.ids[o])
	}
	kept := x.ids[:0]
	next := 0
	for i, id := range x.ids {
		if next < len(norm) && norm[next] == i {
			next++
			continue
		}
		kept = append(kept, id)
	}
	x.ids = kept
	x.renumber(norm[0])
	return removed, nil
}

// Clear removes every entry.
func (x *Index) Clear() {
	x.ids = nil
	x.offsets = make(map[string]int)
}

// IDs returns a copy of the ids in offset order.
func (x *Index) IDs() []string { return slices.Clone(x.ids) }

// Entries returns the mapping ordered by offset.
func (x *Index) Entries() []Entry {
	out := make([]Entry, len(x.ids))
	for i, id := range x.ids {
		out[i] = Entry{Offset: i, ID: id}
	}
	return out
}

// Rebuild replaces the mapping with entries. Entries may arrive in any order
// but must cover offsets 0..len-1 exactly once with unique ids.
func (x *Index) Rebuild(entries []Entry) error {
	ids := make([]string, len(entries))
	offsets := make(map[string]int, len(entries))
	seen := make([]bool, len(entries))
	for _, e := range entries {
		if e.Offset < 0 || e.Offset >= len(entries) || seen[e.Offset] {
			return fmt.Errorf("offset %d is out of range or repeated: %w", e.Offset, domain.ErrInvalidArgument)
		}
		if e.ID == "" {
			return fmt.Errorf("offset %d has empty id: %w", e.Offset, domain.ErrInvalidArgument)
		}
		if _, dup := offsets[e.ID]; dup {
			return fmt.Errorf("document %q: %w", e.ID, domain.ErrAlreadyExists)
		}
		seen[e.Offset] = true
		ids[e.Offset] = e.ID
		offsets[e.ID] = e.Offset
	}
	x.ids = ids
	x.offsets = offsets
	return nil
}

func (x *Index) renumber(from int) {
	for i := from; i < len(x.ids); i++ {
		x.offsets[x.ids[i]] = i
	}
}
