package selector

import "fmt"

// Insert adds p to the list so that it stays ordered and overlap-free.
//
// p is spliced before the first entry it strictly precedes. When it overlaps
// an entry, both are replaced by a new merged Path (earlier start, later end)
// which is re-inserted from the beginning, so merges can cascade. The list
// is only updated once the whole cascade succeeded.
//
// Callers must serialize inserts into the same list.
func (l *List) Insert(cmp Comparator, p *Path) error {
	if p == nil {
		return nil
	}
	entries, err := insert(cmp, l.entries, p)
	if err != nil {
		return err
	}
	l.entries = entries
	return nil
}

func insert(cmp Comparator, entries []*Path, p *Path) ([]*Path, error) {
	if len(entries) == 0 {
		return []*Path{p}, nil
	}

	for i, entry := range entries {
		rel, err := cmp.Relate(p.Range(), entry.Range())
		if err != nil {
			return nil, fmt.Errorf("relate [%s, %s) to entry %d: %w", p.StartPath, p.EndPath, i, err)
		}

		switch rel {
		case Before:
			out := make([]*Path, 0, len(entries)+1)
			out = append(out, entries[:i]...)
			out = append(out, p)
			return append(out, entries[i:]...), nil
		case After:
			continue
		case Overlapping:
			merged, err := merge(cmp, p, entry)
			if err != nil {
				return nil, err
			}
			rest := make([]*Path, 0, len(entries)-1)
			rest = append(rest, entries[:i]...)
			rest = append(rest, entries[i+1:]...)
			return insert(cmp, rest, merged)
		default:
			return nil, invariantf(p.Range(), "comparator returned %s against entry %d", rel, i)
		}
	}

	out := make([]*Path, 0, len(entries)+1)
	out = append(out, entries...)
	return append(out, p), nil
}

// merge builds the union of two overlapping ranges. Each boundary is decided
// on its own, so the result need not equal either input.
func merge(cmp Comparator, p, entry *Path) (*Path, error) {
	merged := &Path{StartPath: entry.StartPath, EndPath: p.EndPath}

	c, err := cmp.CompareStarts(p.Range(), entry.Range())
	if err != nil {
		return nil, fmt.Errorf("compare starts: %w", err)
	}
	if c < 0 {
		merged.StartPath = p.StartPath
	}

	c, err = cmp.CompareEnds(p.Range(), entry.Range())
	if err != nil {
		return nil, fmt.Errorf("compare ends: %w", err)
	}
	if c < 0 {
		merged.EndPath = entry.EndPath
	}
	return merged, nil
}

// Remove deletes every entry whose locators equal p's and reports whether
// any entry was removed. Entries are never split: removing a sub-range of a
// merged entry is a no-op.
func (l *List) Remove(p *Path) bool {
	if p == nil {
		return false
	}
	kept := make([]*Path, 0, len(l.entries))
	for _, entry := range l.entries {
		if !entry.Equal(p) {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(l.entries) {
		return false
	}
	l.entries = kept
	return true
}
