// Package align pairs roster rows with portrait images by position.
//
// Images are ordered by ascending reference id, which stands in for their
// order of appearance. Known non-portrait images are named by a skip-set and
// stepped over without consuming a row.
package align

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spherical/roster-ingest/internal/domain"
	"github.com/spherical/roster-ingest/internal/observability"
)

// SkipSet identifies images that never bind to a row.
type SkipSet struct {
	refs     map[int]bool
	patterns []string
}

// NewSkipSet builds a skip-set from reference ids and filename globs matched
// against img_<ref>.<ext>.
func NewSkipSet(refs []int, patterns []string) (*SkipSet, error) {
	s := &SkipSet{refs: make(map[int]bool, len(refs))}
	for _, r := range refs {
		s.refs[r] = true
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, domain.ConfigError(fmt.Sprintf("invalid skip pattern %q", p), err)
		}
		s.patterns = append(s.patterns, p)
	}
	return s, nil
}

// Contains reports whether the asset is in the skip-set.
func (s *SkipSet) Contains(a domain.ImageAsset) bool {
	if s == nil {
		return false
	}
	if s.refs[a.Ref] {
		return true
	}
	name := a.FileName()
	for _, p := range s.patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Binding is one row and the image bound to it, if any.
type Binding struct {
	Row    domain.RosterRow
	Image  *domain.ImageAsset
	Cursor int // position of Image in the sorted sequence, -1 when unbound
}

// Bound reports whether an image was bound to the row.
func (b Binding) Bound() bool { return b.Image != nil }

// Result is the outcome of one alignment pass.
type Result struct {
	Bindings   []Binding
	Skipped    []int // reference ids stepped over by the skip-set
	Unconsumed []int // reference ids left after the last bound row
	Candidates int   // images eligible for binding
}

// Unbound returns how many rows received no image.
func (r *Result) Unbound() int {
	n := 0
	for _, b := range r.Bindings {
		if !b.Bound() {
			n++
		}
	}
	return n
}

// Engine performs alignment passes.
type Engine struct {
	skip       *SkipSet
	extensions map[string]bool
	logger     *observability.Logger
}

// NewEngine creates an engine. Only assets whose extension is listed take part
// in alignment; an empty list admits every asset.
func NewEngine(skip *SkipSet, extensions []string, logger *observability.Logger) *Engine {
	if logger == nil {
		logger = observability.Nop()
	}
	e := &Engine{skip: skip, logger: logger.WithOperation("align")}
	if len(extensions) > 0 {
		e.extensions = make(map[string]bool, len(extensions))
		for _, ext := range extensions {
			e.extensions[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
		}
	}
	return e
}

// Sequence filters assets by extension and sorts them by ascending reference id.
func (e *Engine) Sequence(assets []domain.ImageAsset) []domain.ImageAsset {
	seq := make([]domain.ImageAsset, 0, len(assets))
	for _, a := range assets {
		if e.extensions == nil || e.extensions[string(a.Ext)] {
			seq = append(seq, a)
		}
	}
	sort.SliceStable(seq, func(i, j int) bool { return seq[i].Ref < seq[j].Ref })
	return seq
}

// Align binds rows to images with a single forward cursor. For each row the
// cursor first steps over skipped images; once the sequence is exhausted the
// remaining rows stay unbound. Every row appears in the result, in order.
func (e *Engine) Align(rows []domain.RosterRow, assets []domain.ImageAsset) *Result {
	seq := e.Sequence(assets)
	res := &Result{Bindings: make([]Binding, 0, len(rows))}

	for _, a := range seq {
		if !e.skip.Contains(a) {
			res.Candidates++
		}
	}

	cursor := 0
	for _, row := range rows {
		for cursor < len(seq) && e.skip.Contains(seq[cursor]) {
			res.Skipped = append(res.Skipped, seq[cursor].Ref)
			cursor++
		}
		if cursor >= len(seq) {
			res.Bindings = append(res.Bindings, Binding{Row: row, Cursor: -1})
			continue
		}

		img := seq[cursor]
		res.Bindings = append(res.Bindings, Binding{Row: row, Image: &img, Cursor: cursor})
		cursor++
	}

	for ; cursor < len(seq); cursor++ {
		if e.skip.Contains(seq[cursor]) {
			res.Skipped = append(res.Skipped, seq[cursor].Ref)
			continue
		}
		res.Unconsumed = append(res.Unconsumed, seq[cursor].Ref)
	}

	if res.Candidates != len(rows) {
		e.logger.Warn().
			Int("rows", len(rows)).
			Int("images", res.Candidates).
			Ints("skipped", res.Skipped).
			Ints("unconsumed", res.Unconsumed).
			Int("unbound", res.Unbound()).
			Msg("image count and row count diverge")
	}

	return res
}
