package constraint

import (
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Interval is a contiguous version range. A nil bound is unbounded.
type Interval struct {
	Lo, Hi       *semver.Version
	LoInc, HiInc bool
}

// Contains reports whether v lies in i.
func (i Interval) Contains(v *semver.Version) bool {
	if i.Lo != nil {
		if c := v.Compare(i.Lo); c < 0 || (c == 0 && !i.LoInc) {
			return false
		}
	}
	if i.Hi != nil {
		if c := v.Compare(i.Hi); c > 0 || (c == 0 && !i.HiInc) {
			return false
		}
	}
	return true
}

func (i Interval) empty() bool {
	if i.Lo == nil || i.Hi == nil {
		return false
	}
	c := i.Lo.Compare(i.Hi)
	return c > 0 || (c == 0 && !(i.LoInc && i.HiInc))
}

func (i Interval) intersect(o Interval) Interval {
	out := i
	if o.Lo != nil {
		if out.Lo == nil {
			out.Lo, out.LoInc = o.Lo, o.LoInc
		} else if c := o.Lo.Compare(out.Lo); c > 0 {
			out.Lo, out.LoInc = o.Lo, o.LoInc
		} else if c == 0 {
			out.LoInc = out.LoInc && o.LoInc
		}
	}
	if o.Hi != nil {
		if out.Hi == nil {
			out.Hi, out.HiInc = o.Hi, o.HiInc
		} else if c := o.Hi.Compare(out.Hi); c < 0 {
			out.Hi, out.HiInc = o.Hi, o.HiInc
		} else if c == 0 {
			out.HiInc = out.HiInc && o.HiInc
		}
	}
	return out
}

func (i Interval) String() string {
	switch {
	case i.Lo == nil && i.Hi == nil:
		return "*"
	case i.Lo != nil && i.Hi != nil && i.Lo.Equal(i.Hi):
		return "==" + i.Lo.String()
	}
	var parts []string
	if i.Lo != nil {
		op := ">"
		if i.LoInc {
			op = ">="
		}
		parts = append(parts, op+i.Lo.String())
	}
	if i.Hi != nil {
		op := "<"
		if i.HiInc {
			op = "<="
		}
		parts = append(parts, op+i.Hi.String())
	}
	return strings.Join(parts, ",")
}

// Set is a union of disjoint intervals in ascending order. The zero Set is
// empty; [Any] allows every version.
type Set struct {
	raw       string
	intervals []Interval
}

// Any returns the set of all versions.
func Any() Set { return Set{raw: "*", intervals: []Interval{{}}} }

// Exact returns the set holding only v.
func Exact(v *semver.Version) Set {
	return Set{raw: "==" + v.String(), intervals: []Interval{point(v)}}
}

func point(v *semver.Version) Interval {
	return Interval{Lo: v, Hi: v, LoInc: true, HiInc: true}
}

func newSet(raw string, in ...Interval) Set {
	return Set{raw: raw, intervals: normalize(in)}
}

// Parse reads spec in the dialect of kind. An empty spec allows everything.
func Parse(kind source.Kind, spec string) (Set, error) {
	switch kind {
	case source.KindNpm:
		return ParseNpm(spec)
	case source.KindPip:
		return ParsePEP440(spec)
	}
	return Set{}, errors.New(errors.ErrCodeInvalidInput, "unknown installer kind %q", kind)
}

// Match reports whether v is in s.
func (s Set) Match(v *semver.Version) bool {
	for _, i := range s.intervals {
		if i.Contains(v) {
			return true
		}
	}
	return false
}

// Allows parses version and reports whether it is in s. Unparseable
// versions are never allowed.
func (s Set) Allows(version string) bool {
	v, err := ParseVersion(version)
	if err != nil {
		return false
	}
	return s.Match(v)
}

// Empty reports whether no version satisfies s.
func (s Set) Empty() bool { return len(s.intervals) == 0 }

// IsAny reports whether s allows every version.
func (s Set) IsAny() bool {
	return len(s.intervals) == 1 && s.intervals[0].Lo == nil && s.intervals[0].Hi == nil
}

// Exact returns the single version s allows, if s is a point.
func (s Set) Exact() (*semver.Version, bool) {
	if len(s.intervals) != 1 {
		return nil, false
	}
	i := s.intervals[0]
	if i.Lo != nil && i.Hi != nil && i.Lo.Equal(i.Hi) {
		return i.Lo, true
	}
	return nil, false
}

// Intervals returns the intervals of s.
func (s Set) Intervals() []Interval { return slices.Clone(s.intervals) }

// Intersect returns the versions in both s and o.
func (s Set) Intersect(o Set) Set {
	var out []Interval
	for _, a := range s.intervals {
		for _, b := range o.intervals {
			if i := a.intersect(b); !i.empty() {
				out = append(out, i)
			}
		}
	}
	return Set{raw: joinRaw(s.raw, o.raw, " && "), intervals: normalize(out)}
}

// Union returns the versions in s or o.
func (s Set) Union(o Set) Set {
	all := append(slices.Clone(s.intervals), o.intervals...)
	return Set{raw: joinRaw(s.raw, o.raw, " || "), intervals: normalize(all)}
}

// Overlaps reports whether some version satisfies both s and o.
func (s Set) Overlaps(o Set) bool { return !s.Intersect(o).Empty() }

// Bounds returns every finite endpoint of s in ascending order. Conflict
// suggestions try these as pin candidates.
func (s Set) Bounds() []*semver.Version {
	var out []*semver.Version
	for _, i := range s.intervals {
		if i.Lo != nil {
			out = append(out, i.Lo)
		}
		if i.Hi != nil {
			out = append(out, i.Hi)
		}
	}
	return out
}

// String returns the spec s was parsed from, or its interval form.
func (s Set) String() string {
	if s.raw != "" {
		return s.raw
	}
	return s.Canonical()
}

// Canonical renders the intervals of s.
func (s Set) Canonical() string {
	if len(s.intervals) == 0 {
		return "<empty>"
	}
	parts := make([]string, len(s.intervals))
	for i, iv := range s.intervals {
		parts[i] = iv.String()
	}
	return strings.Join(parts, " || ")
}

func joinRaw(a, b, sep string) string {
	switch {
	case a == "" || a == "*":
		return b
	case b == "" || b == "*":
		return a
	}
	return a + sep + b
}

// normalize drops empty intervals, sorts by lower bound and merges
// overlapping neighbours.
func normalize(in []Interval) []Interval {
	var out []Interval
	for _, i := range in {
		if !i.empty() {
			out = append(out, i)
		}
	}
	slices.SortFunc(out, func(a, b Interval) int { return compareLo(a, b) })

	merged := out[:0]
	for _, i := range out {
		if n := len(merged); n > 0 && touches(merged[n-1], i) {
			last := &merged[n-1]
			if compareHi(i, *last) > 0 {
				last.Hi, last.HiInc = i.Hi, i.HiInc
			}
			continue
		}
		merged = append(merged, i)
	}
	return merged
}

func compareLo(a, b Interval) int {
	switch {
	case a.Lo == nil && b.Lo == nil:
		return 0
	case a.Lo == nil:
		return -1
	case b.Lo == nil:
		return 1
	}
	if c := a.Lo.Compare(b.Lo); c != 0 {
		return c
	}
	switch {
	case a.LoInc == b.LoInc:
		return 0
	case a.LoInc:
		return -1
	}
	return 1
}

func compareHi(a, b Interval) int {
	switch {
	case a.Hi == nil && b.Hi == nil:
		return 0
	case a.Hi == nil:
		return 1
	case b.Hi == nil:
		return -1
	}
	if c := a.Hi.Compare(b.Hi); c != 0 {
		return c
	}
	switch {
	case a.HiInc == b.HiInc:
		return 0
	case a.HiInc:
		return 1
	}
	return -1
}

// touches reports whether b (sorted after a) overlaps or abuts a.
func touches(a, b Interval) bool {
	if a.Hi == nil || b.Lo == nil {
		return true
	}
	c := b.Lo.Compare(a.Hi)
	return c < 0 || (c == 0 && (a.HiInc || b.LoInc))
}

func below(v *semver.Version, inclusive bool) Interval { return Interval{Hi: v, HiInc: inclusive} }
func above(v *semver.Version, inclusive bool) Interval { return Interval{Lo: v, LoInc: inclusive} }

func between(lo, hi *semver.Version) Interval {
	return Interval{Lo: lo, Hi: hi, LoInc: true}
}

func except(v *semver.Version) []Interval {
	return []Interval{below(v, false), above(v, false)}
}

func exceptRange(lo, hi *semver.Version) []Interval {
	return []Interval{below(lo, false), above(hi, true)}
}
