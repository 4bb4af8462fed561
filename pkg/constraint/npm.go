package constraint

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/smoothdeps/pkg/errors"
)

var (
	npmOpSpaceRe = regexp.MustCompile(`(<=|>=|<|>|=|~|\^)\s+`)
	npmHyphenRe  = regexp.MustCompile(`^(\S+)\s+-\s+(\S+)$`)
	npmTokenRe   = regexp.MustCompile(`^(<=|>=|<|>|=|~>|~|\^)?v?(.*)$`)
)

// ParseNpm parses an npm range such as "^1.2.0 || >=3 <4" or "1.x - 2.3".
// Dist-tags and non-semver specs (git URLs, file paths) are treated as
// allowing any version; the registry resolves those.
func ParseNpm(spec string) (Set, error) {
	raw := strings.TrimSpace(spec)
	if isAnyNpm(raw) {
		s := Any()
		if raw != "" {
			s.raw = raw
		}
		return s, nil
	}

	var out Set
	for _, alt := range strings.Split(raw, "||") {
		ivs, err := npmComparatorSet(strings.TrimSpace(alt))
		if err != nil {
			return Set{}, errors.Wrap(errors.ErrCodeInvalidVersionSpec, err, "invalid range %q", raw)
		}
		out = out.Union(newSet("", ivs...))
	}
	out.raw = raw
	return out, nil
}

func isAnyNpm(spec string) bool {
	switch spec {
	case "", "*", "x", "X", "latest":
		return true
	}
	if strings.Contains(spec, "/") || strings.Contains(spec, ":") {
		return true
	}
	// A dist-tag is a bare word that does not start like a version.
	c := spec[0]
	return !(c >= '0' && c <= '9') && !strings.ContainsAny(spec[:1], "<>=~^vxX*")
}

func npmComparatorSet(set string) ([]Interval, error) {
	if set == "" {
		return []Interval{{}}, nil
	}
	if m := npmHyphenRe.FindStringSubmatch(set); m != nil {
		return hyphenRange(m[1], m[2])
	}

	acc := Any()
	for _, tok := range strings.Fields(npmOpSpaceRe.ReplaceAllString(set, "$1")) {
		ivs, err := npmToken(tok)
		if err != nil {
			return nil, err
		}
		acc = acc.Intersect(newSet("", ivs...))
	}
	return acc.intervals, nil
}

// partial is a possibly incomplete version: "1", "1.2", "1.2.x", "1.2.3-beta".
type partial struct {
	nums []uint64 // given numeric components, at most 3
	pre  string
}

func parsePartial(s string) (partial, error) {
	var p partial
	s = strings.TrimPrefix(strings.TrimPrefix(s, "="), "v")
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	core := s
	if i := strings.IndexByte(s, '-'); i >= 0 {
		core, p.pre = s[:i], s[i+1:]
	}
	if core == "" {
		return p, nil
	}
	for _, part := range strings.Split(core, ".") {
		if part == "x" || part == "X" || part == "*" {
			break
		}
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return p, errors.New(errors.ErrCodeInvalidVersionSpec, "invalid version component %q", part)
		}
		if len(p.nums) == 3 {
			return p, errors.New(errors.ErrCodeInvalidVersionSpec, "too many version components in %q", s)
		}
		p.nums = append(p.nums, n)
	}
	return p, nil
}

func (p partial) full() bool { return len(p.nums) == 3 }

// floor fills missing components with zero.
func (p partial) floor() *semver.Version {
	n := [3]uint64{}
	copy(n[:], p.nums)
	v := semver.New(n[0], n[1], n[2], "", "")
	if p.full() && p.pre != "" {
		if withPre, err := v.SetPrerelease(p.pre); err == nil {
			return &withPre
		}
	}
	return v
}

// ceil is the first version past every version the partial covers.
func (p partial) ceil() *semver.Version {
	n := [3]uint64{}
	copy(n[:], p.nums)
	switch len(p.nums) {
	case 1:
		return semver.New(n[0]+1, 0, 0, "", "")
	case 2:
		return semver.New(n[0], n[1]+1, 0, "", "")
	}
	return semver.New(n[0], n[1], n[2]+1, "", "")
}

func npmToken(tok string) ([]Interval, error) {
	m := npmTokenRe.FindStringSubmatch(tok)
	op, rest := m[1], m[2]
	p, err := parsePartial(rest)
	if err != nil {
		return nil, err
	}
	if len(p.nums) == 0 {
		// "*", "x", ">=*" and friends.
		if op == "<" || op == ">" {
			return nil, nil
		}
		return []Interval{{}}, nil
	}
	lo := p.floor()

	switch op {
	case "", "=":
		if p.full() {
			return []Interval{point(lo)}, nil
		}
		return []Interval{between(lo, p.ceil())}, nil
	case ">=":
		return []Interval{above(lo, true)}, nil
	case ">":
		if p.full() {
			return []Interval{above(lo, false)}, nil
		}
		return []Interval{above(p.ceil(), true)}, nil
	case "<":
		return []Interval{below(lo, false)}, nil
	case "<=":
		if p.full() {
			return []Interval{below(lo, true)}, nil
		}
		return []Interval{below(p.ceil(), false)}, nil
	case "~", "~>":
		if len(p.nums) == 1 {
			return []Interval{between(lo, p.ceil())}, nil
		}
		hi := semver.New(p.nums[0], p.nums[1]+1, 0, "", "")
		return []Interval{between(lo, hi)}, nil
	case "^":
		return []Interval{between(lo, caretCeil(p))}, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "unknown operator %q", op)
}

// caretCeil bumps the left-most non-zero component among those given.
func caretCeil(p partial) *semver.Version {
	n := [3]uint64{}
	copy(n[:], p.nums)
	switch {
	case n[0] > 0 || len(p.nums) == 1:
		return semver.New(n[0]+1, 0, 0, "", "")
	case n[1] > 0 || len(p.nums) == 2:
		return semver.New(0, n[1]+1, 0, "", "")
	}
	return semver.New(0, 0, n[2]+1, "", "")
}

func hyphenRange(from, to string) ([]Interval, error) {
	lo, err := parsePartial(from)
	if err != nil {
		return nil, err
	}
	hi, err := parsePartial(to)
	if err != nil {
		return nil, err
	}
	iv := Interval{Lo: lo.floor(), LoInc: true}
	switch {
	case len(hi.nums) == 0:
	case hi.full():
		iv.Hi, iv.HiInc = hi.floor(), true
	default:
		iv.Hi = hi.ceil()
	}
	return []Interval{iv}, nil
}
