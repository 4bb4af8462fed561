// Package constraint parses pip (PEP 440) and npm version specifiers into
// sets of version intervals that can be matched, intersected and tested for
// emptiness.
//
// Both dialects are normalized onto [semver.Version]. PEP 440 versions map
// as follows:
//
//	1.2        -> 1.2.0
//	1.2rc1     -> 1.2.0-rc.1
//	1.2a3      -> 1.2.0-a.3
//	1.2.dev4   -> 1.2.0-0.dev.4   (sorts before a, b and rc)
//	1.2.post1  -> 1.2.0+post.1    (compares equal to 1.2.0)
//	1!2.0      -> 2.0.0           (epoch dropped)
//	1.2.3.4    -> 1.2.3+r.4       (fourth component kept as metadata)
//
// The last three rows lose ordering information. That is acceptable for
// conflict detection and cache lookups, where distinct post releases or
// four-component versions of one package rarely meet.
package constraint

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/smoothdeps/pkg/errors"
)

var pep440Re = regexp.MustCompile(`^v?(?:(\d+)!)?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(a|alpha|b|beta|c|rc|pre|preview)[-_.]?(\d*))?` +
	`(?:-(\d+)|[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+([a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// ParseVersion parses a semver or PEP 440 version.
func ParseVersion(s string) (*semver.Version, error) {
	s = strings.TrimSpace(s)
	if v, err := semver.StrictNewVersion(strings.TrimPrefix(s, "v")); err == nil {
		return v, nil
	}
	v, err := parsePEP440Version(strings.ToLower(s))
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "invalid version %q", s)
	}
	return v, nil
}

// MustParseVersion is like ParseVersion but panics on error. For tests and
// constants.
func MustParseVersion(s string) *semver.Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func parsePEP440Version(s string) (*semver.Version, error) {
	m := pep440Re.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("not a PEP 440 version")
	}
	release := strings.Split(m[2], ".")
	for len(release) < 3 {
		release = append(release, "0")
	}
	core := fmt.Sprintf("%s.%s.%s", trimZeros(release[0]), trimZeros(release[1]), trimZeros(release[2]))

	var pre []string
	if m[3] != "" {
		pre = append(pre, preLabel(m[3]), numOrZero(m[4]))
	}
	if m[8] == "dev" {
		if pre == nil {
			pre = append(pre, "0")
		}
		pre = append(pre, "dev", numOrZero(m[9]))
	}

	var meta []string
	switch {
	case m[5] != "":
		meta = append(meta, "post", trimZeros(m[5]))
	case m[6] != "":
		meta = append(meta, "post", numOrZero(m[7]))
	}
	if len(release) > 3 {
		meta = append(meta, "r", strings.Join(release[3:], "."))
	}
	if m[10] != "" {
		meta = append(meta, strings.NewReplacer("_", ".", "-", ".").Replace(m[10]))
	}

	out := core
	if len(pre) > 0 {
		out += "-" + strings.Join(pre, ".")
	}
	if len(meta) > 0 {
		out += "+" + strings.Join(meta, ".")
	}
	return semver.StrictNewVersion(out)
}

func preLabel(l string) string {
	switch l {
	case "a", "alpha":
		return "a"
	case "b", "beta":
		return "b"
	default:
		return "rc"
	}
}

func numOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return trimZeros(s)
}

func trimZeros(s string) string {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return s
	}
	return strconv.FormatUint(n, 10)
}

// Compare orders two version strings. Unparseable versions sort before
// parseable ones and among themselves lexically.
func Compare(a, b string) int {
	va, ea := ParseVersion(a)
	vb, eb := ParseVersion(b)
	switch {
	case ea != nil && eb != nil:
		return strings.Compare(a, b)
	case ea != nil:
		return -1
	case eb != nil:
		return 1
	}
	return va.Compare(vb)
}

// Sort orders versions ascending by [Compare].
func Sort(versions []string) {
	slices.SortStableFunc(versions, Compare)
}

// Latest returns the highest version in versions that s allows. Stable
// releases win over pre-releases; a pre-release is chosen only when no
// stable release matches.
func Latest(s Set, versions []string) (string, bool) {
	var bestStable, bestPre string
	var vs, vp *semver.Version
	for _, raw := range versions {
		v, err := ParseVersion(raw)
		if err != nil || !s.Match(v) {
			continue
		}
		if v.Prerelease() == "" {
			if vs == nil || v.GreaterThan(vs) {
				vs, bestStable = v, raw
			}
		} else if vp == nil || v.GreaterThan(vp) {
			vp, bestPre = v, raw
		}
	}
	if vs != nil {
		return bestStable, true
	}
	if vp != nil {
		return bestPre, true
	}
	return "", false
}
