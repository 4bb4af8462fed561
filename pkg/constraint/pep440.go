package constraint

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/matzehuels/smoothdeps/pkg/errors"
)

var pepClauseRe = regexp.MustCompile(`^(===|~=|==|!=|<=|>=|<|>)\s*(\S+)$`)

// ParsePEP440 parses a PEP 440 specifier such as ">=2.0,<3,!=2.1.*".
// Clauses separated by commas must all hold. A bare version is read as "==".
func ParsePEP440(spec string) (Set, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || spec == "*" {
		return Any(), nil
	}

	out := Any()
	for _, clause := range strings.Split(spec, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ivs, err := pepClause(clause)
		if err != nil {
			return Set{}, errors.Wrap(errors.ErrCodeInvalidVersionSpec, err, "invalid specifier %q", spec)
		}
		out = out.Intersect(newSet("", ivs...))
	}
	out.raw = spec
	return out, nil
}

func pepClause(clause string) ([]Interval, error) {
	op, ver := "==", clause
	if m := pepClauseRe.FindStringSubmatch(clause); m != nil {
		op, ver = m[1], m[2]
	} else if strings.ContainsAny(clause, "<>=!~ ") {
		return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "malformed clause %q", clause)
	}

	if strings.HasSuffix(ver, ".*") {
		if op != "==" && op != "!=" {
			return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "wildcard only allowed with == and != in %q", clause)
		}
		lo, hi, err := prefixRange(strings.TrimSuffix(ver, ".*"))
		if err != nil {
			return nil, err
		}
		if op == "==" {
			return []Interval{between(lo, hi)}, nil
		}
		return exceptRange(lo, hi), nil
	}

	v, err := ParseVersion(ver)
	if err != nil {
		return nil, err
	}
	switch op {
	case "==", "===":
		return []Interval{point(v)}, nil
	case "!=":
		return except(v), nil
	case ">=":
		return []Interval{above(v, true)}, nil
	case ">":
		return []Interval{above(v, false)}, nil
	case "<=":
		return []Interval{below(v, true)}, nil
	case "<":
		return []Interval{below(v, false)}, nil
	case "~=":
		// ~=X.Y.Z means >=X.Y.Z, ==X.Y.*
		n := releaseLen(ver)
		if n < 2 {
			return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "~= needs at least two release components in %q", clause)
		}
		var hi semver.Version
		if n == 2 {
			hi = v.IncMajor()
		} else {
			hi = v.IncMinor()
		}
		return []Interval{between(v, &hi)}, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidVersionSpec, "unknown operator %q", op)
}

// prefixRange returns [prefix, next prefix) for "1.2" style prefixes.
func prefixRange(prefix string) (*semver.Version, *semver.Version, error) {
	lo, err := ParseVersion(prefix)
	if err != nil {
		return nil, nil, err
	}
	var hi semver.Version
	switch releaseLen(prefix) {
	case 1:
		hi = lo.IncMajor()
	case 2:
		hi = lo.IncMinor()
	default:
		hi = lo.IncPatch()
	}
	return lo, &hi, nil
}

func releaseLen(ver string) int {
	ver = strings.TrimPrefix(ver, "v")
	if i := strings.IndexByte(ver, '!'); i >= 0 {
		ver = ver[i+1:]
	}
	n := 1
	for i := 0; i < len(ver); i++ {
		switch c := ver[i]; {
		case c == '.':
			if i+1 < len(ver) && ver[i+1] >= '0' && ver[i+1] <= '9' {
				n++
				continue
			}
			return n
		case c >= '0' && c <= '9':
		default:
			return n
		}
	}
	return n
}
