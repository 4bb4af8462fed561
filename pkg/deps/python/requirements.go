package python

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/errors"
)

var (
	reqRE    = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[([^\]]*)\])?\s*(.*)$`)
	extraRE  = regexp.MustCompile(`extra\s*==\s*["']([^"']+)["']`)
	optionRE = regexp.MustCompile(`^(-r|--requirement)(?:\s+|=)(\S+)`)
)

// ParseRequirement parses a PEP 508 requirement such as
// `requests[security]>=2.28,<3 ; python_version >= "3.8"`. The legacy
// parenthesized form `name (>=1.0)` used in published metadata is accepted.
// Direct URL references ("name @ https://...") keep an empty specifier.
func ParseRequirement(s string) (deps.Requirement, error) {
	raw := strings.TrimSpace(s)
	body, marker, _ := strings.Cut(raw, ";")
	body = strings.TrimSpace(body)

	m := reqRE.FindStringSubmatch(body)
	if m == nil {
		return deps.Requirement{}, errors.New(errors.ErrCodeInvalidPackage, "invalid requirement %q", raw)
	}

	req := deps.Requirement{
		Name:   m[1],
		Marker: strings.TrimSpace(marker),
		Raw:    raw,
	}
	for _, e := range strings.Split(m[2], ",") {
		if e = strings.TrimSpace(e); e != "" {
			req.Extras = append(req.Extras, e)
		}
	}

	spec := strings.TrimSpace(m[3])
	if strings.HasPrefix(spec, "@") {
		return req, nil
	}
	spec = strings.TrimSuffix(strings.TrimPrefix(spec, "("), ")")
	spec = strings.Join(strings.Fields(spec), "")
	if spec != "" {
		if _, err := constraint.ParsePEP440(spec); err != nil {
			return deps.Requirement{}, errors.Wrap(errors.ErrCodeInvalidVersionSpec, err, "invalid version spec in %q", raw)
		}
	}
	req.Spec = spec
	return req, nil
}

// MarkerExtra returns the extra a marker is conditioned on, if any.
func MarkerExtra(marker string) (string, bool) {
	m := extraRE.FindStringSubmatch(marker)
	if m == nil {
		return "", false
	}
	return normalize(m[1]), true
}

// Requirements parses requirements*.txt files, following "-r" includes.
type Requirements struct{}

func (r *Requirements) Type() string { return "requirements.txt" }

func (r *Requirements) Supports(name string) bool {
	return name == "requirements.txt" ||
		(strings.HasPrefix(name, "requirements") && strings.HasSuffix(name, ".txt"))
}

// Parse returns the requirements in path in file order. The first mention
// of a package wins. Editable installs, URLs and pip options are skipped.
func (r *Requirements) Parse(path string, _ deps.Environment) ([]deps.Requirement, error) {
	p := &reqParser{seen: map[string]bool{}, files: map[string]bool{}}
	if err := p.parseFile(path); err != nil {
		return nil, err
	}
	return p.out, nil
}

type reqParser struct {
	out   []deps.Requirement
	seen  map[string]bool
	files map[string]bool
}

func (p *reqParser) parseFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if p.files[abs] {
		return nil
	}
	p.files[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		return err
	}
	defer f.Close()

	var (
		scanner = bufio.NewScanner(f)
		lineNo  int
		pending string
	)
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if cont, ok := strings.CutSuffix(line, `\`); ok {
			pending += cont
			continue
		}
		line, pending = pending+line, ""
		if err := p.parseLine(abs, lineNo, line); err != nil {
			return err
		}
	}
	if pending != "" {
		if err := p.parseLine(abs, lineNo, pending); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (p *reqParser) parseLine(file string, lineNo int, line string) error {
	if i := strings.Index(line, " #"); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return nil
	}
	if m := optionRE.FindStringSubmatch(line); m != nil {
		return p.parseFile(filepath.Join(filepath.Dir(file), m[2]))
	}
	if line[0] == '-' || strings.Contains(line, "://") || strings.HasPrefix(line, "git+") {
		return nil
	}

	req, err := ParseRequirement(line)
	if err != nil {
		return fmt.Errorf("%s:%d: %w", filepath.Base(file), lineNo, err)
	}
	name := normalize(req.Name)
	if !p.seen[name] {
		p.seen[name] = true
		p.out = append(p.out, req)
	}
	return nil
}
