// Package source defines package mirrors and the registry that persists them.
//
// A [Source] is one named index endpoint for a package manager. The
// [Registry] is the set of known sources, loaded from a YAML file at startup
// and rewritten under an advisory file lock whenever an administrative
// command edits it.
package source

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/errors"
)

// Kind identifies the package manager a source serves.
type Kind string

const (
	KindPip Kind = "pip"
	KindNpm Kind = "npm"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindPip, KindNpm}

// ParseKind converts user input ("pip", "PIP", "npm") to a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPip:
		return KindPip, nil
	case KindNpm:
		return KindNpm, nil
	}
	return "", errors.New(errors.ErrCodeInvalidInput, "unknown installer kind %q (want pip or npm)", s)
}

func (k Kind) String() string { return string(k) }

// Ident is the upper-case identifier used in content keys ("PIP", "NPM").
func (k Kind) Ident() string { return strings.ToUpper(string(k)) }

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool { return k == KindPip || k == KindNpm }

var pep503Sep = regexp.MustCompile(`[-_.]+`)

// Normalize returns the canonical form of a package name for k. pip names
// follow PEP 503 (lowercase, runs of "-_." become "-"); npm names are
// lowercased.
func (k Kind) Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if k == KindPip {
		return pep503Sep.ReplaceAllString(name, "-")
	}
	return name
}

// Source is one package mirror.
type Source struct {
	Name        string `yaml:"name" json:"name"`
	Kind        Kind   `yaml:"kind" json:"kind"`
	URL         string `yaml:"url" json:"url"`
	Priority    int    `yaml:"priority" json:"priority"`
	Region      string `yaml:"region,omitempty" json:"region,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Disabled sources are skipped by automatic selection but remain usable
	// through an explicit override.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Key returns the registry-wide identifier "kind/name".
func (s Source) Key() string { return KeyOf(s.Kind, s.Name) }

// KeyOf builds the identifier for a (kind, name) pair.
func KeyOf(kind Kind, name string) string { return string(kind) + "/" + name }

// BaseURL returns URL without a trailing slash.
func (s Source) BaseURL() string { return strings.TrimRight(s.URL, "/") }

func (s Source) String() string { return fmt.Sprintf("%s (%s)", s.Name, s.URL) }

// Validate checks the fields an administrator can set.
func (s Source) Validate() error {
	if err := errors.ValidateSourceName(s.Name); err != nil {
		return err
	}
	if !s.Kind.Valid() {
		return errors.New(errors.ErrCodeInvalidSource, "source %q: unknown kind %q", s.Name, s.Kind)
	}
	if err := errors.ValidateURL(s.URL); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidSource, err, "source %q", s.Name)
	}
	if s.Priority < 0 {
		return errors.New(errors.ErrCodeInvalidSource, "source %q: priority must not be negative", s.Name)
	}
	return nil
}

// Presets returns the built-in mirrors used when no registry file exists.
func Presets() []Source {
	return []Source{
		{Name: "pypi-official", Kind: KindPip, URL: "https://pypi.org/simple", Priority: 100, Region: "global", Description: "PyPI"},
		{Name: "pypi-tsinghua", Kind: KindPip, URL: "https://pypi.tuna.tsinghua.edu.cn/simple", Priority: 50, Region: "china", Description: "Tsinghua University TUNA mirror"},
		{Name: "pypi-aliyun", Kind: KindPip, URL: "https://mirrors.aliyun.com/pypi/simple", Priority: 60, Region: "china", Description: "Alibaba Cloud mirror"},
		{Name: "npm-official", Kind: KindNpm, URL: "https://registry.npmjs.org", Priority: 100, Region: "global", Description: "npm registry"},
		{Name: "npm-npmmirror", Kind: KindNpm, URL: "https://registry.npmmirror.com", Priority: 50, Region: "china", Description: "npmmirror (formerly taobao)"},
	}
}
