package deps

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/smoothdeps/pkg/source"
)

const (
	DefaultMaxDepth = 20   // Default maximum dependency depth
	DefaultMaxNodes = 2000 // Default maximum packages to fetch
)

// Environment selects which manifest applies to an install or a lock file.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// Environments lists the valid environments.
var Environments = []Environment{EnvDev, EnvTest, EnvProd}

// ParseEnvironment validates s. An empty string means prod.
func ParseEnvironment(s string) (Environment, error) {
	switch e := Environment(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return EnvProd, nil
	case EnvDev, EnvTest, EnvProd:
		return e, nil
	}
	return "", fmt.Errorf("unknown environment %q (want dev, test or prod)", s)
}

func (e Environment) String() string { return string(e) }

// Requirement is one (name, specifier) pair as written in a manifest, on the
// command line, or in a package's published metadata.
type Requirement struct {
	Name   string   // Package name as written
	Spec   string   // Version specifier, "" for any
	Extras []string // pip extras, e.g. "security" in requests[security]
	Marker string   // pip environment marker, without the leading ';'
	Raw    string   // Original text
}

// Target returns the argument handed to the package manager.
func (r Requirement) Target(kind source.Kind) string {
	if kind == source.KindNpm {
		if r.Spec == "" {
			return r.Name
		}
		return r.Name + "@" + r.Spec
	}
	name := r.Name
	if len(r.Extras) > 0 {
		name += "[" + strings.Join(r.Extras, ",") + "]"
	}
	return name + r.Spec
}

func (r Requirement) String() string {
	if r.Raw != "" {
		return r.Raw
	}
	return r.Name + r.Spec
}

// Options configures dependency walking.
type Options struct {
	MaxDepth int         // Maximum depth to traverse (default: 20)
	MaxNodes int         // Maximum packages to fetch (default: 2000)
	Refresh  bool        // Bypass metadata caches
	Logger   *log.Logger // Defaults to log.Default()
}

// WithDefaults returns a copy of Options with zero values replaced by defaults.
func (o Options) WithDefaults() Options {
	opts := o
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return opts
}

// Package is the registry view of one resolved package version.
type Package struct {
	Name         string        // Canonical name
	Version      string        // Version chosen for the requirement
	Requirements []Requirement // Direct requirements of that version
	Summary      string
}

// Fetcher retrieves the version of a package that satisfies req, together
// with that version's own requirements.
type Fetcher interface {
	Fetch(ctx context.Context, req Requirement, refresh bool) (*Package, error)
}

// FetcherFunc adapts a function to [Fetcher].
type FetcherFunc func(ctx context.Context, req Requirement, refresh bool) (*Package, error)

func (f FetcherFunc) Fetch(ctx context.Context, req Requirement, refresh bool) (*Package, error) {
	return f(ctx, req, refresh)
}
