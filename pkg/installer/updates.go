package installer

import (
	"context"

	"github.com/matzehuels/smoothdeps/pkg/constraint"
	"github.com/matzehuels/smoothdeps/pkg/deps"
	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/selector"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Resolver looks up the version a requirement resolves to on a source
// without downloading anything. [RegistryFetcher] implements it.
type Resolver interface {
	Resolve(ctx context.Context, src source.Source, req deps.Requirement) (*Artifact, error)
}

// Update compares an installed package with the newest version a source
// offers. Error is set when no source could answer.
type Update struct {
	Name    string `json:"name"`
	Current string `json:"current"`
	Latest  string `json:"latest,omitempty"`
	Source  string `json:"source,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Outdated reports whether Latest is newer than Current.
func (u Update) Outdated() bool {
	return u.Latest != "" && constraint.Compare(u.Latest, u.Current) > 0
}

// Pinned returns the requirement for the latest version.
func (u Update) Pinned(kind source.Kind) deps.Requirement {
	return pinned(kind, deps.Requirement{Name: u.Name}, u.Latest)
}

// CheckUpdates looks up the newest version of every package in installed.
// Sources are chosen and failed over as for installs; override pins one
// source. A package no source could answer for gets an Error and does not
// stop the others.
func (in *Installer) CheckUpdates(ctx context.Context, kind source.Kind, override string, installed []Installed) ([]Update, error) {
	resolver, ok := in.fetcher.(Resolver)
	if !ok {
		return nil, smerrors.New(smerrors.ErrCodeUnsupported, "fetcher cannot look up versions")
	}
	if kind == source.KindPip {
		in.detectPython(ctx)
	}
	sel, err := in.selector.Select(ctx, kind, override)
	if err != nil {
		return nil, err
	}

	out := make([]Update, 0, len(installed))
	for _, pkg := range installed {
		u := Update{Name: kind.Normalize(pkg.Name), Current: pkg.Version}
		art, src, err := in.latest(ctx, resolver, sel, deps.Requirement{Name: u.Name})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			u.Error = smerrors.UserMessage(err)
			in.logger.Warn("could not check for updates", "package", u.Name, "err", u.Error)
		} else {
			u.Latest, u.Source = art.Version, src.Name
		}
		out = append(out, u)
	}
	return out, nil
}

// latest resolves req, failing over on source-level errors.
func (in *Installer) latest(ctx context.Context, resolver Resolver, sel selector.Selection, req deps.Requirement) (*Artifact, source.Source, error) {
	src := sel.Source
	tried := map[string]bool{}
	for {
		tried[src.Key()] = true
		var art *Artifact
		b := in.backoff
		if b.Clock == nil {
			b.Clock = in.clock
		}
		err := b.Do(ctx, func(int) error {
			var err error
			art, err = resolver.Resolve(ctx, src, req)
			if outcomeOf(err) == OutcomeTransient && !httputil.IsRetryable(err) {
				return httputil.Retryable(err)
			}
			return err
		})
		if err == nil {
			return art, src, nil
		}
		if ctx.Err() != nil || outcomeOf(err) == OutcomeTerminal {
			return nil, src, err
		}
		if in.marker != nil {
			in.marker.MarkFailure(ctx, src, err)
		}
		if sel.Override || len(tried) >= in.maxSources {
			return nil, src, err
		}
		next, nerr := in.selector.Next(src.Kind, tried)
		if nerr != nil {
			return nil, src, err
		}
		src = next
	}
}

// Uninstall removes names with the package manager of kind, run in dir.
// Cached artifacts are kept.
func (in *Installer) Uninstall(ctx context.Context, kind source.Kind, dir string, names ...string) error {
	req := Request{Kind: kind}
	for _, n := range names {
		req.Packages = append(req.Packages, deps.Requirement{Name: n})
	}
	if err := req.Validate(); err != nil {
		return err
	}
	out, err := in.runner.Run(ctx, in.commands.Uninstall(kind, dir, names...))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return smerrors.Wrap(smerrors.ErrCodeInternal, err, "%s uninstall: %s", kind, lastLine(out))
	}
	return nil
}
