// Package languages lists the supported installer kinds.
//
// The language packages import pkg/deps, so pkg/deps cannot import them
// back. Consumers that need a language by kind import this package.
package languages

import (
	"fmt"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/deps/javascript"
	"github.com/matzehuels/smoothdeps/pkg/deps/python"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// All is the list of supported languages, one per installer kind.
var All = []*deps.Language{
	python.Language,
	javascript.Language,
}

// For returns the Language for kind.
func For(kind source.Kind) (*deps.Language, error) {
	for _, l := range All {
		if l.Kind == kind {
			return l, nil
		}
	}
	return nil, fmt.Errorf("unsupported kind %q", kind)
}
