package javascript

import (
	"encoding/json"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/errors"
)

// PackageJSON parses package.json files. prod installs "dependencies";
// dev and test add "devDependencies". Ranges are kept as written.
type PackageJSON struct{}

func (p *PackageJSON) Type() string              { return "package.json" }
func (p *PackageJSON) Supports(name string) bool { return strings.EqualFold(name, "package.json") }

func (p *PackageJSON) Parse(path string, env deps.Environment) ([]deps.Requirement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pkg packageFile
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidManifest, err, "decode %s", path)
	}

	groups := []map[string]string{pkg.Dependencies}
	if env != deps.EnvProd {
		groups = append(groups, pkg.DevDependencies)
	}

	var out []deps.Requirement
	seen := map[string]bool{}
	for _, group := range groups {
		for _, name := range slices.Sorted(maps.Keys(group)) {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, requirementOf(name, group[name]))
		}
	}
	return out, nil
}

// requirementOf keeps non-registry specifiers (git URLs, file: paths,
// aliases) out of range checks by dropping their specifier.
func requirementOf(name, spec string) deps.Requirement {
	raw := name + "@" + spec
	if strings.Contains(spec, ":") || strings.Contains(spec, "/") {
		spec = ""
	}
	return deps.Requirement{Name: name, Spec: spec, Raw: raw}
}

type packageFile struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}
