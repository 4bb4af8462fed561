package python

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/errors"
)

func TestRequirements_Supports(t *testing.T) {
	parser := &Requirements{}

	tests := []struct {
		filename string
		want     bool
	}{
		{"requirements.txt", true},
		{"requirements-dev.txt", true},
		{"requirements_prod.txt", true},
		{"requirements-test.txt", true},
		{"pyproject.toml", false},
		{"Pipfile", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := parser.Supports(tt.filename); got != tt.want {
				t.Errorf("Supports(%q) = %v, want %v", tt.filename, got, tt.want)
			}
		})
	}
}

func TestParseRequirement(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		spec   string
		extras []string
		marker string
	}{
		{"requests", "requests", "", nil, ""},
		{"requests==2.31.0", "requests", "==2.31.0", nil, ""},
		{"Django >= 4.2, < 5", "Django", ">=4.2,<5", nil, ""},
		{"requests[security,socks]>=2.28", "requests", ">=2.28", []string{"security", "socks"}, ""},
		{`tomli>=1.1 ; python_version < "3.11"`, "tomli", ">=1.1", nil, `python_version < "3.11"`},
		{"six (>=1.5)", "six", ">=1.5", nil, ""},
		{"pkg @ https://example.com/pkg.whl", "pkg", "", nil, ""},
		{"zope.interface~=6.0", "zope.interface", "~=6.0", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRequirement(tt.in)
			if err != nil {
				t.Fatalf("ParseRequirement() error: %v", err)
			}
			if got.Name != tt.name || got.Spec != tt.spec || got.Marker != tt.marker {
				t.Errorf("ParseRequirement() = %+v", got)
			}
			if !slices.Equal(got.Extras, tt.extras) {
				t.Errorf("Extras = %v, want %v", got.Extras, tt.extras)
			}
		})
	}
}

func TestParseRequirementErrors(t *testing.T) {
	if _, err := ParseRequirement("requests>=>2"); !errors.Is(err, errors.ErrCodeInvalidVersionSpec) {
		t.Errorf("bad spec error = %v", err)
	}
	if _, err := ParseRequirement("!!"); !errors.Is(err, errors.ErrCodeInvalidPackage) {
		t.Errorf("bad name error = %v", err)
	}
}

func TestMarkerExtra(t *testing.T) {
	tests := []struct {
		marker string
		want   string
		ok     bool
	}{
		{`extra == "socks"`, "socks", true},
		{`python_version >= "3.8" and extra == 'Security_Extra'`, "security-extra", true},
		{`python_version >= "3.8"`, "", false},
	}
	for _, tt := range tests {
		got, ok := MarkerExtra(tt.marker)
		if got != tt.want || ok != tt.ok {
			t.Errorf("MarkerExtra(%q) = %q, %v", tt.marker, got, ok)
		}
	}
}

func TestRequirements_Parse(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	write("requirements.txt", `# Test requirements
requests>=2.28.0
click==8.1.0
`)
	path := write("requirements-dev.txt", `-r requirements.txt
--index-url https://pypi.org/simple
pytest>=7 \
    ,<9
Requests==2.31.0  # already listed above
-e ./local-package
git+https://github.com/user/repo.git
black ; python_version >= "3.8"
`)

	got, err := (&Requirements{}).Parse(path, deps.EnvDev)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	var names, specs []string
	for _, r := range got {
		names = append(names, r.Name)
		specs = append(specs, r.Spec)
	}
	wantNames := []string{"requests", "click", "pytest", "black"}
	wantSpecs := []string{">=2.28.0", "==8.1.0", ">=7,<9", ""}
	if !slices.Equal(names, wantNames) {
		t.Errorf("names = %v, want %v", names, wantNames)
	}
	if !slices.Equal(specs, wantSpecs) {
		t.Errorf("specs = %v, want %v", specs, wantSpecs)
	}
}

func TestRequirements_ParseIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "requirements-a.txt")
	b := filepath.Join(dir, "requirements-b.txt")
	os.WriteFile(a, []byte("-r requirements-b.txt\nflask\n"), 0o644)
	os.WriteFile(b, []byte("-r requirements-a.txt\njinja2\n"), 0o644)

	got, err := (&Requirements{}).Parse(a, deps.EnvProd)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Parse() = %v, want jinja2 and flask", got)
	}
}

func TestRequirements_ParseBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	os.WriteFile(path, []byte("ok\nbroken>=>1\n"), 0o644)

	_, err := (&Requirements{}).Parse(path, deps.EnvProd)
	if err == nil {
		t.Fatal("Parse() should fail on an invalid specifier")
	}
	if !errors.Is(err, errors.ErrCodeInvalidVersionSpec) {
		t.Errorf("error = %v", err)
	}
}

func TestRequiresDist(t *testing.T) {
	specs := []string{
		"charset-normalizer<4,>=2",
		"idna<4,>=2.5",
		`PySocks!=1.5.7,>=1.5.6; extra == "socks"`,
		`chardet<6,>=3.0.2; extra == "use-chardet-on-py3"`,
	}

	got := requiresDist(specs, nil)
	if len(got) != 2 {
		t.Errorf("requiresDist() without extras = %d, want 2", len(got))
	}

	got = requiresDist(specs, []string{"socks"})
	if len(got) != 3 || got[2].Name != "PySocks" {
		t.Errorf("requiresDist() with socks = %+v", got)
	}
}
