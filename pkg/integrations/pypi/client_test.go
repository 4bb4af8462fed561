package pypi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matzehuels/smoothdeps/pkg/integrations"
)

const requestsJSON = `{
  "meta": {"api-version": "1.1"},
  "name": "requests",
  "versions": ["2.30.0", "2.31.0", "2.32.0"],
  "files": [
    {"filename": "requests-2.30.0.tar.gz", "url": "/files/requests-2.30.0.tar.gz", "hashes": {"sha256": "aa"}},
    {"filename": "requests-2.31.0-cp311-cp311-manylinux_x86_64.whl", "url": "/files/plat.whl", "hashes": {}},
    {"filename": "requests-2.31.0-py3-none-any.whl", "url": "/files/requests-2.31.0-py3-none-any.whl", "hashes": {"sha256": "BB"}},
    {"filename": "requests-2.31.0.tar.gz", "url": "/files/requests-2.31.0.tar.gz", "hashes": {"sha256": "cc"}},
    {"filename": "requests-2.32.0-py3-none-any.whl", "url": "/files/requests-2.32.0-py3-none-any.whl", "hashes": {"sha256": "dd"}, "yanked": "broken"}
  ]
}`

const requestsHTML = `<!DOCTYPE html>
<html><body>
<a href="../../packages/requests-2.30.0.tar.gz#sha256=aa">requests-2.30.0.tar.gz</a><br/>
<a href="../../packages/requests-2.31.0-py3-none-any.whl#sha256=bb" data-requires-python="&gt;=3.7">requests-2.31.0-py3-none-any.whl</a><br/>
<a href="../../packages/requests-2.32.0.tar.gz#sha256=dd" data-yanked="">requests-2.32.0.tar.gz</a><br/>
</body></html>`

func testClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c := NewClient(server.URL+"/simple", nil, nil)
	c.SetHTTPClient(server.Client())
	return c
}

func TestProjectJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/requests/" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Accept"); got != AcceptSimpleJSON {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", simpleJSONType)
		w.Write([]byte(requestsJSON))
	}))
	defer server.Close()

	p, err := testClient(t, server).Project(context.Background(), "Requests", false)
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	if p.Name != "requests" || len(p.Files) != 5 {
		t.Fatalf("Project() = %+v", p)
	}
	if p.Files[0].URL != server.URL+"/files/requests-2.30.0.tar.gz" {
		t.Errorf("URL not resolved: %q", p.Files[0].URL)
	}
	if !p.Files[4].Yanked {
		t.Error("string yanked reason should count as yanked")
	}

	tests := []struct {
		spec     string
		version  string
		filename string
	}{
		{"", "2.31.0", "requests-2.31.0-py3-none-any.whl"},
		{"<2.31", "2.30.0", ""},
		{"==2.32.0", "2.32.0", "requests-2.32.0-py3-none-any.whl"},
	}
	for _, tt := range tests {
		c, err := p.Resolve(tt.spec, "")
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.spec, err)
			continue
		}
		filename := ""
		if c.File != nil {
			filename = c.File.Filename
		}
		if c.Version != tt.version || filename != tt.filename {
			t.Errorf("Resolve(%q) = %s %q, want %s %q", tt.spec, c.Version, filename, tt.version, tt.filename)
		}
	}

	c, _ := p.Resolve("==2.31.0", "")
	if d := c.File.Digest(); d.Algorithm != "sha256" || d.Hex != "bb" {
		t.Errorf("Digest() = %v", d)
	}

	if _, err := p.Resolve(">=3", ""); !errors.Is(err, integrations.ErrNoMatchingVersion) {
		t.Errorf("Resolve(>=3) error = %v, want ErrNoMatchingVersion", err)
	}
}

func TestProjectHTMLFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(requestsHTML))
	}))
	defer server.Close()

	p, err := testClient(t, server).Project(context.Background(), "requests", false)
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	if len(p.Files) != 3 {
		t.Fatalf("files = %+v", p.Files)
	}
	f := p.Files[1]
	if f.Filename != "requests-2.31.0-py3-none-any.whl" || f.Version != "2.31.0" {
		t.Errorf("file = %+v", f)
	}
	if f.URL != server.URL+"/packages/requests-2.31.0-py3-none-any.whl" {
		t.Errorf("URL = %q", f.URL)
	}
	if f.Hashes["sha256"] != "bb" || f.RequiresPython != ">=3.7" {
		t.Errorf("attrs = %+v", f)
	}
	if !p.Files[2].Yanked {
		t.Error("data-yanked not detected")
	}

	c, err := p.Resolve("", "")
	if err != nil || c.Version != "2.31.0" {
		t.Errorf("Resolve() = %+v, %v; yanked release should be skipped", c, err)
	}
}

func TestProjectNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, err := testClient(t, server).Project(context.Background(), "missing-pkg", false)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveWithoutInstallableFile(t *testing.T) {
	p := &Project{Name: "numpy", Files: []File{
		{Filename: "numpy-1.26.0-cp312-cp312-win_amd64.whl", Version: "1.26.0"},
	}}
	c, err := p.Resolve(">=1.20", "")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if c.Version != "1.26.0" || c.File != nil {
		t.Errorf("Resolve() = %+v, want version without file", c)
	}
}

func TestResolvePlatformWheelLeavesChoiceToPip(t *testing.T) {
	p := &Project{Name: "pydantic-core", Files: []File{
		{Filename: "pydantic_core-2.14.0-cp311-cp311-manylinux_2_17_x86_64.manylinux2014_x86_64.whl", Version: "2.14.0"},
		{Filename: "pydantic_core-2.14.0.tar.gz", Version: "2.14.0"},
	}}
	c, err := p.Resolve("", "3.11.4")
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if c.Version != "2.14.0" {
		t.Errorf("Version = %q, want 2.14.0", c.Version)
	}
	if c.File != nil {
		t.Errorf("File = %s, want none so that the sdist is never forced", c.File.Filename)
	}
}

func TestResolveRequiresPython(t *testing.T) {
	p := &Project{Name: "tool", Files: []File{
		{Filename: "tool-1.0-py3-none-any.whl", Version: "1.0", RequiresPython: ">=3.8"},
		{Filename: "tool-2.0-py3-none-any.whl", Version: "2.0", RequiresPython: ">=3.99"},
		{Filename: "tool-2.0.tar.gz", Version: "2.0", RequiresPython: ">=3.99"},
	}}

	tests := []struct {
		python   string
		version  string
		filename string
	}{
		{"3.11.4", "1.0", "tool-1.0-py3-none-any.whl"},
		{"3.99.0", "2.0", "tool-2.0-py3-none-any.whl"},
		{"", "2.0", "tool-2.0-py3-none-any.whl"},
	}
	for _, tt := range tests {
		c, err := p.Resolve("", tt.python)
		if err != nil {
			t.Errorf("Resolve(python %q) error: %v", tt.python, err)
			continue
		}
		if c.Version != tt.version || c.File == nil || c.File.Filename != tt.filename {
			t.Errorf("Resolve(python %q) = %s %+v, want %s %s", tt.python, c.Version, c.File, tt.version, tt.filename)
		}
	}

	if _, err := p.Resolve("==2.0", "3.8.10"); !errors.Is(err, integrations.ErrNoMatchingVersion) {
		t.Errorf("Resolve(==2.0) on 3.8 error = %v, want ErrNoMatchingVersion", err)
	}
}

func TestSupportsPython(t *testing.T) {
	tests := []struct {
		requires, python string
		want             bool
	}{
		{"", "3.11.4", true},
		{">=3.8", "", true},
		{">=3.8", "3.11.4", true},
		{">=3.12", "3.11.4", false},
		{">=2.7, !=3.0.*, !=3.1.*", "3.1.2", false},
		{"not a specifier", "3.11.4", true},
	}
	for _, tt := range tests {
		if got := SupportsPython(tt.requires, tt.python); got != tt.want {
			t.Errorf("SupportsPython(%q, %q) = %v, want %v", tt.requires, tt.python, got, tt.want)
		}
	}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		filename, name, version string
		ok                      bool
	}{
		{"Werkzeug-3.0.1-py3-none-any.whl", "werkzeug", "3.0.1", true},
		{"typing_extensions-4.9.0-py3-none-any.whl", "typing-extensions", "4.9.0", true},
		{"zope.interface-6.1.tar.gz", "zope-interface", "6.1", true},
		{"python-dateutil-2.8.2.tar.gz", "python-dateutil", "2.8.2", true},
		{"README.md", "", "", false},
		{"broken.whl", "", "", false},
	}
	for _, tt := range tests {
		name, version, ok := ParseFilename(tt.filename)
		if name != tt.name || version != tt.version || ok != tt.ok {
			t.Errorf("ParseFilename(%q) = %q, %q, %v", tt.filename, name, version, ok)
		}
	}
}

func TestFetchPackage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pypi/flask/2.0.0/json":
			w.Write([]byte(`{"info": {"name": "Flask", "version": "2.0.0",
				"requires_dist": ["click>=7.0", "Werkzeug (>=2.0)", "pytest; extra == 'test'"]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := testClient(t, server)
	info, err := c.FetchPackage(context.Background(), "Flask", "2.0.0", false)
	if err != nil {
		t.Fatalf("FetchPackage() error: %v", err)
	}
	if info.Name != "flask" || info.Version != "2.0.0" || len(info.RequiresDist) != 3 {
		t.Errorf("FetchPackage() = %+v", info)
	}

	if _, err := c.FetchPackage(context.Background(), "flask", "9.9", false); !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAPIURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://pypi.org/simple", "https://pypi.org/pypi"},
		{"https://pypi.tuna.tsinghua.edu.cn/simple/", "https://pypi.tuna.tsinghua.edu.cn/pypi"},
		{"https://nexus.example/repository/py/index", "https://nexus.example/repository/py/pypi"},
	}
	for _, tt := range tests {
		if got := APIURL(tt.in); got != tt.want {
			t.Errorf("APIURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileVersion(t *testing.T) {
	tests := []struct {
		project, filename, want string
	}{
		{"requests", "requests-2.31.0-py3-none-any.whl", "2.31.0"},
		{"requests", "requests-2.31.0.tar.gz", "2.31.0"},
		{"zope-interface", "zope.interface-6.0.tar.gz", "6.0"},
		{"python-dateutil", "python-dateutil-2.8.2.tar.gz", "2.8.2"},
		{"pkg", "pkg-1.0-1-py3-none-any.whl", "1.0"},
		{"pkg", "README.txt", ""},
	}
	for _, tt := range tests {
		if got := FileVersion(tt.project, tt.filename); got != tt.want {
			t.Errorf("FileVersion(%q, %q) = %q, want %q", tt.project, tt.filename, got, tt.want)
		}
	}
}

func TestIsPureWheel(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"six-1.16.0-py2.py3-none-any.whl", true},
		{"attrs-23.1.0-py3-none-any.whl", true},
		{"numpy-1.26.0-cp312-cp312-win_amd64.whl", false},
		{"futures-3.4.0-py2-none-any.whl", false},
		{"six-1.16.0.tar.gz", false},
	}
	for _, tt := range tests {
		if got := (File{Filename: tt.filename}).IsPureWheel(); got != tt.want {
			t.Errorf("IsPureWheel(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}
