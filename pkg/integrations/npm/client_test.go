package npm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matzehuels/smoothdeps/pkg/integrations"
)

const reactPackument = `{
  "name": "react",
  "dist-tags": {"latest": "18.2.0", "next": "19.0.0-rc.1"},
  "versions": {
    "17.0.2": {"name": "react", "version": "17.0.2", "dist": {"tarball": "https://r.example/react/-/react-17.0.2.tgz", "shasum": "D0B5CFFBB5C7DEFB3A3DA8D20C52EDC0ECB6C6B4"}},
    "18.2.0": {"name": "react", "version": "18.2.0",
      "dependencies": {"loose-envify": "^1.1.0"},
      "dist": {"tarball": "https://r.example/react/-/react-18.2.0.tgz", "integrity": "sha512-/3IjMdb2L9QbBdWiW5e3P2/npwMBaU9mHCSCUzNln0ZCYbcfTsGbTJrU/kGemdH2IWmB2ioZ+zkxtmq6g09fGQ=="}},
    "18.3.0": {"name": "react", "version": "18.3.0", "dist": {"tarball": "https://r.example/react/-/react-18.3.0.tgz"}},
    "19.0.0-rc.1": {"name": "react", "version": "19.0.0-rc.1", "dist": {"tarball": "https://r.example/react/-/react-19.0.0-rc.1.tgz"}}
  }
}`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.EscapedPath() {
		case "/react":
			if got := r.Header.Get("Accept"); got != AcceptAbbreviated {
				t.Errorf("Accept = %q", got)
			}
			w.Write([]byte(reactPackument))
		case "/@types%2Fnode":
			w.Write([]byte(`{"name":"@types/node","dist-tags":{"latest":"20.0.0"},"versions":{"20.0.0":{"name":"@types/node","version":"20.0.0","dist":{"tarball":"t"}}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func testClient(server *httptest.Server) *Client {
	c := NewClient(server.URL, nil, nil)
	c.SetHTTPClient(server.Client())
	return c
}

func TestResolve(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	p, err := testClient(server).Packument(context.Background(), "React", false)
	if err != nil {
		t.Fatalf("Packument() error: %v", err)
	}

	tests := []struct {
		spec string
		want string
	}{
		{"", "18.2.0"},
		{"latest", "18.2.0"},
		{"next", "19.0.0-rc.1"},
		{"^18.0.0", "18.2.0"}, // latest satisfies the range
		{">=18.3.0", "18.3.0"},
		{"^17", "17.0.2"},
		{"17.0.2", "17.0.2"},
	}
	for _, tt := range tests {
		m, err := p.Resolve(tt.spec)
		if err != nil {
			t.Errorf("Resolve(%q) error: %v", tt.spec, err)
			continue
		}
		if m.Version != tt.want {
			t.Errorf("Resolve(%q) = %s, want %s", tt.spec, m.Version, tt.want)
		}
	}

	if _, err := p.Resolve("^20"); !errors.Is(err, integrations.ErrNoMatchingVersion) {
		t.Errorf("Resolve(^20) error = %v, want ErrNoMatchingVersion", err)
	}
}

func TestDistDigest(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	p, err := testClient(server).Packument(context.Background(), "react", false)
	if err != nil {
		t.Fatal(err)
	}
	if d := p.Versions["18.2.0"].Dist.Digest(); d.Algorithm != "sha512" {
		t.Errorf("18.2.0 digest = %v, want sha512", d)
	}
	if d := p.Versions["17.0.2"].Dist.Digest(); d.Algorithm != "sha1" || d.Hex != "d0b5cffbb5c7defb3a3da8d20c52edc0ecb6c6b4" {
		t.Errorf("17.0.2 digest = %v", d)
	}
	if d := p.Versions["18.3.0"].Dist.Digest(); !d.IsZero() {
		t.Errorf("18.3.0 digest = %v, want zero", d)
	}
}

func TestScopedPackage(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	m, err := testClient(server).FetchVersion(context.Background(), "@types/node", "^20", false)
	if err != nil {
		t.Fatalf("FetchVersion() error: %v", err)
	}
	if m.Version != "20.0.0" {
		t.Errorf("version = %s", m.Version)
	}
}

func TestPackumentNotFound(t *testing.T) {
	server := testServer(t)
	defer server.Close()

	_, err := testClient(server).Packument(context.Background(), "left-pad-missing", false)
	if !errors.Is(err, integrations.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRequirements(t *testing.T) {
	m := Manifest{
		Dependencies:         map[string]string{"b": "^1", "a": "~2"},
		PeerDependencies:     map[string]string{"react": "^17"},
		OptionalDependencies: map[string]string{"fsevents": "*"},
	}
	got := m.Requirements()
	want := [][2]string{{"a", "~2"}, {"b", "^1"}, {"react", "^17"}}
	if len(got) != len(want) {
		t.Fatalf("Requirements() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Requirements()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
