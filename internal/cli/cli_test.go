package cli

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/smoothdeps/pkg/deps"
	"github.com/matzehuels/smoothdeps/pkg/installer"
	"github.com/matzehuels/smoothdeps/pkg/lock"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// =============================================================================
// Fixtures
// =============================================================================

type recordingRunner struct {
	mu   sync.Mutex
	cmds []installer.Command
}

func (r *recordingRunner) Run(_ context.Context, cmd installer.Command) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	if len(cmd.Args) > 1 && cmd.Args[0] == "ls" {
		return fmt.Appendf(nil, `{"dependencies": {%q: {"version": "1.3.0"}}}`, cmd.Args[1]), nil
	}
	return []byte("added 1 package"), nil
}

// installs returns the recorded commands other than dependency tree reads.
func (r *recordingRunner) installs() []installer.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []installer.Command
	for _, c := range r.cmds {
		if len(c.Args) == 0 || c.Args[0] != "ls" {
			out = append(out, c)
		}
	}
	return out
}

// npmRegistry serves /-/ping, a packument for left-pad 1.3.0 and its
// tarball.
func npmRegistry(t *testing.T) *httptest.Server {
	return npmRegistryVersions(t, "1.3.0")
}

// npmRegistryVersions serves left-pad in the given versions; the last one
// is tagged latest.
func npmRegistryVersions(t *testing.T, versions ...string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/-/ping" {
			w.Write([]byte("{}"))
			return
		}
		if r.URL.Path == "/left-pad" {
			manifests := map[string]any{}
			for _, v := range versions {
				sum := sha1.Sum(tarballOf(v))
				manifests[v] = map[string]any{
					"name":    "left-pad",
					"version": v,
					"dist": map[string]string{
						"tarball": srv.URL + "/left-pad/-/left-pad-" + v + ".tgz",
						"shasum":  hex.EncodeToString(sum[:]),
					},
				}
			}
			json.NewEncoder(w).Encode(map[string]any{
				"name":      "left-pad",
				"dist-tags": map[string]string{"latest": versions[len(versions)-1]},
				"versions":  manifests,
			})
			return
		}
		for _, v := range versions {
			if r.URL.Path == "/left-pad/-/left-pad-"+v+".tgz" {
				http.ServeContent(w, r, "left-pad-"+v+".tgz", time.Time{}, bytes.NewReader(tarballOf(v)))
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tarballOf(version string) []byte { return []byte("left-pad tarball " + version) }

// isolate points every config, cache and state path into a temp dir and
// writes a registry with a single npm mirror at url. It returns the project
// directory, which is also the working directory.
func isolate(t *testing.T, url string) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", filepath.Join(root, "cache"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("DEPS_REDIS_URL", "")
	t.Setenv("DEPS_MONGO_URI", "")

	reg := filepath.Join(root, "sources.yaml")
	require.NoError(t, os.WriteFile(reg, []byte(`sources:
  - name: local-npm
    kind: npm
    url: `+url+`
    priority: 10
`), 0o644))
	t.Setenv("DEPS_REGISTRY", reg)

	project := filepath.Join(root, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	t.Chdir(project)
	return project
}

func newTestCLI(runner installer.Runner) *CLI {
	c := New(io.Discard, LogInfo)
	c.runner = runner
	return c
}

func execute(t *testing.T, c *CLI, args ...string) error {
	t.Helper()
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

// =============================================================================
// Tests
// =============================================================================

func TestRootCommand(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()

	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{
		"install", "check-conflicts", "lock", "restore", "outdated", "update", "uninstall",
		"source", "export", "cache", "history", "serve", "completion",
	} {
		assert.Contains(t, names, want)
	}
}

func TestInstall_CachesAndLocks(t *testing.T) {
	srv := npmRegistry(t)
	project := isolate(t, srv.URL)
	runner := &recordingRunner{}
	c := newTestCLI(runner)

	require.NoError(t, execute(t, c, "install", "--kind", "npm", "left-pad@^1.3.0"))
	cmds := runner.installs()
	require.Len(t, cmds, 1)
	assert.Equal(t, "npm", cmds[0].Name)
	assert.Equal(t, []string{"install", "left-pad@1.3.0"}, cmds[0].Args[:2], "package.json records a version, not a cache path")
	assert.Contains(t, cmds[0].Args, "--registry")
	assert.NotContains(t, cmds[0].Args, "--offline")
	assert.NotContains(t, cmds[0].Args, "--save-dev")

	// Second install is served from the artifact cache.
	require.NoError(t, execute(t, c, "install", "--kind", "npm", "left-pad@^1.3.0"))
	cmds = runner.installs()
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[1].Args, "--offline")

	require.NoError(t, execute(t, c, "lock"))
	f, err := lock.Read(lock.Path(project, deps.EnvProd))
	require.NoError(t, err)
	require.Len(t, f.Packages, 1)
	assert.Equal(t, lock.Entry{Name: "left-pad", Version: "1.3.0", Kind: source.KindNpm, Source: "local-npm"}, f.Packages[0])

	require.NoError(t, execute(t, c, "restore"))
	cmds = runner.installs()
	require.Len(t, cmds, 3)
	assert.Contains(t, cmds[2].Args, "--offline", "restore hits the cache")
}

func TestInstall_PackageNotFound(t *testing.T) {
	srv := npmRegistry(t)
	isolate(t, srv.URL)
	runner := &recordingRunner{}

	err := execute(t, newTestCLI(runner), "install", "--kind", "npm", "no-such-package")
	require.Error(t, err)
	assert.Equal(t, ExitTerminal, ExitCode(err))
	assert.Empty(t, runner.installs())
}

func TestInstall_NoManifest(t *testing.T) {
	srv := npmRegistry(t)
	isolate(t, srv.URL)

	err := execute(t, newTestCLI(&recordingRunner{}), "install")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest")
}

func TestInstall_FromManifest(t *testing.T) {
	srv := npmRegistry(t)
	project := isolate(t, srv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(project, "package.json"),
		[]byte(`{"name": "app", "dependencies": {"left-pad": "^1.3.0"}}`), 0o644))
	runner := &recordingRunner{}

	require.NoError(t, execute(t, newTestCLI(runner), "install"))
	require.Len(t, runner.installs(), 1)
	assert.Equal(t, "npm", runner.installs()[0].Name)
}

func TestSource_AddDisableRemove(t *testing.T) {
	srv := npmRegistry(t)
	isolate(t, srv.URL)
	c := newTestCLI(&recordingRunner{})

	require.NoError(t, execute(t, c, "source", "add", "mirror-two", srv.URL+"/two", "--kind", "npm", "--priority", "5"))
	reg, err := source.Open(os.Getenv("DEPS_REGISTRY"))
	require.NoError(t, err)
	require.Len(t, reg.List(source.KindNpm), 2)
	assert.Equal(t, "mirror-two", reg.List(source.KindNpm)[0].Name)

	require.NoError(t, execute(t, c, "source", "disable", "mirror-two", "--kind", "npm"))
	reg, err = source.Open(os.Getenv("DEPS_REGISTRY"))
	require.NoError(t, err)
	got, err := reg.Get("mirror-two", source.KindNpm)
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	require.NoError(t, execute(t, c, "source", "remove", "mirror-two", "--kind", "npm"))
	reg, err = source.Open(os.Getenv("DEPS_REGISTRY"))
	require.NoError(t, err)
	assert.Len(t, reg.List(source.KindNpm), 1)

	err = execute(t, c, "source", "remove", "mirror-two", "--kind", "npm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mirror-two")
}

func TestExportAndPull(t *testing.T) {
	srv := npmRegistry(t)
	isolate(t, srv.URL)
	c := newTestCLI(&recordingRunner{})

	require.NoError(t, execute(t, c, "install", "--kind", "npm", "left-pad"))
	bundle := filepath.Join(t.TempDir(), "bundle")
	require.NoError(t, execute(t, c, "export", "--output", bundle))
	assert.FileExists(t, filepath.Join(bundle, "manifest.json"))

	require.NoError(t, execute(t, c, "cache", "clear"))
	runner := &recordingRunner{}
	require.NoError(t, execute(t, newTestCLI(runner), "install", "--kind", "npm", "--from-cache", bundle, "left-pad"))
	cmds := runner.installs()
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0].Args, "--offline")
}

func TestHistoryRows(t *testing.T) {
	rows := historyRows(nil, false)
	assert.Empty(t, rows)
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcdefg...", truncate(strings.Repeat("abcdefghij", 3), 10))
}

func TestOutdatedUpdateUninstall(t *testing.T) {
	srv := npmRegistryVersions(t, "1.2.0", "1.3.0")
	project := isolate(t, srv.URL)
	runner := &recordingRunner{}
	c := newTestCLI(runner)

	require.NoError(t, execute(t, c, "install", "--kind", "npm", "left-pad@1.2.0"))
	require.NoError(t, execute(t, c, "outdated", "--all"))
	require.Len(t, runner.installs(), 1, "outdated installs nothing")

	require.NoError(t, execute(t, c, "update", "--kind", "npm"))
	cmds := runner.installs()
	require.Len(t, cmds, 2)
	assert.Equal(t, "left-pad@1.3.0", cmds[1].Args[1])

	require.NoError(t, execute(t, c, "lock"))
	f, err := lock.Read(lock.Path(project, deps.EnvProd))
	require.NoError(t, err)
	require.Len(t, f.Packages, 1)
	assert.Equal(t, "1.3.0", f.Packages[0].Version)

	require.NoError(t, execute(t, c, "update"))
	assert.Len(t, runner.installs(), 2, "nothing left to update")

	err = execute(t, c, "update", "right-pad")
	require.Error(t, err)
	assert.Equal(t, ExitTerminal, ExitCode(err))

	require.NoError(t, execute(t, c, "uninstall", "--kind", "npm", "left-pad"))
	cmds = runner.installs()
	require.Len(t, cmds, 3)
	assert.Equal(t, []string{"uninstall", "left-pad"}, cmds[2].Args[:2])

	relock := filepath.Join(t.TempDir(), "deps.prod.lock")
	require.NoError(t, execute(t, c, "lock", "--output", relock))
	assert.NoFileExists(t, relock, "an uninstalled package leaves nothing to lock")
}

// conflictRegistry serves npm packuments where a@1.0.0 needs x@^2.0.0 and
// b@1.0.0 needs x@bRange. x exists as 1.0.0 and 2.0.0.
func conflictRegistry(t *testing.T, bRange string) *httptest.Server {
	t.Helper()
	manifest := func(name, version string, deps map[string]string) map[string]any {
		return map[string]any{"name": name, "version": version, "dependencies": deps, "dist": map[string]string{}}
	}
	packuments := map[string]map[string]any{
		"a": {"1.0.0": manifest("a", "1.0.0", map[string]string{"x": "^2.0.0"})},
		"b": {"1.0.0": manifest("b", "1.0.0", map[string]string{"x": bRange})},
		"x": {"1.0.0": manifest("x", "1.0.0", nil), "2.0.0": manifest("x", "2.0.0", nil)},
	}
	latest := map[string]string{"a": "1.0.0", "b": "1.0.0", "x": "2.0.0"}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "-/ping" {
			w.Write([]byte("{}"))
			return
		}
		versions, ok := packuments[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":      name,
			"dist-tags": map[string]string{"latest": latest[name]},
			"versions":  versions,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writePackageJSON(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"),
		[]byte(`{"name": "app", "dependencies": {"a": "^1.0.0", "b": "^1.0.0"}}`), 0o644))
}

func TestCheckConflicts_ReportsConflict(t *testing.T) {
	srv := conflictRegistry(t, "^1.0.0")
	project := isolate(t, srv.URL)
	writePackageJSON(t, project)
	reportPath := filepath.Join(project, "conflicts.json")
	graphPath := filepath.Join(project, "conflicts.dot")
	runner := &recordingRunner{}

	err := execute(t, newTestCLI(runner), "check-conflicts", "-k", "npm", "--report", reportPath, "--graph", graphPath)
	var exit *ExitError
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, ExitFailure, exit.Code)
	assert.Empty(t, runner.installs(), "nothing is installed")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report struct {
		Kind      source.Kind `json:"kind"`
		Conflicts []struct {
			Package    string `json:"package"`
			RequiredBy string `json:"required_by"`
			Constraint string `json:"constraint"`
		} `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, source.KindNpm, report.Kind)
	var by []string
	for _, cf := range report.Conflicts {
		assert.Equal(t, "x", cf.Package)
		by = append(by, cf.RequiredBy)
	}
	assert.True(t, slices.Contains(by, "a") && slices.Contains(by, "b"), "required by: %v", by)

	dot, err := os.ReadFile(graphPath)
	require.NoError(t, err)
	assert.Contains(t, string(dot), "digraph")
	assert.Contains(t, string(dot), `"x" [label=`)
	assert.Contains(t, string(dot), "color=red", "the conflicting package is highlighted")
}

func TestCheckConflicts_Clean(t *testing.T) {
	srv := conflictRegistry(t, "^2.0.0")
	project := isolate(t, srv.URL)
	writePackageJSON(t, project)
	reportPath := filepath.Join(project, "conflicts.json")

	require.NoError(t, execute(t, newTestCLI(&recordingRunner{}), "check-conflicts", "-k", "npm", "--report", reportPath))
	assert.NoFileExists(t, reportPath)
}
