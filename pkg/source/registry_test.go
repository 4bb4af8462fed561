package source

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/smoothdeps/pkg/errors"
)

func mirror(name string, kind Kind, prio int) Source {
	return Source{Name: name, Kind: kind, URL: "https://" + name + ".example/simple", Priority: prio}
}

func TestRegistry_ListSortedByPriority(t *testing.T) {
	r, err := NewRegistry(
		mirror("b", KindPip, 2),
		mirror("a", KindPip, 1),
		mirror("c", KindPip, 2),
		mirror("n", KindNpm, 0),
	)
	require.NoError(t, err)

	var names []string
	for _, s := range r.List(KindPip) {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Len(t, r.List(""), 4)
	assert.Len(t, r.List(KindNpm), 1)
}

func TestRegistry_GetAndNotFound(t *testing.T) {
	r, err := NewRegistry(mirror("tsinghua", KindPip, 1))
	require.NoError(t, err)

	s, err := r.Get("tsinghua", KindPip)
	require.NoError(t, err)
	assert.Equal(t, "pip/tsinghua", s.Key())

	_, err = r.Get("tsinghua", KindNpm)
	assert.True(t, errors.Is(err, errors.ErrCodeSourceNotFound))
}

func TestRegistry_AddDuplicate(t *testing.T) {
	r, err := NewRegistry(mirror("tsinghua", KindPip, 1))
	require.NoError(t, err)

	err = r.Add(mirror("tsinghua", KindPip, 5))
	assert.True(t, errors.Is(err, errors.ErrCodeDuplicateSource))

	// Same name for a different kind is a different source.
	require.NoError(t, r.Add(mirror("tsinghua", KindNpm, 5)))
	assert.Len(t, r.List(""), 2)
}

func TestRegistry_AddValidates(t *testing.T) {
	r, _ := NewRegistry()

	tests := []struct {
		name string
		src  Source
	}{
		{"bad name", Source{Name: "Bad Name", Kind: KindPip, URL: "https://x"}},
		{"bad kind", Source{Name: "x", Kind: "cargo", URL: "https://x"}},
		{"bad url", Source{Name: "x", Kind: KindPip, URL: "ftp://x"}},
		{"negative priority", Source{Name: "x", Kind: KindPip, URL: "https://x", Priority: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, r.Add(tt.src))
		})
	}
}

func TestRegistry_Remove(t *testing.T) {
	r, _ := NewRegistry(mirror("a", KindPip, 1))
	require.NoError(t, r.Remove("a", KindPip))
	assert.Empty(t, r.List(KindPip))

	err := r.Remove("a", KindPip)
	assert.True(t, errors.Is(err, errors.ErrCodeSourceNotFound))
}

func TestOpen_MissingFileUsesPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	r, err := Open(path)
	require.NoError(t, err)

	assert.Len(t, r.List(""), len(Presets()))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "registry file should not be written until edited")

	pip := r.List(KindPip)
	require.NotEmpty(t, pip)
	assert.Equal(t, "pypi-tsinghua", pip[0].Name)
}

func TestOpen_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	r1, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r1.Add(mirror("corp", KindPip, 1)))
	require.NoError(t, r1.SetDisabled("pypi-aliyun", KindPip, true))
	require.NoError(t, r1.SetPriority("npm-official", KindNpm, 10))

	r2, err := Open(path)
	require.NoError(t, err)

	corp, err := r2.Get("corp", KindPip)
	require.NoError(t, err)
	assert.Equal(t, 1, corp.Priority)

	aliyun, _ := r2.Get("pypi-aliyun", KindPip)
	assert.True(t, aliyun.Disabled)

	npm, _ := r2.Get("npm-official", KindNpm)
	assert.Equal(t, 10, npm.Priority)
}

func TestRegistry_EditsFromOtherProcessesAreKept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	r1, _ := Open(path)
	r2, _ := Open(path)

	require.NoError(t, r1.Add(mirror("one", KindPip, 1)))
	require.NoError(t, r2.Add(mirror("two", KindPip, 2)))

	r3, err := Open(path)
	require.NoError(t, err)
	_, err = r3.Get("one", KindPip)
	assert.NoError(t, err)
	_, err = r3.Get("two", KindPip)
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	r, _ := Open(path)

	var wg sync.WaitGroup
	for _, name := range []string{"m1", "m2", "m3", "m4", "m5", "m6"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			assert.NoError(t, r.Add(mirror(name, KindNpm, 3)))
		}(name)
	}
	wg.Wait()

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, reopened.List(KindNpm), 2+6)
}

func TestOpen_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	dup := "sources:\n  - {name: a, kind: pip, url: https://a}\n  - {name: a, kind: pip, url: https://b}\n"
	require.NoError(t, os.WriteFile(path, []byte(dup), 0o644))

	_, err := Open(path)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidConfig))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("PIP")
	require.NoError(t, err)
	assert.Equal(t, KindPip, k)
	assert.Equal(t, "PIP", k.Ident())

	_, err = ParseKind("cargo")
	assert.Error(t, err)
}
