package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2.31.0", "2.31.0"},
		{"v1.2.3", "1.2.3"},
		{"1.2", "1.2.0"},
		{"3", "3.0.0"},
		{"1.2rc1", "1.2.0-rc.1"},
		{"1.2.0a3", "1.2.0-a.3"},
		{"1.2b", "1.2.0-b.0"},
		{"1.2.dev4", "1.2.0-0.dev.4"},
		{"1.2.post1", "1.2.0+post.1"},
		{"1!2.0", "2.0.0"},
		{"1.2.3.4", "1.2.3+r.4"},
		{"1.0.0-beta.2", "1.0.0-beta.2"},
		{"1.0+ubuntu-1", "1.0.0+ubuntu.1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}

	_, err := ParseVersion("not-a-version")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidVersionSpec))
}

func TestPEP440PreReleaseOrdering(t *testing.T) {
	ordered := []string{"1.0.dev1", "1.0a1", "1.0b2", "1.0rc1", "1.0", "1.1"}
	for i := 1; i < len(ordered); i++ {
		assert.Negative(t, Compare(ordered[i-1], ordered[i]), "%s < %s", ordered[i-1], ordered[i])
	}
}

func TestParsePEP440(t *testing.T) {
	tests := []struct {
		spec  string
		allow []string
		deny  []string
	}{
		{"", []string{"0.1", "99"}, nil},
		{"==2.31.0", []string{"2.31.0", "2.31"}, []string{"2.31.1"}},
		{"2.31.0", []string{"2.31.0"}, []string{"2.30.0"}},
		{">=2.0", []string{"2.0", "3.1"}, []string{"1.9.9"}},
		{">=2.0,<3", []string{"2.5"}, []string{"3.0", "1.0"}},
		{"<2.0", []string{"1.99"}, []string{"2.0"}},
		{">1.0, <=1.5", []string{"1.5", "1.0.1"}, []string{"1.0", "1.6"}},
		{"!=1.3", []string{"1.2", "1.4"}, []string{"1.3.0"}},
		{"==1.2.*", []string{"1.2.0", "1.2.9"}, []string{"1.3.0", "1.1.9"}},
		{"!=1.2.*", []string{"1.3.0", "1.1.9"}, []string{"1.2.5"}},
		{"==1.*", []string{"1.9"}, []string{"2.0"}},
		{"~=1.4.5", []string{"1.4.5", "1.4.9"}, []string{"1.5.0", "1.4.4"}},
		{"~=2.2", []string{"2.2", "2.9"}, []string{"3.0", "2.1"}},
		{"===1.0", []string{"1.0"}, []string{"1.0.1"}},
		{">= 1.0 , != 1.5", []string{"1.4", "1.6"}, []string{"1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParsePEP440(tt.spec)
			require.NoError(t, err)
			for _, v := range tt.allow {
				assert.True(t, s.Allows(v), "%q should allow %s", tt.spec, v)
			}
			for _, v := range tt.deny {
				assert.False(t, s.Allows(v), "%q should deny %s", tt.spec, v)
			}
		})
	}
}

func TestParsePEP440Invalid(t *testing.T) {
	for _, spec := range []string{"~=1", ">=1.*", "=>1.0", ">=", "1 .0"} {
		_, err := ParsePEP440(spec)
		assert.True(t, errors.Is(err, errors.ErrCodeInvalidVersionSpec), "spec %q: %v", spec, err)
	}
}

func TestParseNpm(t *testing.T) {
	tests := []struct {
		spec  string
		allow []string
		deny  []string
	}{
		{"*", []string{"0.0.1", "9.9.9"}, nil},
		{"latest", []string{"1.0.0"}, nil},
		{"1.2.3", []string{"1.2.3"}, []string{"1.2.4"}},
		{"^1.2.3", []string{"1.2.3", "1.9.0"}, []string{"2.0.0", "1.2.2"}},
		{"^0.2.3", []string{"0.2.9"}, []string{"0.3.0"}},
		{"^0.0.3", []string{"0.0.3"}, []string{"0.0.4"}},
		{"^0.x", []string{"0.9.0"}, []string{"1.0.0"}},
		{"~1.2.3", []string{"1.2.9"}, []string{"1.3.0"}},
		{"~1", []string{"1.9.0"}, []string{"2.0.0"}},
		{"1.x", []string{"1.0.0", "1.99.0"}, []string{"2.0.0"}},
		{"1.2", []string{"1.2.7"}, []string{"1.3.0"}},
		{">=1.2.7 <1.3.0", []string{"1.2.8"}, []string{"1.3.0", "1.2.6"}},
		{">= 1.2.7 < 1.3.0", []string{"1.2.8"}, []string{"1.3.0"}},
		{"1.2.7 || >=1.2.9 <2.0.0", []string{"1.2.7", "1.4.6"}, []string{"1.2.8", "2.0.0"}},
		{"1.2.3 - 2.3.4", []string{"1.2.3", "2.3.4"}, []string{"2.3.5"}},
		{"1.2 - 2.3", []string{"1.2.0", "2.3.9"}, []string{"2.4.0"}},
		{">1.2", []string{"1.3.0"}, []string{"1.2.9"}},
		{"<=1.2", []string{"1.2.9"}, []string{"1.3.0"}},
		{"^17.0.0", []string{"17.0.2"}, []string{"18.2.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			s, err := ParseNpm(tt.spec)
			require.NoError(t, err)
			for _, v := range tt.allow {
				assert.True(t, s.Allows(v), "%q should allow %s", tt.spec, v)
			}
			for _, v := range tt.deny {
				assert.False(t, s.Allows(v), "%q should deny %s", tt.spec, v)
			}
		})
	}
}

func TestParseNpmInvalid(t *testing.T) {
	_, err := ParseNpm("^1.2.3.4")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidVersionSpec))
	_, err = ParseNpm(">=1.a")
	assert.Error(t, err)
}

func TestIntersect(t *testing.T) {
	ge2, _ := ParsePEP440(">=2.0")
	lt2, _ := ParsePEP440("<2.0")
	assert.True(t, ge2.Intersect(lt2).Empty())
	assert.False(t, ge2.Overlaps(lt2))

	lt3, _ := ParsePEP440("<3")
	both := ge2.Intersect(lt3)
	assert.False(t, both.Empty())
	assert.Equal(t, ">=2.0.0,<3.0.0", both.Canonical())

	point, _ := ParsePEP440("==2.0")
	assert.False(t, ge2.Intersect(point).Empty())
	open, _ := ParsePEP440(">2.0")
	assert.True(t, open.Intersect(point).Empty())
}

func TestUnionMerges(t *testing.T) {
	s, err := ParseNpm("<1.0.0 || >=1.0.0")
	require.NoError(t, err)
	assert.True(t, s.IsAny())

	ne, _ := ParsePEP440("!=1.0")
	assert.Len(t, ne.Intervals(), 2)
}

func TestExactAndBounds(t *testing.T) {
	s, _ := Parse(source.KindPip, "==2.31.0")
	v, ok := s.Exact()
	require.True(t, ok)
	assert.Equal(t, "2.31.0", v.String())

	r, _ := Parse(source.KindNpm, "^1.2.0")
	_, ok = r.Exact()
	assert.False(t, ok)
	var bounds []string
	for _, b := range r.Bounds() {
		bounds = append(bounds, b.String())
	}
	assert.Equal(t, []string{"1.2.0", "2.0.0"}, bounds)

	_, err := Parse("cargo", "1")
	assert.Error(t, err)
}

func TestLatest(t *testing.T) {
	versions := []string{"1.0.0", "2.0.0rc1", "1.5.0", "garbage", "0.9"}

	s, _ := ParsePEP440(">=1.0")
	got, ok := Latest(s, versions)
	require.True(t, ok)
	assert.Equal(t, "1.5.0", got)

	pre, _ := ParsePEP440(">=2.0.dev0")
	got, ok = Latest(pre, versions)
	require.True(t, ok)
	assert.Equal(t, "2.0.0rc1", got)

	none, _ := ParsePEP440(">5")
	_, ok = Latest(none, versions)
	assert.False(t, ok)
}

func TestSort(t *testing.T) {
	v := []string{"1.10.0", "1.2.0", "1.9.0rc1", "1.9.0"}
	Sort(v)
	assert.Equal(t, []string{"1.2.0", "1.9.0rc1", "1.9.0", "1.10.0"}, v)
}
