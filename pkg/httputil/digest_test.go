package httputil

import (
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseIntegrity(t *testing.T) {
	payload := []byte("left-pad")
	sha := sha512.Sum512(payload)
	sri := "sha512-" + base64.StdEncoding.EncodeToString(sha[:])

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"sha512", sri, hex.EncodeToString(sha[:]), false},
		{"strongest wins", "sha1-AAAA " + sri, hex.EncodeToString(sha[:]), false},
		{"unsupported only", "md5-abcd", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseIntegrity(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIntegrity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d.Hex != tt.want {
				t.Errorf("ParseIntegrity().Hex = %s, want %s", d.Hex, tt.want)
			}
		})
	}
}

func TestDigest_Verify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.tgz")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	good := SHA256("2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824")
	if err := good.Verify(path); err != nil {
		t.Errorf("Verify() = %v, want nil", err)
	}

	bad := SHA256("00")
	if err := bad.Verify(path); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Verify() = %v, want ErrDigestMismatch", err)
	}

	if err := (Digest{}).Verify(path); err != nil {
		t.Errorf("zero Digest.Verify() = %v, want nil", err)
	}

	got, err := FileSHA256(path)
	if err != nil || got != good.Hex {
		t.Errorf("FileSHA256() = %s, %v; want %s", got, err, good.Hex)
	}
}
