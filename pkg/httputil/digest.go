package httputil

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// ErrDigestMismatch is returned when downloaded content does not match the
// digest published by the registry.
var ErrDigestMismatch = errors.New("digest mismatch")

// Digest is an expected content hash. The zero value verifies nothing.
type Digest struct {
	Algorithm string // "sha256", "sha512" or "sha1"
	Hex       string // lowercase hex encoding
}

// SHA256 returns a sha256 digest from its hex form, as published by PEP 691
// "hashes" maps.
func SHA256(hexValue string) Digest {
	return Digest{Algorithm: "sha256", Hex: strings.ToLower(hexValue)}
}

// SHA1 returns a sha1 digest, as published in npm "dist.shasum".
func SHA1(hexValue string) Digest {
	return Digest{Algorithm: "sha1", Hex: strings.ToLower(hexValue)}
}

// ParseIntegrity parses a Subresource Integrity string such as
// "sha512-<base64>" (npm "dist.integrity"). When several hashes are listed
// the strongest supported one wins.
func ParseIntegrity(s string) (Digest, error) {
	var best Digest
	for _, field := range strings.Fields(s) {
		algo, b64, ok := strings.Cut(field, "-")
		if !ok {
			continue
		}
		if _, err := newHash(algo); err != nil {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return Digest{}, fmt.Errorf("decode integrity %q: %w", field, err)
		}
		d := Digest{Algorithm: algo, Hex: hex.EncodeToString(raw)}
		if strength(d.Algorithm) > strength(best.Algorithm) {
			best = d
		}
	}
	if best.IsZero() {
		return Digest{}, fmt.Errorf("no supported hash in integrity %q", s)
	}
	return best, nil
}

// IsZero reports whether d carries no expectation.
func (d Digest) IsZero() bool { return d.Hex == "" }

func (d Digest) String() string {
	if d.IsZero() {
		return "none"
	}
	return d.Algorithm + ":" + d.Hex
}

// Verify hashes the file at path and compares it against d.
func (d Digest) Verify(path string) error {
	if d.IsZero() {
		return nil
	}
	h, err := newHash(d.Algorithm)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != d.Hex {
		return fmt.Errorf("%w: %s: want %s, got %s", ErrDigestMismatch, d.Algorithm, d.Hex, got)
	}
	return nil
}

// FileSHA256 returns the hex sha256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "sha1":
		return sha1.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
}

func strength(algo string) int {
	switch algo {
	case "sha512":
		return 3
	case "sha256":
		return 2
	case "sha1":
		return 1
	}
	return 0
}
