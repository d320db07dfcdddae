// Package digest maps configured algorithm names to hash constructors and
// compares hex digests the way stored checksum properties are compared.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// ErrUnsupported is returned by Lookup for an unknown algorithm name.
var ErrUnsupported = errors.New("unsupported digest algorithm")

// Algorithm is a named digest constructor.
type Algorithm struct {
	Name string
	New  func() hash.Hash
}

var algorithms = map[string]Algorithm{
	"MD5":    {Name: "MD5", New: md5.New},
	"SHA1":   {Name: "SHA-1", New: sha1.New},
	"SHA256": {Name: "SHA-256", New: sha256.New},
	"SHA512": {Name: "SHA-512", New: sha512.New},
	"BLAKE3": {Name: "BLAKE3", New: func() hash.Hash { return blake3.New() }},
}

func normalize(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "-", "")
	return strings.ReplaceAll(name, "_", "")
}

// Lookup returns the algorithm for name. Matching ignores case, dashes
// and underscores, so "sha-256", "SHA256" and "sha_256" are the same.
func Lookup(name string) (Algorithm, error) {
	if strings.TrimSpace(name) == "" {
		return Algorithm{}, fmt.Errorf("%w: no algorithm configured", ErrUnsupported)
	}
	alg, ok := algorithms[normalize(name)]
	if !ok {
		return Algorithm{}, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return alg, nil
}

// Names lists the canonical names of all supported algorithms.
func Names() []string {
	names := make([]string, 0, len(algorithms))
	for _, alg := range algorithms {
		names = append(names, alg.Name)
	}
	sort.Strings(names)
	return names
}

// Hex returns the lowercase hex encoding of h's current sum.
func Hex(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Sum streams r through a new hash of alg and returns the lowercase hex
// digest and the number of bytes read.
func (a Algorithm) Sum(r io.Reader) (string, int64, error) {
	h := a.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return Hex(h), n, nil
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
