// Package algorithm is the registry of digest algorithms the checksum engine
// can compute. The set is closed: every algorithm is a constant of type
// [Algorithm] and maps to exactly one incremental hash constructor.
package algorithm

import (
	"crypto/md5"  //nolint:gosec // checksums, not signatures
	"crypto/sha1" //nolint:gosec // checksums, not signatures
	"crypto/sha256"
	"crypto/sha512"
	"hash"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrUnknownAlgorithm is returned when a name is not in the allow-list.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")
	// ErrUnavailableAlgorithm is returned when an allow-listed algorithm
	// cannot be constructed by the crypto backend of this build.
	ErrUnavailableAlgorithm = errors.New("algorithm unavailable")
)

// Algorithm identifies a digest algorithm.
type Algorithm uint8

const (
	MD5 Algorithm = iota + 1
	SHA1
	SHA224
	SHA256
	SHA384
	SHA512
	BLAKE2b
	BLAKE2s
	SHA3_224
	SHA3_256
	SHA3_384
	SHA3_512
)

type entry struct {
	name string
	size int
	new  func() (hash.Hash, error)
}

func infallible(fn func() hash.Hash) func() (hash.Hash, error) {
	return func() (hash.Hash, error) { return fn(), nil }
}

var registry = map[Algorithm]entry{
	MD5:      {"md5", md5.Size, infallible(md5.New)},
	SHA1:     {"sha1", sha1.Size, infallible(sha1.New)},
	SHA224:   {"sha224", sha256.Size224, infallible(sha256.New224)},
	SHA256:   {"sha256", sha256.Size, infallible(sha256.New)},
	SHA384:   {"sha384", sha512.Size384, infallible(sha512.New384)},
	SHA512:   {"sha512", sha512.Size, infallible(sha512.New)},
	BLAKE2b:  {"blake2b", blake2b.Size, func() (hash.Hash, error) { return blake2b.New512(nil) }},
	BLAKE2s:  {"blake2s", blake2s.Size, func() (hash.Hash, error) { return blake2s.New256(nil) }},
	SHA3_224: {"sha3-224", 28, infallible(sha3.New224)},
	SHA3_256: {"sha3-256", 32, infallible(sha3.New256)},
	SHA3_384: {"sha3-384", 48, infallible(sha3.New384)},
	SHA3_512: {"sha3-512", 64, infallible(sha3.New512)},
}

// aliases maps accepted spellings that normalize() does not already fold
// onto a canonical name.
var aliases = map[string]string{
	"blake2b-512": "blake2b",
	"blake2s-256": "blake2s",
	"sha-1":       "sha1",
	"sha-224":     "sha224",
	"sha-256":     "sha256",
	"sha-384":     "sha384",
	"sha-512":     "sha512",
}

// String returns the canonical lowercase name.
func (a Algorithm) String() string {
	if e, ok := registry[a]; ok {
		return e.name
	}
	return "unknown"
}

// Name is an alias of String, for callers rendering algorithm tables.
func (a Algorithm) Name() string {
	return a.String()
}

// DigestSize returns the digest length in bytes, or 0 for an invalid value.
func (a Algorithm) DigestSize() int {
	return registry[a].size
}

// Available reports whether the backend can construct this algorithm right now.
func (a Algorithm) Available() bool {
	e, ok := registry[a]
	if !ok {
		return false
	}
	return probe(e)
}

// New returns a fresh incremental accumulator for the algorithm.
func (a Algorithm) New() (h hash.Hash, err error) {
	e, ok := registry[a]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownAlgorithm, "algorithm %d", uint8(a))
	}
	// FIPS-only builds panic when constructing non-approved digests.
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = errors.Wrapf(ErrUnavailableAlgorithm, "%s: %v", e.name, r)
		}
	}()
	h, err = e.new()
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s", e.name), ErrUnavailableAlgorithm)
	}
	return h, nil
}

func probe(e entry) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	h, err := e.new()
	return err == nil && h != nil && h.Size() == e.size
}

func normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	if alias, ok := aliases[n]; ok {
		return alias
	}
	return n
}

func lookup(name string) (Algorithm, bool) {
	n := normalize(name)
	for a, e := range registry {
		if e.name == n {
			return a, true
		}
	}
	return 0, false
}

// All returns every allow-listed algorithm, available or not, sorted by name.
func All() []Algorithm {
	all := make([]Algorithm, 0, len(registry))
	for a := range registry {
		all = append(all, a)
	}
	slices.SortFunc(all, func(x, y Algorithm) int { return strings.Compare(x.String(), y.String()) })
	return all
}

// List returns the allow-listed algorithms the backend currently supports,
// sorted by name.
func List() []Algorithm {
	return slices.DeleteFunc(All(), func(a Algorithm) bool { return !a.Available() })
}

// IsKnown reports whether name spells an allow-listed algorithm.
func IsKnown(name string) bool {
	_, ok := lookup(name)
	return ok
}

// IsAvailable reports whether name is allow-listed and supported. It never
// returns an error or panics.
func IsAvailable(name string) bool {
	a, ok := lookup(name)
	return ok && a.Available()
}

// Resolve maps a user supplied name onto an Algorithm. A name outside the
// allow-list fails with ErrUnknownAlgorithm; an allow-listed name the
// backend cannot construct fails with ErrUnavailableAlgorithm.
func Resolve(name string) (Algorithm, error) {
	a, ok := lookup(name)
	if !ok {
		return 0, errors.Wrapf(ErrUnknownAlgorithm, "%q", name)
	}
	if !a.Available() {
		return 0, errors.Wrapf(ErrUnavailableAlgorithm, "%q", name)
	}
	return a, nil
}

// ForDigestLength guesses the algorithm that produced a hex digest of the
// given length. Only the unambiguous SHA-1/SHA-2 and MD5 lengths are mapped;
// SHA-3 and BLAKE2 digests must be named explicitly.
func ForDigestLength(hexLen int) (Algorithm, bool) {
	switch hexLen {
	case 2 * md5.Size:
		return MD5, true
	case 2 * sha1.Size:
		return SHA1, true
	case 2 * sha256.Size224:
		return SHA224, true
	case 2 * sha256.Size:
		return SHA256, true
	case 2 * sha512.Size384:
		return SHA384, true
	case 2 * sha512.Size:
		return SHA512, true
	}
	return 0, false
}

// MarshalText renders the canonical name, so digests encode as
// {"algorithm":"sha256"} rather than a number.
func (a Algorithm) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts any spelling Resolve accepts.
func (a *Algorithm) UnmarshalText(text []byte) error {
	v, err := Resolve(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
