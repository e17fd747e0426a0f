// Package verify checks files against a checksum manifest.
//
// A manifest line is "<hex> <path>" or "<hex> <algorithm> <path>". Blank
// lines and lines starting with '#' are ignored. The two-space and "*path"
// forms written by GNU coreutils are accepted, so sha256sum output verifies
// as is. When a line names no algorithm the default is used, or one is
// inferred from the digest length.
package verify

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/agentuity/go-checksum/algorithm"
	"github.com/cockroachdb/errors"
)

// ErrMalformedManifest marks a manifest line that could not be parsed.
var ErrMalformedManifest = errors.New("malformed manifest")

// Entry is one expected digest.
type Entry struct {
	Line      int                 `json:"line"`
	Path      string              `json:"path"`
	Algorithm algorithm.Algorithm `json:"algorithm"`
	Digest    string              `json:"digest"`
}

// ParseManifest reads every entry in r. defaultAlg applies to lines without
// an algorithm column; empty infers from the digest length.
func ParseManifest(r io.Reader, defaultAlg string) ([]Entry, error) {
	var def algorithm.Algorithm
	if defaultAlg != "" {
		alg, err := algorithm.Resolve(defaultAlg)
		if err != nil {
			return nil, err
		}
		def = alg
	}
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var n int
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entry, err := parseLine(trimmed, def)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "line %d", n), ErrMalformedManifest)
		}
		entry.Line = n
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	return entries, nil
}

func parseLine(line string, def algorithm.Algorithm) (Entry, error) {
	digest, rest, ok := strings.Cut(line, " ")
	if !ok {
		return Entry{}, errors.New("expected a digest and a path")
	}
	if _, err := hex.DecodeString(digest); err != nil || digest == "" {
		return Entry{}, errors.Newf("digest %q is not hex", digest)
	}
	digest = strings.ToLower(digest)

	var alg algorithm.Algorithm
	var path string
	switch {
	case strings.HasPrefix(rest, " "), strings.HasPrefix(rest, "*"):
		// coreutils text and binary mode markers
		path = strings.TrimPrefix(strings.TrimPrefix(rest, " "), "*")
	default:
		first, tail, hasTail := strings.Cut(rest, " ")
		if named, err := algorithm.Resolve(first); err == nil && hasTail {
			alg = named
			path = strings.TrimPrefix(strings.TrimLeft(tail, " "), "*")
		} else {
			path = rest
		}
	}
	if path == "" {
		return Entry{}, errors.New("missing path")
	}

	if alg == 0 {
		alg = def
	}
	if alg == 0 {
		inferred, ok := algorithm.ForDigestLength(len(digest))
		if !ok {
			return Entry{}, errors.Newf("cannot infer an algorithm for a %d character digest", len(digest))
		}
		alg = inferred
	}
	if want := alg.DigestSize() * 2; want != len(digest) {
		return Entry{}, errors.Newf("%s digest must be %d characters, got %d", alg, want, len(digest))
	}
	return Entry{Path: path, Algorithm: alg, Digest: digest}, nil
}

// Format renders e as a manifest line that ParseManifest reads back.
func (e Entry) Format() string {
	return fmt.Sprintf("%s %s %s", e.Digest, e.Algorithm, e.Path)
}
